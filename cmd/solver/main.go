package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "quizsolver"}

	root.AddCommand(serveCMD(), solveCMD())
	_ = root.Execute()
}
