package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/browser"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
	"github.com/Darunesh1/tds-quiz-solver/internal/solver"
)

// solveCMD runs one quiz chain to completion without the HTTP front
// door. Useful for local runs and debugging.
func solveCMD() *cobra.Command {
	var cfgPath, email, secret, startURL string
	var solve = &cobra.Command{
		Use:   "solve",
		Short: "Solve one quiz chain from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || startURL == "" {
				return fmt.Errorf("--email and --url are required")
			}
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Server.QuizSecret
			}

			llmClient, err := llm.New(cfg.LLM)
			if err != nil {
				return fmt.Errorf("building llm client: %w", err)
			}
			loader := browser.NewLoader(cfg.Browser.Timeout, cfg.Browser.MaxChars, cfg.Browser.Headless)

			jobID := uuid.NewString()
			factory := solver.NewRoundFactory(solver.RoundConfig{
				JobID:         jobID,
				Email:         email,
				Secret:        secret,
				LLM:           llmClient,
				Loader:        loader,
				WorkspaceBase: filepath.Join(cfg.General.DataDir, "quiz-jobs"),
				Solver:        cfg.Solver,
				Tools:         cfg.Tools,
			})

			runner := solver.NewChainRunner(cfg.Solver.MaxRounds, factory)
			rounds, err := runner.Run(cmd.Context(), startURL)
			if err != nil {
				return fmt.Errorf("job %s failed after %d round(s): %w", jobID, rounds, err)
			}
			log.Printf("job %s finished after %d round(s)", jobID, rounds)
			return nil
		},
	}
	solve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	solve.Flags().StringVar(&email, "email", "", "student email address")
	solve.Flags().StringVar(&secret, "secret", "", "quiz secret (default from config)")
	solve.Flags().StringVar(&startURL, "url", "", "first question URL")

	return solve
}
