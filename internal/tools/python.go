package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runCode executes Python code inside the job workspace with a bounded
// runtime. Stdout and stderr are both returned so the model can see
// tracebacks.
func (r *Registry) runCode(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	code, err := stringArg(args, "code")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty code")
	}

	if err := os.MkdirAll(r.workdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	script := filepath.Join(r.workdir, "snippet.py")
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("writing script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunCodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.PythonBin, script)
	cmd.Dir = r.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("code execution timed out after %s", r.cfg.RunCodeTimeout)
		} else {
			return nil, fmt.Errorf("running code: %w", runErr)
		}
	}

	return map[string]interface{}{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}

// addDependencies installs Python packages via pip. Already-satisfied
// packages are a no-op for pip, so repeats are harmless.
func (r *Registry) addDependencies(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	packages, err := stringSliceArg(args, "packages")
	if err != nil {
		return nil, err
	}
	if len(packages) == 0 {
		return map[string]interface{}{"requested": []string{}, "installed": []string{}}, nil
	}
	for _, pkg := range packages {
		if strings.ContainsAny(pkg, " ;&|$`") {
			return nil, fmt.Errorf("invalid package name %q", pkg)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunCodeTimeout)
	defer cancel()

	pipArgs := append([]string{"-m", "pip", "install", "--quiet"}, packages...)
	cmd := exec.CommandContext(ctx, r.cfg.PythonBin, pipArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pip install failed: %v: %s", err, strings.TrimSpace(out.String()))
	}

	r.logger.Printf("job %s: installed packages %v", r.jobID, packages)
	return map[string]interface{}{
		"requested": packages,
		"installed": packages,
	}, nil
}

// listInstalledPackages reports the packages visible to the run_code
// interpreter.
func (r *Registry) listInstalledPackages(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunCodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.PythonBin, "-m", "pip", "list", "--format=freeze")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pip list failed: %w", err)
	}

	var packages []string
	for _, line := range strings.Split(out.String(), "\n") {
		name, _, ok := strings.Cut(strings.TrimSpace(line), "==")
		if ok && name != "" {
			packages = append(packages, strings.ToLower(name))
		}
	}
	return map[string]interface{}{"packages": packages}, nil
}
