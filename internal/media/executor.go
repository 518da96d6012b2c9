package media

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ExecResult holds the outcome of a single tool invocation.
type ExecResult struct {
	Stderr string
	Err    error
}

// Runner starts a program and waits for it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ExecResult
}

// ExecRunner runs programs with os/exec, capturing stderr.
type ExecRunner struct {
	Log *zap.Logger
}

// Run executes name with args and returns once it exits.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ExecResult {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Debug("tool finished",
		zap.String("tool", name),
		zap.Strings("args", args),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return ExecResult{Stderr: stderr.String(), Err: err}
}
