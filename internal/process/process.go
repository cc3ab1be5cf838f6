// Package process runs external programs for the run condition and action:
// timeout enforcement with a kill, bounded output capture and exit code
// extraction.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rendis/macrocore/pkg/schema"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxOutputSize = 1024 * 1024
	waitDelay            = 5 * time.Second
)

// Spec describes one invocation.
type Spec struct {
	Path    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	// MaxOutputSize caps captured stdout and stderr each. Zero uses
	// DefaultMaxOutputSize.
	MaxOutputSize int64
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Killed is set when the timeout expired and the process was killed.
	Killed bool
}

// Run starts the process and waits for it. A non-zero exit code is not an
// error; failing to start is. Cancelling ctx kills the process.
func Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Path == "" {
		return Result{}, schema.NewError(schema.ErrCodeValidation, "process path is empty")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, schema.NewError(schema.ErrCodeCancelled, "process not started").WithCause(err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := spec.MaxOutputSize
	if limit <= 0 {
		limit = DefaultMaxOutputSize
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return killProcessGroup(cmd.Process)
		}
		return nil
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: limit}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: limit}

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return res, schema.NewErrorf(schema.ErrCodeExecution, "run %s: %v", spec.Path, runErr).WithCause(runErr)
	}
	res.ExitCode = exitErr.ExitCode()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.Killed = true
	}
	return res, nil
}

// limitedWriter discards bytes past limit but reports them as written so
// the child never blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return total, err
}
