package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/macrocore/internal/process"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	RunConditionID = "run"
	RunActionID    = "run"
)

// ProcessConfig is the process invocation shared by the run condition and
// action.
type ProcessConfig struct {
	Path    variables.Text   `json:"path"`
	Args    []variables.Text `json:"args,omitempty"`
	Dir     string           `json:"workingDirectory,omitempty"`
	Timeout variables.Text   `json:"timeout"`
}

func defaultProcessConfig() ProcessConfig {
	return ProcessConfig{Timeout: variables.NewText(process.DefaultTimeout.String())}
}

func (p ProcessConfig) spec(r segment.Resolver) (process.Spec, error) {
	path, err := p.Path.Value(r)
	if err != nil {
		return process.Spec{}, err
	}
	args := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		v, err := a.Value(r)
		if err != nil {
			return process.Spec{}, err
		}
		args = append(args, v)
	}
	spec := process.Spec{Path: strings.TrimSpace(path), Args: args, Dir: p.Dir}

	raw, err := p.Timeout.Value(r)
	if err != nil {
		return process.Spec{}, err
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return process.Spec{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid process timeout %q", raw).WithCause(err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

func (p *ProcessConfig) fix(r segment.Resolver) error {
	if err := p.Path.Fix(r); err != nil {
		return err
	}
	for i := range p.Args {
		if err := p.Args[i].Fix(r); err != nil {
			return err
		}
	}
	return p.Timeout.Fix(r)
}

// Process statuses exposed through the status temp variable.
const (
	StatusOK      = "OK"
	StatusTimeout = "TIMEOUT"
	StatusError   = "ERROR"
)

// RunCondition starts a process in the background and matches once it
// finishes with the expected exit code and output. It is false while the
// process is running; the next check after a result starts a new process.
type RunCondition struct {
	segment.ConditionBase
	ProcessConfig
	CheckExitCode bool           `json:"checkExitCode,omitempty"`
	ExitCode      variables.Text `json:"exitCode"`
	CheckOutput   bool           `json:"checkOutput,omitempty"`
	Output        variables.Text `json:"output"`
	Regex         bool           `json:"regex,omitempty"`

	d       *Deps
	mu      sync.Mutex
	running bool
	result  *process.Result
	runErr  error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newRunCondition(d *Deps, o segment.Owner) *RunCondition {
	c := &RunCondition{
		ConditionBase: segment.NewConditionBase(RunConditionID, o),
		ProcessConfig: defaultProcessConfig(),
		ExitCode:      variables.NewText("0"),
		d:             d,
	}
	c.TempVars().Declare("status", "Status", "OK, TIMEOUT or ERROR")
	c.TempVars().Declare("exitCode", "Exit code", "Exit code of the process")
	c.TempVars().Declare("stdout", "Output", "Standard output of the process")
	c.TempVars().Declare("stderr", "Error output", "Standard error of the process")
	return c
}

func (c *RunCondition) Check(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return false, nil
	}
	res, runErr := c.result, c.runErr
	c.result, c.runErr = nil, nil
	c.mu.Unlock()

	if res == nil && runErr == nil {
		return false, c.start(ctx)
	}
	if runErr != nil {
		c.TempVars().Set("status", StatusError)
		return false, runErr
	}

	c.TempVars().Set("exitCode", strconv.Itoa(res.ExitCode))
	c.TempVars().Set("stdout", res.Stdout)
	c.TempVars().Set("stderr", res.Stderr)
	if res.Killed {
		c.TempVars().Set("status", StatusTimeout)
		return false, nil
	}
	c.TempVars().Set("status", StatusOK)

	r := c.d.resolver()
	if c.CheckExitCode {
		want, err := c.ExitCode.Int(r)
		if err != nil {
			return false, err
		}
		if res.ExitCode != want {
			return false, nil
		}
	}
	if c.CheckOutput {
		want, err := c.Output.Value(r)
		if err != nil {
			return false, err
		}
		return matchText(want, strings.TrimRight(res.Stdout, "\r\n"), c.Regex)
	}
	return true, nil
}

func (c *RunCondition) start(ctx context.Context) error {
	spec, err := c.spec(c.d.resolver())
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	logger := c.d.logger(ctx)
	go func() {
		defer c.wg.Done()
		defer cancel()
		res, err := process.Run(runCtx, spec)
		if err != nil {
			logger.Warn("process failed", slog.String("path", spec.Path), slog.String("error", err.Error()))
		}

		c.mu.Lock()
		c.running = false
		if err != nil {
			c.runErr = err
		} else {
			c.result = &res
		}
		c.mu.Unlock()
	}()
	return nil
}

// Close kills a running process and waits for it to exit.
func (c *RunCondition) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *RunCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if err := c.fix(r); err != nil {
		return err
	}
	if err := c.ExitCode.Fix(r); err != nil {
		return err
	}
	return c.Output.Fix(r)
}

func (c *RunCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *RunCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *RunCondition) ShortDesc() string               { return c.Path.Raw }

// RunAction starts a process. With Wait set the action blocks until the
// process exits and is abortable; otherwise the process runs on the worker
// pool and the action returns immediately.
type RunAction struct {
	segment.ActionBase
	ProcessConfig
	Wait bool `json:"wait,omitempty"`

	d *Deps
}

func newRunAction(d *Deps, o segment.Owner) *RunAction {
	return &RunAction{
		ActionBase:    segment.NewActionBase(RunActionID, o),
		ProcessConfig: defaultProcessConfig(),
		d:             d,
	}
}

func (a *RunAction) Perform(ctx context.Context) (bool, error) {
	spec, err := a.spec(a.d.resolver())
	if err != nil {
		return false, err
	}
	logger := a.d.logger(ctx)

	if !a.Wait {
		task := func(ctx context.Context) error {
			res, err := process.Run(ctx, spec)
			if err != nil {
				return err
			}
			logger.Debug("process finished", slog.String("path", spec.Path), slog.Int("exit_code", res.ExitCode), slog.Bool("killed", res.Killed))
			return nil
		}
		if a.d.Pool == nil {
			go func() { _ = task(context.Background()) }()
			return true, nil
		}
		if err := a.d.Pool.TrySubmit(context.Background(), "run "+spec.Path, task); err != nil {
			logger.Warn("process not started", slog.String("path", spec.Path), slog.String("error", err.Error()))
		}
		return true, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		done     atomic.Bool
		res      process.Result
		runErr   error
		finished = make(chan struct{})
	)
	go func() {
		defer close(finished)
		res, runErr = process.Run(runCtx, spec)
		done.Store(true)
		a.d.Waiter.Broadcast()
	}()

	if a.d.Waiter.Wait(ctx, a.Owner(), 0, done.Load) != segment.WaitDone {
		cancel()
		<-finished
		return false, nil
	}
	<-finished
	if runErr != nil {
		return false, runErr
	}
	logger.Debug("process finished", slog.String("path", spec.Path), slog.Int("exit_code", res.ExitCode), slog.Bool("killed", res.Killed))
	return !res.Killed, nil
}

func (a *RunAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.fix(r)
}

func (a *RunAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *RunAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *RunAction) ShortDesc() string               { return a.Path.Raw }
