// Package scheduler drives macro evaluation. The Switcher owns every
// runtime collaborator, holds the switcher lock for each tick and for every
// structural change, and registers the periodic tick with the host.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/macrocore/internal/builtin"
	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/queue"
	"github.com/rendis/macrocore/internal/script"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/internal/worker"
	"github.com/rendis/macrocore/pkg/schema"
)

// DefaultInterval is the tick interval when none is configured.
const DefaultInterval = 300 * time.Millisecond

// Options configure a Switcher. Zero values get defaults.
type Options struct {
	Host     host.Host
	Clock    clock.Clock
	Logger   *slog.Logger
	Events   streaming.Hub
	Interval time.Duration
	PoolSize int
	MaxDepth int
	// WakeInterval bounds how long waiting segments sleep between checks
	// of the stop and abort flags.
	WakeInterval time.Duration
}

// Switcher is the runtime context of the macro system.
type Switcher struct {
	host     host.Host
	clock    clock.Clock
	logger   *slog.Logger
	events   streaming.Hub
	pool     *worker.Pool
	waiter   *segment.Waiter
	registry *segment.Registry
	vars     *variables.Store
	env      *macro.Env
	macros   *macro.Collection
	queues   *queue.Registry
	scripts  *script.Handler
	deps     *builtin.Deps

	// mu is the switcher lock.
	mu        sync.Mutex
	interval  time.Duration
	started   bool
	firstTick bool
	ticks     uint64

	stateMu sync.Mutex
}

// New creates a stopped Switcher with every built-in type registered.
func New(opts Options) (*Switcher, error) {
	if opts.Host == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "switcher needs a host")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Events == nil {
		opts.Events = streaming.NewMemoryHub()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}

	s := &Switcher{
		host:     opts.Host,
		clock:    opts.Clock,
		logger:   opts.Logger,
		events:   opts.Events,
		pool:     worker.New(opts.PoolSize, opts.Logger),
		waiter:   segment.NewWaiter(opts.WakeInterval),
		registry: segment.NewRegistry(opts.Logger),
		interval: opts.Interval,
	}
	s.vars = variables.NewStore(s.clock, expressions.NewExprEngine(), s.logger)
	s.vars.SetOnChange(func(name, previous, value string) {
		s.publish(schema.EventVariableSet, "", map[string]any{"name": name, "previous": previous, "value": value})
	})

	s.env = &macro.Env{
		Registry: s.registry,
		Clock:    s.clock,
		Logger:   s.logger,
		Events:   s.events,
		Pool:     s.pool,
		Waiter:   s.waiter,
		Resolver: s.vars,
		MaxDepth: opts.MaxDepth,
	}
	s.macros = macro.NewCollection(s.env)
	s.queues = queue.NewRegistry(queue.Deps{
		Registry: s.registry,
		Resolver: s.vars,
		Clock:    s.clock,
		Logger:   s.logger,
		Events:   s.events,
	})
	s.scripts = script.NewHandler(s.registry, s.waiter, s.events, s.clock, s.logger)

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "create CEL engine").WithCause(err)
	}
	s.deps = &builtin.Deps{
		Host:      s.host,
		Macros:    s.macros,
		Queues:    s.queues,
		Variables: s.vars,
		CEL:       cel,
		JQ:        expressions.NewGoJQEngine(),
		Waiter:    s.waiter,
		Pool:      s.pool,
		Clock:     s.clock,
		Logger:    s.logger,
	}
	if !builtin.Register(s.registry, s.deps) {
		return nil, schema.NewError(schema.ErrCodeConflict, "built-in segment types already registered")
	}
	return s, nil
}

func (s *Switcher) Host() host.Host             { return s.host }
func (s *Switcher) Clock() clock.Clock          { return s.clock }
func (s *Switcher) Logger() *slog.Logger        { return s.logger }
func (s *Switcher) Events() streaming.Hub       { return s.events }
func (s *Switcher) Pool() *worker.Pool          { return s.pool }
func (s *Switcher) Waiter() *segment.Waiter     { return s.waiter }
func (s *Switcher) Registry() *segment.Registry { return s.registry }
func (s *Switcher) Variables() *variables.Store { return s.vars }
func (s *Switcher) Env() *macro.Env             { return s.env }
func (s *Switcher) Macros() *macro.Collection   { return s.macros }
func (s *Switcher) Queues() *queue.Registry     { return s.queues }
func (s *Switcher) Scripts() *script.Handler    { return s.scripts }
func (s *Switcher) BuiltinDeps() *builtin.Deps  { return s.deps }

// WithLock runs fn while holding the switcher lock. Structural changes to
// macros and queues made from outside a tick go through it. fn must not
// call Tick, Start or Stop.
func (s *Switcher) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Interval returns the tick interval.
func (s *Switcher) Interval() time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.interval
}

// SetInterval changes the tick interval. A running switcher picks it up on
// its next Start.
func (s *Switcher) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.stateMu.Lock()
	s.interval = d
	s.stateMu.Unlock()
}

// Running reports whether the periodic tick is registered.
func (s *Switcher) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.started
}

// Ticks returns the number of completed ticks.
func (s *Switcher) Ticks() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.ticks
}

// Start registers the periodic tick with the host and starts the queues
// marked to run on startup. The first tick after Start skips the actions
// of macros with SkipExecOnStart.
func (s *Switcher) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.started {
		s.stateMu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "switcher already started")
	}
	s.started = true
	interval := s.interval
	s.stateMu.Unlock()

	s.mu.Lock()
	s.firstTick = true
	s.waiter.SetAbort(false)
	s.queues.StartOnStartup()
	s.mu.Unlock()

	tickCtx := context.WithoutCancel(ctx)
	if err := s.host.RegisterPeriodicTick(func() { s.Tick(tickCtx) }, interval); err != nil {
		s.stateMu.Lock()
		s.started = false
		s.stateMu.Unlock()
		return fmt.Errorf("register periodic tick: %w", err)
	}
	s.logger.Info("switcher started", slog.Duration("interval", interval))
	s.publish(schema.EventSwitcherStarted, "", map[string]any{"interval_ms": interval.Milliseconds()})
	return nil
}

// Stop cancels the periodic tick, aborts every wait, stops all macros and
// queues and waits for in-flight work. Stopping a stopped switcher is a
// no-op.
func (s *Switcher) Stop() error {
	s.stateMu.Lock()
	if !s.started {
		s.stateMu.Unlock()
		return nil
	}
	s.started = false
	s.stateMu.Unlock()

	// Wake any segment blocking the current tick before waiting for it.
	s.waiter.SetAbort(true)
	for _, m := range s.macros.Macros() {
		m.RequestStop()
	}
	s.host.CancelPeriodicTick()

	s.mu.Lock()
	s.macros.StopAll()
	s.queues.StopAndClearAll()
	s.mu.Unlock()
	s.pool.Wait()

	s.logger.Info("switcher stopped")
	s.publish(schema.EventSwitcherStopped, "", nil)
	return nil
}

// Close stops the switcher, deregisters script types and shuts the worker
// pool down.
func (s *Switcher) Close() error {
	err := s.Stop()
	s.scripts.DeregisterAll()
	s.pool.Shutdown()
	return err
}

// Tick runs one evaluation pass under the switcher lock: temp variables
// are invalidated, every macro's conditions are checked in order, actions
// run for the macros that call for it and each started queue performs one
// item.
func (s *Switcher) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.macros.InvalidateTempVars()
	macros := s.macros.Macros()

	checked := make([]bool, len(macros))
	for i, m := range macros {
		if m.IsGroup() {
			continue
		}
		checked[i] = s.check(ctx, m)
	}

	first := s.firstTick
	s.firstTick = false
	for i, m := range macros {
		if !checked[i] {
			continue
		}
		if first && m.SkipExecOnStart() {
			s.logger.Debug("skipping actions on startup", slog.String("macro", m.Name()))
			continue
		}
		if m.OnChangePreventedActions() {
			s.logger.Debug("actions prevented by on-change", slog.String("macro", m.Name()))
		}
		if m.ShouldRunActions() {
			s.run(ctx, m)
		}
	}

	for _, q := range s.queues.All() {
		q.Drain(ctx)
	}

	s.stateMu.Lock()
	s.ticks++
	s.stateMu.Unlock()
}

// check evaluates m unless its custom interval has not elapsed. It reports
// whether m was evaluated; a macro skipped by its interval also skips the
// action phase.
func (s *Switcher) check(ctx context.Context, m *macro.Macro) (evaluated bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("macro condition check panicked",
				slog.String("macro", m.Name()), slog.Any("panic", r))
			evaluated = false
		}
	}()
	if !m.ConditionsShouldBeChecked() {
		return false
	}
	m.CheckConditions(logging.WithMacro(ctx, m.Name()), false)
	return true
}

func (s *Switcher) run(ctx context.Context, m *macro.Macro) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("macro run panicked",
				slog.String("macro", m.Name()), slog.Any("panic", r))
		}
	}()
	m.PerformActions(logging.WithMacro(ctx, m.Name()), macro.RunOptions{Else: !m.Matched()})
}

// RunMacro runs the actions of the named macro outside the tick, as a
// manual trigger does. Paused macros run too.
func (s *Switcher) RunMacro(ctx context.Context, name string, elseActions bool) error {
	m := s.macros.Get(name)
	if m == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", name)
	}
	if m.IsGroup() {
		return schema.NewErrorf(schema.ErrCodeValidation, "macro %q is a group", name)
	}
	s.WithLock(func() {
		m.PerformActions(logging.WithMacro(ctx, name), macro.RunOptions{Else: elseActions, IgnorePause: true})
	})
	return nil
}

func (s *Switcher) publish(typ, macroName string, payload any) {
	ev := streaming.Event{Type: typ, Macro: macroName, Time: s.clock.Now(), Payload: payload}
	if err := s.events.Publish(context.Background(), ev); err != nil {
		s.logger.Debug("event not published", slog.String("type", typ), slog.String("error", err.Error()))
	}
}
