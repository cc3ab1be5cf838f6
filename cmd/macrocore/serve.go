package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rendis/macrocore/internal/document"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/scheduler"
	"github.com/rendis/macrocore/internal/store"
	"github.com/rendis/macrocore/internal/streaming"
	mcpserver "github.com/rendis/macrocore/pkg/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the switcher and the MCP stdio server",
	Long:  "Restore the saved document, start the switcher and serve MCP tools on stdin/stdout until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), loadConfig())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running server to reload settings.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !signalRunningServer() {
			return fmt.Errorf("no running server found (pidfile %s)", pidPath())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reloadCmd)
}

// newLogger builds the process logger: JSON records to w with correlation
// attributes, warnings and errors mirrored to the host log.
func newLogger(w io.Writer, h host.Host, level slog.Leveler) *slog.Logger {
	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(host.NewSlogHandler(inner, h, slog.LevelWarn)))
}

func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(macrocoreDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", macrocoreDir(), err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func newSwitcher(cfg Config, h host.Host, logger *slog.Logger, hub streaming.Hub) (*scheduler.Switcher, error) {
	return scheduler.New(scheduler.Options{
		Host:         h,
		Logger:       logger,
		Events:       hub,
		Interval:     time.Duration(cfg.IntervalMS) * time.Millisecond,
		PoolSize:     cfg.PoolSize,
		MaxDepth:     cfg.MaxDepth,
		WakeInterval: time.Duration(cfg.WakeIntervalMS) * time.Millisecond,
	})
}

func scenes(cfg Config) []string {
	if len(cfg.Scenes) == 0 {
		return []string{"Scene"}
	}
	return cfg.Scenes
}

func runServe(ctx context.Context, cfg Config) error {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.LogLevel))

	h := host.NewMemoryHost(scenes(cfg)...)
	logger := newLogger(os.Stderr, h, level)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := streaming.NewMemoryHub()
	sw, err := newSwitcher(cfg, h, logger, hub)
	if err != nil {
		return err
	}
	defer sw.Close()

	docs, err := document.NewManager(sw)
	if err != nil {
		return err
	}
	restored, err := docs.Restore(ctx, st)
	if err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	logger.Info("document loaded", slog.Bool("restored", restored), slog.Int("macros", sw.Macros().Len()))

	var journal *store.EventLog
	if cfg.Journal {
		journal = store.NewEventLog(st, logger)
		stopJournal, err := journal.Record(ctx, hub, streaming.Filter{})
		if err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer stopJournal()
	}

	srv := mcpserver.NewMacroServer(mcpserver.ServerDeps{
		Switcher:  sw,
		Documents: docs,
		Store:     st,
		Logger:    logger,
	})
	stopForward, err := srv.ForwardTriggers(ctx)
	if err != nil {
		return fmt.Errorf("forward triggers: %w", err)
	}
	defer stopForward()

	jobs := cron.New()
	if _, err := jobs.AddFunc("@every 1m", func() {
		if err := docs.PersistVariables(context.Background(), st); err != nil {
			logger.Warn("variables not saved", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}
	if journal != nil && cfg.RetentionHours > 0 {
		retention := time.Duration(cfg.RetentionHours) * time.Hour
		if _, err := jobs.AddFunc("@hourly", func() {
			n, err := journal.Prune(context.Background(), retention)
			if err != nil {
				logger.Warn("journal prune failed", slog.String("error", err.Error()))
				return
			}
			logger.Debug("journal pruned", slog.Int64("removed", n))
		}); err != nil {
			return err
		}
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	if err := writePID(); err != nil {
		logger.Warn("pidfile not written", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath())

	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()
	go watchReload(reloadCtx, cfg, level, sw, logger)

	if err := sw.Start(ctx); err != nil {
		return err
	}
	logger.Info("macrocore serving", slog.String("version", version), slog.String("db", cfg.DBPath))

	serveErr := srv.Serve(ctx)

	if err := sw.Stop(); err != nil {
		logger.Warn("switcher stop failed", slog.String("error", err.Error()))
	}
	if rev, err := docs.Persist(context.Background(), st); err != nil {
		logger.Error("document not saved", slog.String("error", err.Error()))
	} else {
		logger.Info("document saved", slog.Int64("revision", rev))
	}
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}

// watchReload applies settings.json changes on SIGHUP. Only the log level
// and the interval apply live.
func watchReload(ctx context.Context, cfg Config, level *slog.LevelVar, sw *scheduler.Switcher, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next := loadConfig()
			d := diffConfigs(cfg, next)
			if d.LogLevelChanged {
				level.Set(parseLevel(next.LogLevel))
			}
			if d.IntervalChanged && next.IntervalMS > 0 {
				sw.SetInterval(time.Duration(next.IntervalMS) * time.Millisecond)
			}
			if len(d.RestartNeeded) > 0 {
				logger.Warn("settings need a restart", slog.String("fields", strings.Join(d.RestartNeeded, ",")))
			}
			logger.Info("settings reloaded",
				slog.Bool("log_level", d.LogLevelChanged),
				slog.Bool("interval", d.IntervalChanged),
			)
			cfg = next
		}
	}
}

func writePID() error {
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// signalRunningServer sends SIGHUP to a running macrocore server (via pidfile).
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
