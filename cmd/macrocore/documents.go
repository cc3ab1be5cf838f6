package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/macrocore/internal/document"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/scheduler"
	"github.com/rendis/macrocore/internal/store"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/internal/validation"
	"github.com/rendis/macrocore/pkg/schema"
)

var (
	importMode  string
	eventsType  string
	eventsMacro string
	eventsLimit int
	eventsSince time.Duration
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Validate a settings document",
	Long:  "Run structural, semantic and reference checks on a settings document without applying it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		sw, err := newSwitcher(loadConfig(), host.NewMemoryHost(), quietLogger(), streaming.NewMemoryHub())
		if err != nil {
			return err
		}
		defer sw.Close()

		v, err := validation.NewDocumentValidator(sw.Registry())
		if err != nil {
			return err
		}
		_, result := v.Validate(raw, nil)
		printIssues(cmd.OutOrStdout(), result)
		if !result.Valid() {
			return fmt.Errorf("document has %d errors", len(result.Errors))
		}
		fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render("document is valid"))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [macro...]",
	Short: "Export the saved document",
	Long:  "Print the saved document as JSON. Naming macros exports only those; naming a group exports its members too.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOffline(cmd.Context(), func(docs *document.Manager, _ *scheduler.Switcher, _ store.Store) error {
			raw, err := docs.ExportJSON(args...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import a settings document into the store",
	Long:  "Validate a settings document, apply it to the saved one (replace or merge) and save the result. A running server picks it up on restart.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		return withOffline(cmd.Context(), func(docs *document.Manager, _ *scheduler.Switcher, st store.Store) error {
			report, err := docs.Import(cmd.Context(), raw, document.Mode(importMode))
			if err != nil {
				var ce *schema.CoreError
				if errors.As(err, &ce) && ce.Details != nil {
					if conflicts, ok := ce.Details["conflicts"].([]string); ok {
						for _, c := range conflicts {
							fmt.Fprintln(cmd.ErrOrStderr(), styles.Error.Render("  conflict: "+c))
						}
					}
					if errs, ok := ce.Details["errors"].([]schema.ValidationIssue); ok {
						for _, e := range errs {
							fmt.Fprintln(cmd.ErrOrStderr(), styles.Error.Render("  "+e.String()))
						}
					}
				}
				return err
			}
			rev, err := docs.Persist(cmd.Context(), st)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range report.Warnings {
				fmt.Fprintln(out, styles.Warning.Render("warning "+w.String()))
			}
			fmt.Fprintf(out, "%s %d macros, %d variables, %d queues (%s, revision %d)\n",
				styles.Success.Render("imported"), len(report.Macros), report.Variables, report.Queues, report.Mode, rev)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the saved macros",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOffline(cmd.Context(), func(_ *document.Manager, sw *scheduler.Switcher, _ store.Store) error {
			macros := sw.Macros().Macros()
			if len(macros) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), styles.Muted.Render("no macros"))
				return nil
			}
			rows := make([][]string, 0, len(macros))
			for _, m := range macros {
				parent := "-"
				if p := m.Parent(); p != nil {
					parent = p.Name()
				}
				paused := formatYesNo(m.Paused())
				if m.Paused() {
					paused = styles.Warning.Render(paused)
				}
				rows = append(rows, []string{
					m.Name(),
					formatYesNo(m.IsGroup()),
					parent,
					paused,
					strconv.Itoa(len(m.Conditions())),
					strconv.Itoa(len(m.Actions())),
					strconv.Itoa(len(m.ElseActions())),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"NAME", "GROUP", "PARENT", "PAUSED", "CONDITIONS", "ACTIONS", "ELSE"}, rows))
			return nil
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the event journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.EventFilter{Macro: eventsMacro, Limit: eventsLimit}
		if eventsType != "" {
			filter.Types = []string{eventsType}
		}
		if eventsSince > 0 {
			filter.Since = time.Now().Add(-eventsSince)
		}
		events, err := st.ListEvents(cmd.Context(), filter)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{
				strconv.FormatInt(e.ID, 10),
				e.Timestamp.Local().Format(time.DateTime),
				e.Type,
				e.Macro,
				string(e.Payload),
			})
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "TIME", "TYPE", "MACRO", "PAYLOAD"}, rows))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importMode, "mode", string(document.Replace), "replace or merge")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "only this event type")
	eventsCmd.Flags().StringVar(&eventsMacro, "macro", "", "only events of this macro")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "only events newer than this (e.g. 1h)")

	rootCmd.AddCommand(validateCmd, exportCmd, importCmd, listCmd, eventsCmd)
}

// withOffline restores the saved document into a switcher that is never
// started and hands it to fn.
func withOffline(ctx context.Context, fn func(*document.Manager, *scheduler.Switcher, store.Store) error) error {
	cfg := loadConfig()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sw, err := newSwitcher(cfg, host.NewMemoryHost(scenes(cfg)...), quietLogger(), streaming.NewMemoryHub())
	if err != nil {
		return err
	}
	defer sw.Close()

	docs, err := document.NewManager(sw)
	if err != nil {
		return err
	}
	if _, err := docs.Restore(ctx, st); err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	return fn(docs, sw, st)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	for _, e := range result.Errors {
		fmt.Fprintln(w, styles.Error.Render(fmt.Sprintf("error   [%s] %s", e.Stage, e)))
	}
	for _, i := range result.Warnings {
		fmt.Fprintln(w, styles.Warning.Render(fmt.Sprintf("warning [%s] %s", i.Stage, i)))
	}
}
