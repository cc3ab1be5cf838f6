// Package document exports the macro set of a Switcher as a settings
// document and imports documents back, either replacing or extending the
// live set. Imports are validated and loaded into a staging list first; the
// live collection changes only once everything loaded.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/scheduler"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/internal/validation"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

// Mode selects how an import combines with the live set.
type Mode string

const (
	// Replace swaps the whole live set for the document.
	Replace Mode = "replace"
	// Merge appends the document's macros, variables and queues. Any name
	// already in use rejects the import.
	Merge Mode = "merge"
)

// Report summarizes an applied import.
type Report struct {
	Mode      Mode                     `json:"mode"`
	Macros    []string                 `json:"macros"`
	Variables int                      `json:"variables"`
	Queues    int                      `json:"queues"`
	Warnings  []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Manager exports and imports documents for one Switcher.
type Manager struct {
	sw        *scheduler.Switcher
	validator *validation.DocumentValidator
	logger    *slog.Logger
}

// NewManager creates a Manager. Segment ids are checked against the
// switcher's registry.
func NewManager(sw *scheduler.Switcher) (*Manager, error) {
	v, err := validation.NewDocumentValidator(sw.Registry())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "build document validator").WithCause(err)
	}
	return &Manager{sw: sw, validator: v, logger: sw.Logger()}, nil
}

// Export returns the document for the named macros, or for every macro
// when names is empty. Naming a group exports its members too. Variables,
// queues and the interval are always included.
func (m *Manager) Export(names ...string) (*schema.Document, error) {
	var data []schema.MacroData
	var err error
	m.sw.WithLock(func() {
		data, err = m.exportMacros(names)
	})
	if err != nil {
		return nil, err
	}
	return &schema.Document{
		Version:    schema.DocumentVersion,
		IntervalMS: int(m.sw.Interval() / time.Millisecond),
		Macros:     data,
		Variables:  m.sw.Variables().Data(),
		Queues:     m.sw.Queues().Save(),
	}, nil
}

// ExportJSON is Export encoded as indented JSON.
func (m *Manager) ExportJSON(names ...string) ([]byte, error) {
	doc, err := m.Export(names...)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (m *Manager) exportMacros(names []string) ([]schema.MacroData, error) {
	coll := m.sw.Macros()
	if len(names) == 0 {
		return coll.Save()
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		mc := coll.Get(name)
		if mc == nil {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", name)
		}
		want[name] = true
	}

	var out []schema.MacroData
	for _, mc := range coll.Macros() {
		p := mc.Parent()
		if !want[mc.Name()] && (p == nil || !want[p.Name()]) {
			continue
		}
		d, err := mc.Save()
		if err != nil {
			return nil, err
		}
		// A member exported without its group leaves the group.
		out = append(out, d)
	}
	return out, nil
}

// Import validates raw and applies it in the given mode. Malformed or
// conflicting documents fail with IMPORT_ERROR and leave the live set
// untouched.
func (m *Manager) Import(ctx context.Context, raw []byte, mode Mode) (*Report, error) {
	if mode == "" {
		mode = Replace
	}
	if mode != Replace && mode != Merge {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown import mode %q", mode)
	}
	logger := logging.LogWith(ctx, m.logger)

	var known func(string) bool
	if mode == Merge {
		live := m.sw.Macros().Names()
		known = func(name string) bool { return slices.Contains(live, name) }
	}
	doc, result := m.validator.Validate(raw, known)
	if !result.Valid() {
		logger.Warn("import rejected", slog.Int("errors", len(result.Errors)))
		return nil, schema.NewErrorf(schema.ErrCodeImport, "import rejected: %s", result.Errors[0].Message).
			WithDetails(map[string]any{"errors": result.Errors, "warnings": result.Warnings}).
			WithCause(result.ToError())
	}
	for _, w := range result.Warnings {
		logger.Warn("import warning",
			slog.String("stage", string(w.Stage)),
			slog.String("path", w.Path),
			slog.String("macro", w.Macro),
			slog.String("message", w.Message),
		)
	}

	staged, err := macro.LoadAll(m.sw.Env(), doc.Macros)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeImport, "load macros").WithCause(err)
	}

	var old []*macro.Macro
	m.sw.WithLock(func() {
		if mode == Merge {
			err = m.merge(doc, staged)
			return
		}
		old, err = m.replace(doc, staged)
	})
	if err != nil {
		closeAll(staged)
		return nil, err
	}
	closeAll(old)

	report := &Report{
		Mode:      mode,
		Variables: len(doc.Variables),
		Queues:    len(doc.Queues),
		Warnings:  result.Warnings,
	}
	for _, mc := range staged {
		report.Macros = append(report.Macros, mc.Name())
	}
	m.publish(report)
	logger.Info("import applied",
		slog.String("mode", string(mode)),
		slog.Int("macros", len(report.Macros)),
		slog.Int("variables", report.Variables),
		slog.Int("queues", report.Queues),
	)
	return report, nil
}

// replace swaps in the staged set. Called with the switcher lock held.
func (m *Manager) replace(doc *schema.Document, staged []*macro.Macro) ([]*macro.Macro, error) {
	if err := m.sw.Queues().Load(doc.Queues); err != nil {
		return nil, schema.NewError(schema.ErrCodeImport, "load queues").WithCause(err)
	}
	old := m.sw.Macros().Replace(staged)
	m.sw.Variables().Load(doc.Variables)
	if doc.IntervalMS > 0 {
		m.sw.SetInterval(time.Duration(doc.IntervalMS) * time.Millisecond)
	}
	return old, nil
}

// merge appends the staged set after checking every name against the live
// one. Called with the switcher lock held.
func (m *Manager) merge(doc *schema.Document, staged []*macro.Macro) error {
	coll := m.sw.Macros()
	vars := m.sw.Variables()
	queues := m.sw.Queues()

	var conflicts []string
	for _, mc := range staged {
		if coll.Get(mc.Name()) != nil {
			conflicts = append(conflicts, "macro "+mc.Name())
		}
	}
	for _, d := range doc.Variables {
		if _, ok := vars.Get(d.Name); ok {
			conflicts = append(conflicts, "variable "+d.Name)
		}
	}
	for _, d := range doc.Queues {
		if queues.Get(d.Name) != nil {
			conflicts = append(conflicts, "queue "+d.Name)
		}
	}
	if len(conflicts) > 0 {
		return schema.NewErrorf(schema.ErrCodeImport, "import conflicts with %d existing names", len(conflicts)).
			WithDetails(map[string]any{"conflicts": conflicts})
	}

	for _, mc := range staged {
		if err := coll.Add(mc); err != nil {
			return fmt.Errorf("add macro %q: %w", mc.Name(), err)
		}
	}
	for _, d := range doc.Variables {
		if err := vars.Add(variables.FromData(d)); err != nil {
			return fmt.Errorf("add variable %q: %w", d.Name, err)
		}
	}
	for _, d := range doc.Queues {
		q, err := queues.Create(d.Name)
		if err != nil {
			return fmt.Errorf("add queue %q: %w", d.Name, err)
		}
		q.SetRunOnStartup(d.RunOnStartup)
		q.SetResolveVariablesOnAdd(d.ResolveVariablesOnAdd)
	}
	return nil
}

func (m *Manager) publish(r *Report) {
	ev := streaming.Event{
		Type:    schema.EventImportApplied,
		Time:    m.sw.Clock().Now(),
		Payload: r,
	}
	if err := m.sw.Events().Publish(context.Background(), ev); err != nil {
		m.logger.Debug("event not published", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

func closeAll(macros []*macro.Macro) {
	for _, mc := range macros {
		mc.Close()
	}
}
