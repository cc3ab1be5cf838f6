package host

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rendis/macrocore/pkg/schema"
)

// LogEntry is a message received through Log.
type LogEntry struct {
	Level   slog.Level
	Message string
}

type memSource struct {
	settings map[string]string
	filters  []Handle
}

// MemoryHost is a Host backed by maps. It drives the periodic tick from its
// own goroutine.
type MemoryHost struct {
	mu       sync.Mutex
	scenes   []string
	current  string
	previous string
	sources  map[Handle]*memSource
	logs     []LogEntry

	tickMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryHost creates a host with the given scenes. The first one is
// current.
func NewMemoryHost(scenes ...string) *MemoryHost {
	h := &MemoryHost{
		scenes:  slices.Clone(scenes),
		sources: make(map[Handle]*memSource),
	}
	if len(scenes) > 0 {
		h.current = scenes[0]
	}
	return h
}

// AddScene adds a scene if it does not exist.
func (h *MemoryHost) AddScene(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !slices.Contains(h.scenes, name) {
		h.scenes = append(h.scenes, name)
	}
}

// RemoveScene deletes a scene. The current scene name is left as is.
func (h *MemoryHost) RemoveScene(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scenes = slices.DeleteFunc(h.scenes, func(s string) bool { return s == name })
}

// Scenes returns the scene names.
func (h *MemoryHost) Scenes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.scenes)
}

// AddSource adds a source with initial settings.
func (h *MemoryHost) AddSource(name Handle, settings map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &memSource{settings: maps.Clone(settings)}
	if s.settings == nil {
		s.settings = make(map[string]string)
	}
	h.sources[name] = s
}

// AddFilter adds filter as a source attached to source.
func (h *MemoryHost) AddFilter(source, filter Handle, settings map[string]string) error {
	h.mu.Lock()
	src, ok := h.sources[source]
	if !ok {
		h.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "source %q not found", source)
	}
	src.filters = append(src.filters, filter)
	h.mu.Unlock()
	h.AddSource(filter, settings)
	return nil
}

// RemoveSource deletes a source. Handles to it stop resolving.
func (h *MemoryHost) RemoveSource(name Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sources, name)
	for _, s := range h.sources {
		s.filters = slices.DeleteFunc(s.filters, func(f Handle) bool { return f == name })
	}
}

// Logs returns the messages received through Log.
func (h *MemoryHost) Logs() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.logs)
}

func (h *MemoryHost) CurrentScene() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *MemoryHost) PreviousScene() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.previous
}

func (h *MemoryHost) SwitchToScene(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !slices.Contains(h.scenes, name) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scene %q not found", name)
	}
	if h.current != name {
		h.previous = h.current
		h.current = name
	}
	return nil
}

func (h *MemoryHost) Sources() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := slices.Collect(maps.Keys(h.sources))
	slices.Sort(out)
	return out
}

func (h *MemoryHost) Filters(source Handle) []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sources[source]; ok {
		return slices.Clone(s.filters)
	}
	return nil
}

func (h *MemoryHost) SourceSetting(handle Handle, key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sources[handle]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "source %q not found", handle)
	}
	return s.settings[key], nil
}

func (h *MemoryHost) SetSourceSetting(handle Handle, key, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sources[handle]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "source %q not found", handle)
	}
	s.settings[key] = value
	return nil
}

func (h *MemoryHost) Log(level slog.Level, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, LogEntry{Level: level, Message: msg})
}

func (h *MemoryHost) RegisterPeriodicTick(fn func(), interval time.Duration) error {
	if fn == nil || interval <= 0 {
		return schema.NewError(schema.ErrCodeValidation, "tick needs a callback and a positive interval")
	}
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	if h.cancel != nil {
		return schema.NewError(schema.ErrCodeConflict, "periodic tick already registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return nil
}

func (h *MemoryHost) CancelPeriodicTick() {
	h.tickMu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.tickMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Ticking reports whether a periodic tick is registered.
func (h *MemoryHost) Ticking() bool {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	return h.cancel != nil
}

var _ Host = (*MemoryHost)(nil)
