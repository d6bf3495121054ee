package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters log records by per-component level overrides.
// Components are identified by the "component" attribute that every scoped
// logger attaches at construction. Records without a component use the
// default level.
type ComponentFilterHandler struct {
	base     slog.Handler
	preAttrs []slog.Attr

	mu           *sync.RWMutex
	levels       map[string]slog.Level
	defaultLevel slog.Level
}

// NewComponentFilterHandler wraps base with per-component level filtering.
func NewComponentFilterHandler(base slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		base:         base,
		mu:           &sync.RWMutex{},
		levels:       make(map[string]slog.Level),
		defaultLevel: defaultLevel,
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.levels[component] = level
}

// ClearLevel removes a component's override, restoring the default level.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.levels, component)
}

// Level returns the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if level, ok := h.levels[component]; ok {
		return level
	}
	return h.defaultLevel
}

// DefaultLevel returns the level applied to components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultLevel
}

// Enabled reports whether any component could log at this level. The
// per-component decision happens in Handle, once the component attribute is
// known.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if level >= h.defaultLevel {
		return true
	}
	for _, l := range h.levels {
		if level >= l {
			return true
		}
	}
	return false
}

// Handle forwards the record when it meets its component's level.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.Level(h.component(r)) {
		return nil
	}
	if h.base == nil {
		return nil
	}
	return h.base.Handle(ctx, r)
}

// component finds the "component" attribute on the record or the handler's
// pre-bound attributes.
func (h *ComponentFilterHandler) component(r slog.Record) string {
	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return false
		}
		return true
	})
	if component != "" {
		return component
	}
	for _, a := range h.preAttrs {
		if a.Key == "component" {
			return a.Value.String()
		}
	}
	return ""
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := make([]slog.Attr, len(h.preAttrs)+len(attrs))
	copy(pre, h.preAttrs)
	copy(pre[len(h.preAttrs):], attrs)

	base := h.base
	if base != nil {
		base = base.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{
		base:         base,
		preAttrs:     pre,
		mu:           h.mu,
		levels:       h.levels,
		defaultLevel: h.defaultLevel,
	}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	base := h.base
	if base != nil {
		base = base.WithGroup(name)
	}
	return &ComponentFilterHandler{
		base:         base,
		preAttrs:     h.preAttrs,
		mu:           h.mu,
		levels:       h.levels,
		defaultLevel: h.defaultLevel,
	}
}
