// Package logging provides utilities for structured logging across the
// container engine and block read client.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - slog.With() is used to attach default attributes
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in
// the embedding application's main(). Components must never call
// slog.SetDefault or reach for a package-global logger.
//
// Logging is intentionally sparse:
//   - No logging inside the chunk read hot path
//   - Lifecycle boundaries (state transitions, retries, pipeline refresh)
//     are the intended log points
package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard
// logger. Standard pattern for an optional logger field on a Config:
//
//	func NewManager(cfg Config) (*Manager, error) {
//	    logger := logging.Default(cfg.Logger).With("component", "container")
//	    return &Manager{logger: logger}, nil
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ScopeFilterHandler wraps an slog.Handler and drops records below a
// minimum level resolved from the record's scope: the container the record
// concerns first, then the component that emitted it, then the default. A
// datanode hosts thousands of containers; when one misbehaves, an operator
// raises verbosity for that single container (or for one component, say
// the block-stream retry path) without drowning the node in debug output
// from every other container.
//
// Scope is captured when a component binds its logger — every constructor
// in this module does logger.With("component", ...) and the container adds
// "containerID" — so WithAttrs records the values on the derived handler
// and Handle never rescans attributes for already-bound loggers. Records
// that carry the attributes directly are resolved as a fallback.
type ScopeFilterHandler struct {
	next         slog.Handler
	defaultLevel slog.Level

	// component and containerID are the scope captured from WithAttrs;
	// empty until the corresponding attribute is bound.
	component   string
	containerID string

	// grouped is set once WithGroup namespaces later attributes; from then
	// on record attributes no longer identify scope and only the captured
	// values above are consulted.
	grouped bool

	levels *scopeLevels
}

// scopeLevels holds the per-container and per-component overrides, shared
// by every handler derived from the same root so a SetContainerLevel call
// is visible to all of them.
type scopeLevels struct {
	mu         sync.RWMutex
	containers map[string]slog.Level
	components map[string]slog.Level
}

// resolve returns the minimum level for a record scoped to (containerID,
// component). A container override beats a component override beats the
// default, so "debug just container 42" works even while its component
// stays at the quieter setting.
func (l *scopeLevels) resolve(containerID, component string, def slog.Level) slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if containerID != "" {
		if lv, ok := l.containers[containerID]; ok {
			return lv
		}
	}
	if component != "" {
		if lv, ok := l.components[component]; ok {
			return lv
		}
	}
	return def
}

// NewScopeFilterHandler creates a handler that filters records against
// per-container and per-component minimum levels, falling back to
// defaultLevel where no override is set.
func NewScopeFilterHandler(next slog.Handler, defaultLevel slog.Level) *ScopeFilterHandler {
	return &ScopeFilterHandler{
		next:         next,
		defaultLevel: defaultLevel,
		levels: &scopeLevels{
			containers: make(map[string]slog.Level),
			components: make(map[string]slog.Level),
		},
	}
}

// Enabled answers from the captured scope when the handler is already
// bound, letting slog skip record construction entirely for suppressed
// scopes. An unbound handler defers to Handle, where the record's own
// attributes can still identify the scope.
func (h *ScopeFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.component != "" || h.containerID != "" {
		return level >= h.levels.resolve(h.containerID, h.component, h.defaultLevel)
	}
	return true
}

// Handle filters the record against the resolved scope level, then defers
// to the wrapped handler.
func (h *ScopeFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	containerID, component := h.containerID, h.component
	if !h.grouped && (containerID == "" || component == "") {
		r.Attrs(func(a slog.Attr) bool {
			switch a.Key {
			case "containerID":
				if containerID == "" {
					containerID = scopeString(a.Value)
				}
			case "component":
				if component == "" {
					component = scopeString(a.Value)
				}
			}
			return containerID == "" || component == ""
		})
	}

	if r.Level < h.levels.resolve(containerID, component, h.defaultLevel) {
		return nil
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a derived handler with attrs bound, capturing
// "component" and "containerID" values as the derived handler's scope.
func (h *ScopeFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.next = h.next.WithAttrs(attrs)
	if !h.grouped {
		for _, a := range attrs {
			switch a.Key {
			case "component":
				nh.component = scopeString(a.Value)
			case "containerID":
				nh.containerID = scopeString(a.Value)
			}
		}
	}
	return &nh
}

// WithGroup returns a derived handler scoped under name. Attributes added
// after grouping are namespaced and no longer treated as scope keys.
func (h *ScopeFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.next = h.next.WithGroup(name)
	nh.grouped = true
	return &nh
}

// SetComponentLevel sets the minimum level for one component at runtime.
func (h *ScopeFilterHandler) SetComponentLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	h.levels.components[component] = level
}

// ClearComponentLevel reverts a component to the default level.
func (h *ScopeFilterHandler) ClearComponentLevel(component string) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	delete(h.levels.components, component)
}

// SetContainerLevel sets the minimum level for records concerning one
// container, overriding any component setting.
func (h *ScopeFilterHandler) SetContainerLevel(containerID uint64, level slog.Level) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	h.levels.containers[strconv.FormatUint(containerID, 10)] = level
}

// ClearContainerLevel removes a container override.
func (h *ScopeFilterHandler) ClearContainerLevel(containerID uint64) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	delete(h.levels.containers, strconv.FormatUint(containerID, 10))
}

// Level reports the minimum level a record scoped to component would be
// held to, ignoring container overrides.
func (h *ScopeFilterHandler) Level(component string) slog.Level {
	return h.levels.resolve("", component, h.defaultLevel)
}

// scopeString canonicalizes a scope attribute value: container ids are
// logged as integers, component names as strings, and both must map to
// the same key SetContainerLevel/SetComponentLevel store under.
func scopeString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return ""
	}
}
