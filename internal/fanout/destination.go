// Package fanout routes a single logical analytics or error event to every
// configured destination independently. One destination failing, panicking or
// timing out never prevents delivery to the others and never surfaces to the
// caller; outcomes are collected per destination for observability only.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Properties is the opaque JSON property bag attached to events.
type Properties map[string]any

// Destination is one analytics or error-reporting sink. Implementations must
// be safe for concurrent use; every method other than Init is called from the
// dispatch path. Destinations that do not support an operation return nil.
type Destination interface {
	// Name identifies the destination in logs and metrics.
	Name() string
	// Enabled reports whether configuration for this destination is present.
	// Computed once at construction; never re-evaluated.
	Enabled() bool
	// Init prepares the destination (connections, schema). Called at most once.
	Init(ctx context.Context) error

	Track(ctx context.Context, event string, props Properties) error
	Page(ctx context.Context, name string, props Properties) error
	Identify(ctx context.Context, userID string, traits Properties) error
	SetUserProperties(ctx context.Context, props Properties) error
	Reset(ctx context.Context) error
	CaptureException(ctx context.Context, err error, meta Properties) error

	Close() error
}

// Destination lifecycle states. Terminal once set: no destination returns to
// uninitialized during the process lifetime.
const (
	stateUninitialized int32 = iota
	stateEnabled
	stateDisabled
)

type managed struct {
	dest  Destination
	state atomic.Int32
}

// Registry holds the process-wide set of destinations, constructed once at
// startup. Initialization is idempotent and asynchronous; events dispatched
// before a destination finishes initializing are silently dropped for that
// destination.
type Registry struct {
	initOnce sync.Once
	dests    []*managed
	logger   *zap.Logger
}

// NewRegistry constructs a registry over the given destinations.
func NewRegistry(logger *zap.Logger, dests ...Destination) *Registry {
	r := &Registry{logger: logger}
	for _, d := range dests {
		r.dests = append(r.dests, &managed{dest: d})
	}
	return r
}

// Init transitions every destination from uninitialized to enabled or
// disabled. Safe to call multiple times; only the first call does work. The
// call does not block on destination I/O.
func (r *Registry) Init(ctx context.Context) {
	r.initOnce.Do(func() {
		for _, m := range r.dests {
			m := m
			if !m.dest.Enabled() {
				m.state.Store(stateDisabled)
				r.logger.Info("fanout destination disabled", zap.String("destination", m.dest.Name()))
				continue
			}
			go func() {
				if err := m.dest.Init(ctx); err != nil {
					m.state.Store(stateDisabled)
					r.logger.Error("fanout destination init failed",
						zap.String("destination", m.dest.Name()), zap.Error(err))
					return
				}
				m.state.Store(stateEnabled)
				r.logger.Info("fanout destination enabled", zap.String("destination", m.dest.Name()))
			}()
		}
	})
}

// active returns the destinations currently accepting events.
func (r *Registry) active() []Destination {
	out := make([]Destination, 0, len(r.dests))
	for _, m := range r.dests {
		if m.state.Load() == stateEnabled {
			out = append(out, m.dest)
		}
	}
	return out
}

// Close shuts down every destination that was enabled.
func (r *Registry) Close() {
	for _, m := range r.dests {
		if m.state.Load() != stateEnabled {
			continue
		}
		if err := m.dest.Close(); err != nil {
			r.logger.Error("fanout destination close", zap.String("destination", m.dest.Name()), zap.Error(err))
		}
	}
}
