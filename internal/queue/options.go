package queue

import "log/slog"

// DefaultCompactThreshold is the slack a Heap may carry before a drain tick
// compacts it.
const DefaultCompactThreshold = 1000

// Timestamped is implemented by every message a Scheduler accepts.
// Timestamp is the logical submission order used by cancellation.
type Timestamped interface {
	Timestamp() int64
}

// Sink receives a popped work item. A nil Sink discards the item.
type Sink[M any] func(M)

// Config describes how a Scheduler orders and classifies messages.
// The zero Config is usable: timestamp order, no cancellation support.
type Config[M Timestamped, K comparable] struct {
	// Compare reports whether a has priority over b. Ties pop in an
	// unspecified order; callers that want FIFO within a priority must fold
	// the timestamp into Compare themselves.
	// Default: a.Timestamp() < b.Timestamp().
	Compare func(a, b M) bool

	// IsCancel classifies a message as a cancellation directive.
	// It must be pure. Default: always false.
	IsCancel func(M) bool

	// ContextID extracts the grouping key a cancellation matches against.
	// Returning false means the context is undefined. When nil, work items are
	// never checked for cancellation and every directive is dropped.
	ContextID func(M) (K, bool)

	// CompactThreshold is the slack tolerated before compaction.
	// Zero or negative selects DefaultCompactThreshold.
	CompactThreshold int
}

func (c Config[M, K]) withDefaults() Config[M, K] {
	if c.Compare == nil {
		c.Compare = func(a, b M) bool { return a.Timestamp() < b.Timestamp() }
	}
	if c.IsCancel == nil {
		c.IsCancel = func(M) bool { return false }
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	return c
}

// Option configures the ambient behaviour of a Scheduler.
type Option func(*settings)

type settings struct {
	name     string
	logger   *slog.Logger
	observer Observer
}

func defaultSettings() settings {
	return settings{
		name:   "jobq",
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithName labels log records and events emitted by the scheduler.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger. Malformed directives are logged at debug level,
// sink panics at error level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an observer for lifecycle events.
// Use Observers to attach more than one.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}
