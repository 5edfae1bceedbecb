package memories

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// service implements the Service interface
type service struct {
	repository     Repository
	backends       map[string]ChunkBackend
	defaultBackend string
	eventSink      EventSink
	observer       Observer
	logger         *slog.Logger
	limits         Limits
	clock          func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithChunkBackend adds a chunk storage backend
func WithChunkBackend(name string, backend ChunkBackend) Option {
	return func(s *service) {
		if s.backends == nil {
			s.backends = make(map[string]ChunkBackend)
		}
		s.backends[name] = backend
	}
}

// WithDefaultBackend selects the backend new sessions and blobs are written to
func WithDefaultBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithObserver sets the metrics observer for the service
func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithLogger sets the logger used for warnings that do not fail an operation
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithLimits overrides the size, lifetime and fan-out limits. Zero fields keep their defaults.
func WithLimits(limits Limits) Option {
	return func(s *service) {
		s.limits = limits
	}
}

// WithClock replaces time.Now, mainly for tests exercising session expiry
func WithClock(clock func() time.Time) Option {
	return func(s *service) {
		s.clock = clock
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		backends: make(map[string]ChunkBackend),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if len(s.backends) == 0 {
		return nil, fmt.Errorf("at least one chunk backend is required")
	}
	if s.defaultBackend == "" {
		if len(s.backends) > 1 {
			names := make([]string, 0, len(s.backends))
			for name := range s.backends {
				names = append(names, name)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("default backend must be chosen among %v", names)
		}
		for name := range s.backends {
			s.defaultBackend = name
		}
	}
	if _, ok := s.backends[s.defaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q is not registered", s.defaultBackend)
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.limits = s.limits.withDefaults()

	return s, nil
}

func (s *service) DefaultBackend() string {
	return s.defaultBackend
}

func (s *service) Limits() Limits {
	return s.limits
}

// now returns the current time at the precision every repository can store.
func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *service) backend(name string) (ChunkBackend, error) {
	b, ok := s.backends[name]
	if !ok {
		return nil, fmt.Errorf("chunk backend %q is not registered", name)
	}
	return b, nil
}

// emit delivers an event and logs sink failures without failing the caller.
func (s *service) emit(ctx context.Context, event string, fire func(EventSink) error) {
	if err := fire(s.eventSink); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", event, "err", err)
	}
}

// cleanup runs a best-effort storage release. It survives cancellation of ctx
// so an aborted request still releases what it wrote.
func (s *service) cleanup(ctx context.Context, b ChunkBackend, prefix string) {
	if err := b.DeletePrefix(context.WithoutCancel(ctx), prefix); err != nil {
		s.logger.WarnContext(ctx, "failed to release chunks", "prefix", prefix, "err", err)
	}
}
