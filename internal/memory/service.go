package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentflow/internal/memory"

// Service wraps a Store with tracing, metrics, logging and a periodic
// expiry janitor. It implements Store itself.
type Service struct {
	store  Store
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	indexCounter metric.Int64Counter
	hitCounter   metric.Int64Counter
	missCounter  metric.Int64Counter
	sweepCounter metric.Int64Counter

	janitorMu     sync.Mutex
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

var _ Store = (*Service)(nil)

// Instrumentation supplies tracers and meters. *telemetry.Telemetry
// satisfies it.
type Instrumentation interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithInstrumentation replaces the global otel providers.
func WithInstrumentation(inst Instrumentation) ServiceOption {
	return func(s *Service) {
		if inst != nil {
			s.tracer = inst.Tracer(instrumentationName)
			s.meter = inst.Meter(instrumentationName)
		}
	}
}

// NewService wraps store. A nil logger is replaced with a no-op logger.
func NewService(store Store, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger.Named("memory"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.indexCounter, err = s.meter.Int64Counter(
		"agentflow.memory.index_total",
		metric.WithDescription("Total number of memory entries indexed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		s.logger.Warn("failed to create index counter", zap.Error(err))
	}

	s.hitCounter, err = s.meter.Int64Counter(
		"agentflow.memory.hits_total",
		metric.WithDescription("Total number of memory lookups that found an entry"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		s.logger.Warn("failed to create hit counter", zap.Error(err))
	}

	s.missCounter, err = s.meter.Int64Counter(
		"agentflow.memory.misses_total",
		metric.WithDescription("Total number of memory lookups that found nothing"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		s.logger.Warn("failed to create miss counter", zap.Error(err))
	}

	s.sweepCounter, err = s.meter.Int64Counter(
		"agentflow.memory.expired_removed_total",
		metric.WithDescription("Total number of expired memory entries removed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		s.logger.Warn("failed to create sweep counter", zap.Error(err))
	}
}

func (s *Service) add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) Index(ctx context.Context, req *IndexRequest) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "memory.index")
	defer span.End()
	span.SetAttributes(
		attribute.String("key", req.Key),
		attribute.String("category", string(req.Category)),
	)

	e, err := s.store.Index(ctx, req)
	if err != nil {
		return nil, fail(span, err)
	}
	s.add(ctx, s.indexCounter, 1, attribute.String("category", string(e.Category)))
	s.logger.Debug("memory indexed",
		zap.String("key", e.Key),
		zap.String("category", string(e.Category)),
		zap.String("task_id", e.TaskID))
	return e, nil
}

func (s *Service) Get(ctx context.Context, key string) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "memory.get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	e, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		s.add(ctx, s.missCounter, 1)
		return nil, err
	}
	if err != nil {
		return nil, fail(span, err)
	}
	s.add(ctx, s.hitCounter, 1)
	return e, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "memory.delete")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	if err := s.store.Delete(ctx, key); err != nil {
		return fail(span, err)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, q Query) ([]*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "memory.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", string(q.Category)),
		attribute.Int("limit", q.Limit),
	)

	out, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	if len(out) == 0 {
		s.add(ctx, s.missCounter, 1)
	} else {
		s.add(ctx, s.hitCounter, 1)
	}
	return out, nil
}

func (s *Service) TaskMemories(ctx context.Context, taskID string) ([]*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "memory.task_memories")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", taskID))

	out, err := s.store.TaskMemories(ctx, taskID)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "memory.cleanup")
	defer span.End()

	n, err := s.store.CleanupExpired(ctx)
	if n > 0 {
		s.add(ctx, s.sweepCounter, int64(n))
		CleanupRemoved.Add(float64(n))
	}
	span.SetAttributes(attribute.Int("removed", n))
	if err != nil {
		return n, fail(span, err)
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "memory.stats")
	defer span.End()

	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	UpdateEntryMetrics(st)
	return st, nil
}

func (s *Service) Snapshot(ctx context.Context, ownerID string) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "memory.snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", ownerID))

	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("entries", len(snap.Entries)))
	s.logger.Info("memory snapshot taken",
		zap.String("snapshot_id", snap.ID),
		zap.String("owner_id", ownerID),
		zap.Int("entries", len(snap.Entries)))
	return snap, nil
}

func (s *Service) Clear(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "memory.clear")
	defer span.End()

	if err := s.store.Clear(ctx); err != nil {
		return fail(span, err)
	}
	s.logger.Info("memory cleared")
	return nil
}

// StartJanitor runs CleanupExpired every interval until ctx ends or Close is
// called. Calling it again replaces the running janitor.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.stopJanitor()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.janitorMu.Lock()
	s.janitorCancel = cancel
	s.janitorDone = done
	s.janitorMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanupExpired(ctx)
				if err != nil {
					s.logger.Warn("memory cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("expired memory entries removed", zap.Int("count", n))
				}
				if _, err := s.Stats(ctx); err != nil {
					s.logger.Debug("memory stats unavailable", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Service) stopJanitor() {
	s.janitorMu.Lock()
	cancel, done := s.janitorCancel, s.janitorDone
	s.janitorCancel, s.janitorDone = nil, nil
	s.janitorMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops the janitor and closes the underlying store.
func (s *Service) Close() error {
	s.stopJanitor()
	return s.store.Close()
}
