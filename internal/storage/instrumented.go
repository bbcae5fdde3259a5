package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"attache/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented wraps a BlobStore with Prometheus metrics and debug logging.
type Instrumented struct {
	next     BlobStore
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewInstrumented decorates next. Collectors are registered with reg; a nil
// reg records into unregistered collectors.
func NewInstrumented(next BlobStore, reg prometheus.Registerer) *Instrumented {
	return &Instrumented{
		next:     next,
		ops:      metrics.StoreOperations(reg),
		duration: metrics.StoreDuration(reg),
	}
}

func (s *Instrumented) Driver() Driver { return s.next.Driver() }

func (s *Instrumented) URL(key string) string { return s.next.URL(key) }

func (s *Instrumented) Put(ctx context.Context, key string, sourcePath string, contentType string) error {
	start := time.Now()
	err := s.next.Put(ctx, key, sourcePath, contentType)
	s.observe("put", key, start, err)
	return err
}

func (s *Instrumented) Contents(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Contents(ctx, key)
	s.observe("contents", key, start, err)
	return data, err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.observe("delete", key, start, err)
	return err
}

// List forwards to the decorated store when it is a Lister.
func (s *Instrumented) List(ctx context.Context, prefix string) ([]Info, error) {
	lister, ok := s.next.(Lister)
	if !ok {
		return nil, ErrListUnsupported
	}

	start := time.Now()
	infos, err := lister.List(ctx, prefix)
	s.observe("list", prefix, start, err)
	return infos, err
}

func (s *Instrumented) observe(op string, key string, start time.Time, err error) {
	driver := string(s.next.Driver())
	elapsed := time.Since(start)

	result := metrics.Result(err)
	if errors.Is(err, ErrNotFound) {
		result = "not_found"
	}

	s.ops.WithLabelValues(driver, op, result).Inc()
	s.duration.WithLabelValues(driver, op).Observe(elapsed.Seconds())

	slog.Debug("Blob store operation", "driver", driver, "op", op, "key", key, "result", result, "duration", elapsed)
}
