package redis

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis requests by method.",
		},
		[]string{"method"},
	)
	redisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors by method.",
		},
		[]string{"method"},
	)
	redisRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// KV is the small key-value surface used by the session store.
type KV interface {
	GetString(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MetricsClient wraps a KV to collect Prometheus metrics.
type MetricsClient struct {
	next KV
}

// NewMetricsClient creates an instrumented Redis client.
func NewMetricsClient(next KV) *MetricsClient {
	return &MetricsClient{next: next}
}

func (m *MetricsClient) GetString(ctx context.Context, key string) (string, error) {
	done := observe("get")
	result, err := m.next.GetString(ctx, key)
	// redis.Nil is a miss, not a failure.
	done(err != nil && !IsNil(err))
	return result, err
}

func (m *MetricsClient) SetValue(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	done := observe("set")
	err := m.next.SetValue(ctx, key, value, ttl)
	done(err != nil)
	return err
}

func (m *MetricsClient) Delete(ctx context.Context, keys ...string) error {
	done := observe("delete")
	err := m.next.Delete(ctx, keys...)
	done(err != nil)
	return err
}

func observe(method string) func(failed bool) {
	timer := prometheus.NewTimer(redisRequestDuration.WithLabelValues(method))
	return func(failed bool) {
		timer.ObserveDuration()
		redisRequestsTotal.WithLabelValues(method).Inc()
		if failed {
			redisErrorsTotal.WithLabelValues(method).Inc()
		}
	}
}
