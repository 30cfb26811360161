package store

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iwasamnot/campuschat/internal/models"
)

// Metrics counts write-path operations against the metered backend.
type Metrics struct {
	writes  prometheus.Counter
	updates prometheus.Counter
	deletes prometheus.Counter
	errors  *prometheus.CounterVec
}

// NewMetrics registers the store counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		writes: factory.NewCounter(prometheus.CounterOpts{
			Name: "campuschat_store_writes_total",
			Help: "Documents written to the backing store.",
		}),
		updates: factory.NewCounter(prometheus.CounterOpts{
			Name: "campuschat_store_updates_total",
			Help: "Documents updated in the backing store.",
		}),
		deletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "campuschat_store_deletes_total",
			Help: "Documents deleted from the backing store.",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campuschat_store_errors_total",
			Help: "Store operations that returned an error, by operation.",
		}, []string{"op"}),
	}
}

// Metered wraps a Store and counts every mutating call. The backend is
// billed per write, so the counters are the ground truth for the write
// budget the batching components exist to protect.
type Metered struct {
	inner   Store
	metrics *Metrics
}

// NewMetered wraps inner with operation counters.
func NewMetered(inner Store, metrics *Metrics) *Metered {
	return &Metered{inner: inner, metrics: metrics}
}

func (m *Metered) Write(ctx context.Context, msg *models.Message) (string, error) {
	id, err := m.inner.Write(ctx, msg)
	if err != nil {
		m.metrics.errors.WithLabelValues("write").Inc()
		return "", err
	}
	m.metrics.writes.Inc()
	return id, nil
}

func (m *Metered) Update(ctx context.Context, msg *models.Message) error {
	if err := m.inner.Update(ctx, msg); err != nil {
		m.metrics.errors.WithLabelValues("update").Inc()
		return err
	}
	m.metrics.updates.Inc()
	return nil
}

func (m *Metered) Delete(ctx context.Context, id string) error {
	if err := m.inner.Delete(ctx, id); err != nil {
		m.metrics.errors.WithLabelValues("delete").Inc()
		return err
	}
	m.metrics.deletes.Inc()
	return nil
}

func (m *Metered) Get(ctx context.Context, id string) (*models.Message, error) {
	return m.inner.Get(ctx, id)
}

func (m *Metered) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	return m.inner.Subscribe(ctx, q)
}
