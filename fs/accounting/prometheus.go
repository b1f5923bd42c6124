package accounting

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts chunk transfers for prometheus
type Metrics struct {
	Transfers *prometheus.CounterVec
	Bytes     *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance, the instance shall be
// assigned to DefaultMetrics before any transfers take place.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "transfers_total",
			Help:      "Chunk transfers by direction, account and result",
		}, []string{"direction", "account", "result"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "bytes_total",
			Help:      "Bytes of chunk data moved by direction and account",
		}, []string{"direction", "account"}),
	}
}

// DefaultMetrics is updated by every finished transfer if set
var DefaultMetrics = (*Metrics)(nil)

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.Transfers,
		m.Bytes,
	}
}

func (m *Metrics) observe(tr *Transfer, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Transfers.WithLabelValues(string(tr.direction), tr.account, result).Inc()
	if n := tr.Bytes(); n > 0 {
		m.Bytes.WithLabelValues(string(tr.direction), tr.account).Add(float64(n))
	}
}
