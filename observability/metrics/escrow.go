package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	operations   *prometheus.CounterVec
	openListings prometheus.Gauge
	settledValue prometheus.Counter
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily-initialised metrics registry shared by every
// ledger engine in the process.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of ledger operations by kind and result.",
			}, []string{"op", "result"}),
			openListings: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_open_listings",
				Help: "Number of listings currently awaiting settlement or cancellation.",
			}),
			settledValue: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_settled_value_total",
				Help: "Cumulative purchase price of settled listings in base units.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.openListings,
			escrowRegistry.settledValue,
		)
	})
	return escrowRegistry
}

// ObserveOperation records one ledger call and whether it succeeded.
func (m *EscrowMetrics) ObserveOperation(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// AddOpenListings moves the open-listings gauge by the given delta.
func (m *EscrowMetrics) AddOpenListings(delta float64) {
	if m == nil {
		return
	}
	m.openListings.Add(delta)
}

// ObserveSettlement accumulates the settled purchase price.
func (m *EscrowMetrics) ObserveSettlement(amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	if value < 0 {
		return
	}
	m.settledValue.Add(value)
}
