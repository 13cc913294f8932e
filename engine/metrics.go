package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/lockberry/types"
)

const namespace = "lockberry"

// Operation results
const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	lockedSupply     prometheus.Gauge
	accounts         prometheus.Gauge
	shutdown         prometheus.Gauge
	walSeq           prometheus.Gauge
	operations       *prometheus.CounterVec
	deposited        prometheus.Counter
	settled          *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockedSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "locked_supply",
			Help:      "Total value currently locked across all accounts",
		}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "accounts",
			Help:      "Number of accounts with a lock history",
		}),
		shutdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "shutdown",
			Help:      "1 once the ledger has been shut down",
		}),
		walSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "last_seq",
			Help:      "Sequence number of the last WAL record",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by type and result",
		}, []string{"op", "result"}),
		deposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "deposited_total",
			Help:      "Value deposited into locks",
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settled_total",
			Help:      "Matured value settled, by whether it was relocked",
		}, []string{"relock"}),
		snapshotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "snapshot_duration_seconds",
			Help:      "Time taken to write a snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.lockedSupply,
			m.accounts,
			m.shutdown,
			m.walSeq,
			m.operations,
			m.deposited,
			m.settled,
			m.snapshotDuration,
		)
	}
	return m
}

func (m *Metrics) observeOp(op string, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeLedger(supply types.Amount, accounts int, seq uint64) {
	m.lockedSupply.Set(float64(supply))
	m.accounts.Set(float64(accounts))
	m.walSeq.Set(float64(seq))
}

func (m *Metrics) observeDeposit(amount types.Amount) {
	m.deposited.Add(float64(amount))
}

func (m *Metrics) observeSettle(amount types.Amount, relock bool) {
	label := "false"
	if relock {
		label = "true"
	}
	m.settled.WithLabelValues(label).Add(float64(amount))
}

func (m *Metrics) observeShutdown() {
	m.shutdown.Set(1)
}

func (m *Metrics) observeSnapshot(start time.Time, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.snapshotDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
