// internal/utils/metrics/metrics.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "lending"

// Определение метрик с лейблами
func newAdapterCalls() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_calls_total",
			Help:      "Adapter calls by protocol, method and outcome",
		},
		[]string{"protocol", "method", "status"},
	)
}

func newAdapterLatency() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_duration_seconds",
			Help:      "Adapter call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"protocol", "method"},
	)
}

func newTransactions() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Lending operations by protocol, operation and outcome",
		},
		[]string{"protocol", "operation", "status"},
	)
}

func newPartialFailures() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_failures_total",
			Help:      "Protocols omitted from aggregate answers",
		},
		[]string{"operation", "protocol"},
	)
}

func newRPCLatency() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "RPC request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"method", "endpoint"},
	)
}
