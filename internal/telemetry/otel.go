package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterOTELInstruments wires store into meter as a set of observable
// instruments, read via a single callback so every family in store is
// reported from one consistent snapshot per collection cycle — the same
// in-memory state the Prometheus Collector in prometheus.go exposes.
func RegisterOTELInstruments(meter metric.Meter, store *Store) error {
	requestsTotal, err := meter.Int64ObservableCounter("algo.requests.total",
		metric.WithDescription("Total number of algorithm invocations."))
	if err != nil {
		return err
	}
	requestsFailed, err := meter.Int64ObservableCounter("algo.requests.failed",
		metric.WithDescription("Total number of failed algorithm invocations."))
	if err != nil {
		return err
	}
	inflight, err := meter.Int64ObservableGauge("algo.inflight",
		metric.WithDescription("Number of algorithm invocations currently executing."))
	if err != nil {
		return err
	}
	latencySum, err := meter.Float64ObservableCounter("algo.latency.ms.sum",
		metric.WithDescription("Cumulative algorithm execution latency in milliseconds."))
	if err != nil {
		return err
	}
	queueWaitSum, err := meter.Float64ObservableCounter("algo.queue_wait.ms.sum",
		metric.WithDescription("Cumulative queue wait time in milliseconds."))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		store.mu.RLock()
		entries := make(map[metricKey]*algoMetrics, len(store.byKV))
		for k, v := range store.byKV {
			entries[k] = v
		}
		store.mu.RUnlock()

		for key, m := range entries {
			m.mu.Lock()
			rt, rf, inf := int64(m.requestsTotal), int64(m.requestsFailed), int64(m.inflight)
			latSum, qSum := m.latency.sum, m.queueWait.sum
			m.mu.Unlock()

			attrs := metric.WithAttributes(
				attribute.String("name", key.Name),
				attribute.String("version", key.Version),
			)
			o.ObserveInt64(requestsTotal, rt, attrs)
			o.ObserveInt64(requestsFailed, rf, attrs)
			o.ObserveInt64(inflight, inf, attrs)
			o.ObserveFloat64(latencySum, latSum, attrs)
			o.ObserveFloat64(queueWaitSum, qSum, attrs)
		}
		return nil
	}, requestsTotal, requestsFailed, inflight, latencySum, queueWaitSum)
	return err
}
