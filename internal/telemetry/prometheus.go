package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	descRequestsTotal = prometheus.NewDesc(
		"algo_requests_total", "Total number of algorithm invocations.",
		[]string{"name", "version"}, nil)
	descRequestsFailed = prometheus.NewDesc(
		"algo_requests_failed_total", "Total number of failed algorithm invocations.",
		[]string{"name", "version"}, nil)
	descInflight = prometheus.NewDesc(
		"algo_inflight_requests", "Number of algorithm invocations currently executing.",
		[]string{"name", "version"}, nil)
	descLatency = prometheus.NewDesc(
		"algo_latency_ms", "Algorithm execution latency in milliseconds.",
		[]string{"name", "version"}, nil)
	descQueueWait = prometheus.NewDesc(
		"algo_queue_wait_ms", "Time a request spent queued before execution, in milliseconds.",
		[]string{"name", "version"}, nil)
)

// Describe implements prometheus.Collector.
func (s *Store) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequestsTotal
	ch <- descRequestsFailed
	ch <- descInflight
	ch <- descLatency
	ch <- descQueueWait
}

// Collect implements prometheus.Collector, snapshotting every metric family
// under its own lock and emitting const metrics so promhttp.Handler can
// expose the same state this package's OTEL snapshot reads (otel.go).
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	s.mu.RLock()
	entries := make(map[metricKey]*algoMetrics, len(s.byKV))
	for k, v := range s.byKV {
		entries[k] = v
	}
	s.mu.RUnlock()

	for key, m := range entries {
		m.mu.Lock()
		requestsTotal := float64(m.requestsTotal)
		requestsFailed := float64(m.requestsFailed)
		inflight := float64(m.inflight)
		latencyBuckets, latencySum, latencyCount := histogramSnapshot(m.latency)
		queueBuckets, queueSum, queueCount := histogramSnapshot(m.queueWait)
		m.mu.Unlock()

		labels := []string{key.Name, key.Version}
		ch <- prometheus.MustNewConstMetric(descRequestsTotal, prometheus.CounterValue, requestsTotal, labels...)
		ch <- prometheus.MustNewConstMetric(descRequestsFailed, prometheus.CounterValue, requestsFailed, labels...)
		ch <- prometheus.MustNewConstMetric(descInflight, prometheus.GaugeValue, inflight, labels...)
		ch <- prometheus.MustNewConstHistogram(descLatency, latencyCount, latencySum, latencyBuckets, labels...)
		ch <- prometheus.MustNewConstHistogram(descQueueWait, queueCount, queueSum, queueBuckets, labels...)
	}
}

// histogramSnapshot converts the internal cumulative-count representation
// into the map[upperBound]cumulativeCount shape prometheus.NewConstHistogram
// expects (the +Inf bucket is implicit in count and must not be passed).
func histogramSnapshot(h *histogram) (buckets map[float64]uint64, sum float64, count uint64) {
	buckets = make(map[float64]uint64, len(BucketBoundsMS))
	for i, bound := range BucketBoundsMS {
		buckets[bound] = uint64(h.buckets[i])
	}
	return buckets, h.sum, h.count
}
