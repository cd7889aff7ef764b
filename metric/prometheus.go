package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace of exported prometheus metrics.
const Namespace = "voltpipe"

var (
	blocksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "stage", "blocks_total"),
		"Total number of blocks processed by the stage",
		[]string{"stage"}, nil,
	)
	bytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "stage", "bytes_total"),
		"Total number of payload bytes processed by the stage",
		[]string{"stage"}, nil,
	)
	blockedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "stage", "blocked_total"),
		"Total number of ring wait timeouts of the stage",
		[]string{"stage"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "stage", "latency_seconds"),
		"Time between the last two processed blocks",
		[]string{"stage"}, nil,
	)
)

// Collector exports measures of the metric to prometheus.
type Collector struct {
	metric *Metric
}

// NewCollector returns prometheus collector of the metric.
func NewCollector(m *Metric) *Collector {
	return &Collector{metric: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- blocksDesc
	ch <- bytesDesc
	ch <- blockedDesc
	ch <- latencyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for stage, counters := range c.metric.Measure() {
		if v, ok := counters[BlockCounter].(int64); ok {
			ch <- prometheus.MustNewConstMetric(blocksDesc, prometheus.CounterValue, float64(v), stage)
		}
		if v, ok := counters[ByteCounter].(int64); ok {
			ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(v), stage)
		}
		if v, ok := counters[BlockedCounter].(int64); ok {
			ch <- prometheus.MustNewConstMetric(blockedDesc, prometheus.CounterValue, float64(v), stage)
		}
		// latency is unknown until the first block.
		if v, ok := counters[LatencyCounter].(time.Duration); ok {
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, v.Seconds(), stage)
		}
	}
}
