package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// poolCollector reads slot counts at scrape time so the gauges never drift
// from the coordinator's own view
type poolCollector struct {
	source StatsSource

	sessions   *prometheus.Desc
	size       *prometheus.Desc
	queueDepth *prometheus.Desc
}

func newPoolCollector(source StatsSource) *poolCollector {
	return &poolCollector{
		source: source,
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(MetricsNamespace, subsystemPool, "sessions"),
			"Pool slots by session state",
			[]string{"state"}, nil,
		),
		size: prometheus.NewDesc(
			prometheus.BuildFQName(MetricsNamespace, subsystemPool, "size"),
			"Fixed number of pool slots",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(MetricsNamespace, subsystemPool, "queue_depth"),
			"Requests waiting for a session",
			nil, nil,
		),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.size
	ch <- c.queueDepth
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	byState := map[models.SessionState]int{
		models.StateIdle:       stats.Idle,
		models.StateBusy:       stats.Busy,
		models.StateStarting:   stats.Starting,
		models.StateRefreshing: stats.Refreshing,
		models.StateTerminated: stats.Terminated,
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(n), string(state))
	}
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(stats.QueueDepth))
}
