package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgxpool statistics for the postgres cell store.
// Stats are read during each scrape.
type PoolCollector struct {
	pool *pgxpool.Pool

	acquireCount    *prometheus.Desc
	acquireDuration *prometheus.Desc
	acquiredConns   *prometheus.Desc
	idleConns       *prometheus.Desc
	totalConns      *prometheus.Desc
	maxConns        *prometheus.Desc
}

// NewPoolCollector creates a collector for one pool
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pgxpool", name), help, nil, nil)
	}
	return &PoolCollector{
		pool:            pool,
		acquireCount:    desc("acquire_count", "Cumulative count of successful connection acquires."),
		acquireDuration: desc("acquire_duration_seconds", "Cumulative time spent acquiring connections."),
		acquiredConns:   desc("acquired_conns", "Number of currently acquired connections."),
		idleConns:       desc("idle_conns", "Number of idle connections in the pool."),
		totalConns:      desc("total_conns", "Total number of connections in the pool."),
		maxConns:        desc("max_conns", "Maximum number of connections allowed."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquireCount
	ch <- c.acquireDuration
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
}
