package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Placement results
const (
	ResultAccepted    = "accepted"
	ResultCooldown    = "cooldown"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
)

var (
	placementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Placement attempts by result.",
		},
		[]string{"result"},
	)

	placementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "placement_commit_duration_seconds",
			Help:      "Time spent in the store's atomic placement commit.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	canvasRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canvas_revision",
			Help:      "Latest revision seen by this process.",
		},
	)

	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_publish_failures_total",
			Help:      "Committed deltas that could not be published.",
		},
	)

	subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected change stream subscribers.",
		},
	)

	subscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Subscribers disconnected by the server, by reason.",
		},
		[]string{"reason"},
	)

	gapRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_gap_repairs_total",
			Help:      "Revision gaps detected by the broadcaster, by outcome.",
		},
		[]string{"outcome"},
	)
)

// ObservePlacement records one placement attempt
func ObservePlacement(result string, commit time.Duration) {
	placementsTotal.WithLabelValues(result).Inc()
	if commit > 0 {
		placementDuration.Observe(commit.Seconds())
	}
}

// SetRevision records the latest revision
func SetRevision(rev int64) {
	canvasRevision.Set(float64(rev))
}

// PublishFailed counts a delta that committed but was not published
func PublishFailed() {
	publishFailures.Inc()
}

// SubscriberAdded increments the live subscriber gauge
func SubscriberAdded() {
	subscribers.Inc()
}

// SubscriberRemoved decrements the live subscriber gauge
func SubscriberRemoved() {
	subscribers.Dec()
}

// SubscriberDropped counts a server-side disconnect
func SubscriberDropped(reason string) {
	subscriberDrops.WithLabelValues(reason).Inc()
}

// GapRepaired counts a revision gap; outcome is "filled" or "resync"
func GapRepaired(outcome string) {
	gapRepairs.WithLabelValues(outcome).Inc()
}

// Registry exposes the registerer the collectors live in, for extra
// collectors such as the pgx pool collector
func Registry() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}
