// Package metrics collects check-in and credential exchange metrics and
// exposes them for Prometheus scraping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics sink used by the exchanger and the executor.
type Recorder interface {
	RecordCheckin(game, status string)
	RecordExchangeFailure(kind string)
	RecordUpstreamLatency(op string, d time.Duration)
	RecordReport(users int, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCheckin(string, string) {}
func (Nop) RecordExchangeFailure(string) {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordReport(int, time.Duration) {}

type Collector struct {
	checkins         *prometheus.CounterVec
	exchangeFailures *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	reports          prometheus.Counter
	reportUsers      prometheus.Histogram
	reportDuration   prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)
var _ Recorder = Nop{}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skd_checkin_total",
			Help: "Check-in attempts by game and outcome.",
		}, []string{"game", "status"}),
		exchangeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skd_exchange_failures_total",
			Help: "Credential exchanges that failed, by failure kind.",
		}, []string{"kind"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skd_upstream_latency_seconds",
			Help:    "Latency of upstream Skland calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skd_reports_total",
			Help: "Status reports produced.",
		}),
		reportUsers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skd_report_users",
			Help:    "Users covered by one status report.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skd_report_duration_seconds",
			Help:    "Wall time to produce one status report.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.checkins,
		c.exchangeFailures,
		c.upstreamLatency,
		c.reports,
		c.reportUsers,
		c.reportDuration,
	)
	return c
}

func (c *Collector) RecordCheckin(game, status string) {
	c.checkins.WithLabelValues(game, status).Inc()
}

func (c *Collector) RecordExchangeFailure(kind string) {
	c.exchangeFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordUpstreamLatency(op string, d time.Duration) {
	c.upstreamLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) RecordReport(users int, d time.Duration) {
	c.reports.Inc()
	c.reportUsers.Observe(float64(users))
	c.reportDuration.Observe(d.Seconds())
}
