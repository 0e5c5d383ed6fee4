// Package metrics exposes vote lifecycle and ops HTTP metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nuclight.org/gatekeeper/internal/vote"
)

// Recorder is a vote.Observer that counts lifecycle events.
type Recorder struct {
	vote.NopObserver

	VotesOpened    prometheus.Counter
	VotesClosed    *prometheus.CounterVec
	Sweeps         *prometheus.CounterVec
	SweepFailures  prometheus.Counter
	SweepReconcile prometheus.Counter
	LastSweep      prometheus.Gauge

	RequestsTotal *prometheus.CounterVec
	ReqDuration   *prometheus.HistogramVec
	InFlight      prometheus.Gauge
}

func New() *Recorder {
	return &Recorder{
		VotesOpened: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_votes_opened_total", Help: "Join votes opened"},
		),
		VotesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gatekeeper_votes_closed_total", Help: "Join votes finalized and archived"},
			[]string{"tally"},
		),
		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gatekeeper_sweeps_total", Help: "Sweeps run"},
			[]string{"result"},
		),
		SweepFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_sweep_failures_total", Help: "Expired votes a sweep failed to finalize"},
		),
		SweepReconcile: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_sweep_reconciled_total", Help: "Stale claims repaired by a sweep"},
		),
		LastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gatekeeper_last_sweep_timestamp_seconds", Help: "Completion time of the last sweep"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"route", "method", "status"},
		),
		ReqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request duration seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
		),
	}
}

func (r *Recorder) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.VotesOpened, r.VotesClosed, r.Sweeps, r.SweepFailures, r.SweepReconcile, r.LastSweep,
		r.RequestsTotal, r.ReqDuration, r.InFlight,
	)
}

func (r *Recorder) VoteCreated(context.Context, *vote.Record) {
	r.VotesOpened.Inc()
}

func (r *Recorder) VoteClosed(_ context.Context, rec *vote.Record) {
	tally := "available"
	if rec.Results == nil || rec.Results.Unavailable {
		tally = "unavailable"
	}
	r.VotesClosed.WithLabelValues(tally).Inc()
}

func (r *Recorder) SweepCompleted(_ context.Context, res *vote.SweepResult) {
	if res.Skipped {
		r.Sweeps.WithLabelValues("skipped").Inc()
		return
	}
	r.Sweeps.WithLabelValues("completed").Inc()
	r.SweepFailures.Add(float64(len(res.Failed)))
	r.SweepReconcile.Add(float64(len(res.Reconciled)))
	r.LastSweep.Set(float64(time.Now().Unix()))
}
