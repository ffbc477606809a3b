package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wekeepgrowing/semo-billing/internal/usecase"
)

// Metrics holds the billing Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	ItemsTotal         *prometheus.CounterVec
	ChargesTotal       *prometheus.CounterVec
	ChargeDuration     *prometheus.HistogramVec
	ChargedAmountTotal *prometheus.CounterVec
	InconsistentWrites *prometheus.CounterVec
	LastRunTimestamp   prometheus.Gauge
}

// NewMetrics creates and registers the billing metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_runs_total",
				Help: "Total number of billing cycle runs",
			},
			[]string{"trigger", "result"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_run_duration_seconds",
				Help:    "Billing cycle run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"trigger"},
		),
		ItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_items_total",
				Help: "Subscriptions processed per phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_charges_total",
				Help: "Charge attempts per provider and result",
			},
			[]string{"provider", "success"},
		),
		ChargeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_charge_duration_seconds",
				Help:    "Gateway charge latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ChargedAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_charged_amount_total",
				Help: "Sum of successfully charged amounts in minor units",
			},
			[]string{"provider"},
		),
		InconsistentWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_inconsistent_writes_total",
				Help: "Successful charges whose local write failed",
			},
			[]string{"phase"},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_last_run_timestamp_seconds",
				Help: "Unix time the last billing run finished",
			},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ItemsTotal,
		m.ChargesTotal,
		m.ChargeDuration,
		m.ChargedAmountTotal,
		m.InconsistentWrites,
		m.LastRunTimestamp,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(trigger string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

func (m *Metrics) ItemProcessed(phase usecase.Phase, outcome usecase.ItemOutcome) {
	m.ItemsTotal.WithLabelValues(string(phase), string(outcome)).Inc()
}

func (m *Metrics) ChargeAttempted(provider string, success bool, amount int64, duration time.Duration) {
	m.ChargesTotal.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
	m.ChargeDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if success {
		m.ChargedAmountTotal.WithLabelValues(provider).Add(float64(amount))
	}
}

func (m *Metrics) InconsistentWrite(phase usecase.Phase) {
	m.InconsistentWrites.WithLabelValues(string(phase)).Inc()
}

var _ usecase.Recorder = (*Metrics)(nil)
