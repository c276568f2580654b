package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails handed off to the relay",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed sends",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	ActiveRunners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_runners",
			Help: "Job runners currently live",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(ActiveRunners)
}
