package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "csv_agent_build_info",
			Help: "Build information of the CSV agent",
		},
		[]string{"version", "commit", "date"},
	)

	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_agent_questions_total",
			Help: "Total number of questions answered, by terminal state",
		},
		[]string{"outcome"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_agent_attempts_total",
			Help: "Total number of query attempts, by outcome",
		},
		[]string{"outcome"},
	)

	FaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_agent_faults_total",
			Help: "Total number of attempt faults, by kind",
		},
		[]string{"kind"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csv_agent_llm_request_duration_seconds",
			Help:    "Duration of language model requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 0.05s to ~25s
		},
		[]string{"provider"},
	)

	TablesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csv_agent_tables_loaded",
			Help: "Number of tables currently loaded",
		},
	)
)
