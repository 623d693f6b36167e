package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelinePhaseDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_pipeline_phase_duration_seconds",
			Help:    "Duration of pipeline phases (deterministic match, LLM extraction, execution, ...).",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase", "outcome"},
	)
	draftsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_drafts_total",
			Help: "SQL drafts produced, by source and status.",
		},
		[]string{"source", "status"},
	)
	parameterResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_parameter_resolutions_total",
			Help: "Parameter resolutions by method (known, exact, fuzzy, temporal, keyword, llm, default, missing).",
		},
		[]string{"method"},
	)
	agentLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_agent_lookups_total",
			Help: "Agent identity resolutions by result (instance, cache, remote, created, list_error).",
		},
		[]string{"result"},
	)
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_llm_calls_total",
			Help: "LLM completion calls by agent and outcome.",
		},
		[]string{"agent", "outcome"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_query_executions_total",
			Help: "SQL executions by outcome (success, rejected, failed).",
		},
		[]string{"outcome"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_rows_returned",
			Help:    "Rows returned per successful execution.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		},
	)
	pendingClarificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_clarifications_requested_total",
			Help: "Total number of clarification requests sent back to users.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelinePhaseDurationSeconds,
		draftsTotal,
		parameterResolutionsTotal,
		agentLookupsTotal,
		llmCallsTotal,
		queryExecutionsTotal,
		queryRowsReturned,
		pendingClarificationsTotal,
	)
}

func ObservePhase(phase string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	pipelinePhaseDurationSeconds.WithLabelValues(phase, outcome).Observe(elapsed.Seconds())
}

func ObserveDraft(source, status string) {
	draftsTotal.WithLabelValues(source, status).Inc()
}

func ObserveParameterResolution(method string) {
	parameterResolutionsTotal.WithLabelValues(method).Inc()
}

func ObserveAgentLookup(result string) {
	agentLookupsTotal.WithLabelValues(result).Inc()
}

func ObserveLLMCall(agent string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmCallsTotal.WithLabelValues(agent, outcome).Inc()
}

func ObserveQueryExecution(outcome string, rows int) {
	queryExecutionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		queryRowsReturned.Observe(float64(rows))
	}
}

func IncrementClarificationRequests() {
	pendingClarificationsTotal.Inc()
}
