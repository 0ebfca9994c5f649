package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herald_jobs_total",
			Help: "Total number of queue jobs by state",
		},
		[]string{"state"},
	)

	RepeatRulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_repeat_rules_total",
			Help: "Total number of registered repeat rules",
		},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_jobs_processed_total",
			Help: "Total number of job attempts by job name and outcome",
		},
		[]string{"name", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)

	// Reminder metrics
	RemindersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herald_reminders_total",
			Help: "Total number of reminders by status",
		},
		[]string{"status"},
	)

	RemindersScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_reminders_scheduled_total",
			Help: "Total number of reminders scheduled",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_scheduling_latency_seconds",
			Help:    "Time taken to compile and enqueue a reminder in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_reconciliation_cycles_total",
			Help: "Total number of reminder reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_reconciliation_duration_seconds",
			Help:    "Time taken for a reminder reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RemindersRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_reminders_repaired_total",
			Help: "Total number of missed reminder settlements replayed by the reconciler",
		},
	)

	// Executor metrics
	PlansExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_plans_executed_total",
			Help: "Total number of plans executed by outcome",
		},
		[]string{"outcome"},
	)

	ActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_actions_executed_total",
			Help: "Total number of actions executed by kind and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_action_duration_seconds",
			Help:    "Action handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Broadcast metrics
	AgentStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_agent_states_total",
			Help: "Total number of agent states recorded by label",
		},
		[]string{"state"},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_delivery_failures_total",
			Help: "Total number of dropped client or push deliveries by channel",
		},
		[]string{"channel"},
	)

	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_subscribers_active",
			Help: "Number of open client event streams",
		},
	)

	// Chat metrics
	RepliesSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_replies_superseded_total",
			Help: "Total number of reply generations cancelled by a newer message",
		},
	)

	ReplyTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_reply_timeouts_total",
			Help: "Total number of replies not produced inside the reply window",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(RepeatRulesTotal)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(RemindersTotal)
	prometheus.MustRegister(RemindersScheduled)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(RemindersRepaired)
	prometheus.MustRegister(PlansExecuted)
	prometheus.MustRegister(ActionsExecuted)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(AgentStatesTotal)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(SubscribersActive)
	prometheus.MustRegister(RepliesSuperseded)
	prometheus.MustRegister(ReplyTimeouts)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome converts a success flag into a metric label
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
