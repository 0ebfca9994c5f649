/*
Package metrics provides Prometheus metrics and health reporting for herald.

All collectors are package-level variables registered with the default
registry in init and exposed by Handler on /metrics.

	herald_jobs_total{state}                   gauge      sampled by Collector
	herald_repeat_rules_total                  gauge      sampled by Collector
	herald_jobs_processed_total{name,outcome}  counter    queue worker
	herald_job_duration_seconds{name}          histogram  queue worker
	herald_reminders_total{status}             gauge      sampled by Collector
	herald_reminders_scheduled_total           counter    scheduler
	herald_scheduling_latency_seconds          histogram  scheduler
	herald_plans_executed_total{outcome}       counter    executor
	herald_actions_executed_total{action,...}  counter    executor
	herald_action_duration_seconds{action}     histogram  executor
	herald_agent_states_total{state}           counter    broadcast
	herald_delivery_failures_total{channel}    counter    broadcast, notify
	herald_subscribers_active                  gauge      sampled by Collector
	herald_replies_superseded_total            counter    chat
	herald_reply_timeouts_total                counter    chat
	herald_api_requests_total{method,status}   counter    api interceptor
	herald_api_request_duration_seconds        histogram  api interceptor

Timer wraps time.Since for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActionDuration, string(kind))

The health half of the package tracks component status reported by running
services (the Collector reports "queue" and "storage" as it samples them).
/ready stays 503 until every critical component has reported healthy.
*/
package metrics
