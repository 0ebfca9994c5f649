/*
Package health probes herald's external dependencies and feeds the results
into the readiness endpoint.

# Architecture

	┌──────────────────────── Monitor ───────────────────────────┐
	│  one goroutine per component, each on its own Interval     │
	└─────┬──────────────────────────────┬───────────────────────┘
	      │                              │
	      ▼                              ▼
	┌─────────────┐               ┌─────────────┐
	│ PingChecker │               │ HTTPChecker │
	│ cache.Ping  │               │ GET URL     │
	└──────┬──────┘               └──────┬──────┘
	       │         Result              │
	       └──────────────┬──────────────┘
	                      ▼
	              Status.Update (retries, start period)
	                      │
	                      ▼
	              Reporter (default: metrics.UpdateComponent)
	                      │
	                      ▼
	              /health and /ready

# Checkers

PingChecker wraps anything with a Ping(ctx) error method. The server uses
it for the cache backend, so a Redis outage turns /ready to 503 until the
connection recovers.

HTTPChecker issues a GET, accepts a configurable status range and can
require a JSON field in the body. The server uses it against
{llm.baseURL}/models, requiring "data", when a self-hosted model endpoint
is configured. The llm component is not critical for readiness;
its state only shows up on /health.

# Status

Each component moves between three states:

	starting ──success──▶ up
	    │                 │ ▲
	    │ Retries         │ │ success
	    │ failures        ▼ │
	    └──────────────▶ down ◀── Retries consecutive failures

Failures do not count while a component is starting and StartPeriod has
not passed. Starting and up are reported healthy. Only state changes are
logged; every check is reported.

# Usage

	mon := health.NewMonitor(nil)
	mon.Add("cache", health.NewPingChecker(backend), health.Config{
		Interval: 15 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  2,
	})
	mon.Start(ctx)
	defer mon.Stop()
*/
package health
