/*
Package metrics provides Prometheus metrics and health endpoints for the
icecream daemon and scheduler.

All collectors are package variables registered with the default
Prometheus registry in init, so callers update them directly:

	metrics.DaemonCurrentKids.Set(float64(kids))
	metrics.DaemonJobsTotal.WithLabelValues("success").Inc()

	timer := metrics.NewTimer()
	// ... run the job ...
	timer.ObserveDuration(metrics.DaemonJobDuration)

# Daemon Metrics

icecc_daemon_current_kids:
  - Type: Gauge
  - Jobs running right now

icecc_daemon_max_kids:
  - Type: Gauge
  - Concurrent job limit

icecc_daemon_queue_length:
  - Type: Gauge
  - Accepted requests waiting for a slot

icecc_daemon_jobs_total{result}:
  - Type: Counter
  - result is "success" or "failed" by compiler exit status

icecc_daemon_scheduler_reconnects_total:
  - Type: Counter
  - Scheduler sessions established

icecc_daemon_scheduler_connected:
  - Type: Gauge
  - 1 while logged in to a scheduler

icecc_daemon_job_duration_seconds:
  - Type: Histogram
  - Wall clock time from spawn to exit

# Scheduler Metrics

icecc_scheduler_daemons and icecc_scheduler_monitors are gauges sampled by
Collector from the running scheduler. icecc_scheduler_assignments_total
counts GetCompileServer answers by outcome ("assigned", "no_server").

# Health Endpoints

NewServeMux serves four paths, and Serve runs it on an address until the
context ends:

	/metrics   Prometheus exposition
	/health    every registered component; 503 if any is unhealthy
	/ready     critical components only (SetCriticalComponents)
	/live      always 200 while the process runs

Components are registered and updated by name:

	metrics.RegisterComponent("listener", true, addr)
	metrics.UpdateComponent("scheduler", false, "not connected")

The daemon registers "listener", "scheduler" and one "compiler:<name>"
component per watched compiler (package health).
*/
package metrics
