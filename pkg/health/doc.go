/*
Package health runs periodic checks of the things a compile node depends on
and publishes them through the health endpoints of package metrics.

The daemon can only serve jobs when the compilers it hands jobs to start:

	iceccd
	  │
	  ├── Watch(CompilerChecker{"gcc"})  ──▶ component "compiler:gcc"
	  └── Watch(CompilerChecker{"g++"})  ──▶ component "compiler:g++"
	                                             │
	                                             ▼
	                                 /health  /ready  (package metrics)

# Checks

A Checker returns a Result for one attempt. CompilerChecker runs
"<compiler> --version" with a timeout and reports the first line of the
banner.

# Status

Status counts consecutive outcomes. A component turns healthy on its first
passing check and unhealthy only after Config.Retries failures in a row, so
one slow run on a loaded machine does not flip readiness.
*/
package health
