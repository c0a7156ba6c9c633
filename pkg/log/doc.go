/*
Package log provides structured logging for icecream using zerolog.

Every binary initializes the package-level Logger once via Init and then
derives component loggers from it:

	log.Init(log.Config{Level: log.InfoLevel})
	daemonLog := log.WithComponent("daemon")
	daemonLog.Info().Int("max_kids", 5).Msg("allowing active jobs")

# Verbosity

The ICECC_DEBUG environment variable is honoured by all binaries through
LevelFromDebugEnv:

	info      info and above
	debug     debug and above
	trace     everything
	warnings  warnings and errors
	(unset)   errors only

# Context Loggers

  - WithComponent: daemon, scheduler, client, discovery, ...
  - WithNodeID: the daemon's node identity
  - WithJobID: one compile job
  - WithPeer: one remote endpoint

Console output is the default; JSON output is selected with
Config.JSONOutput for log shipping.
*/
package log
