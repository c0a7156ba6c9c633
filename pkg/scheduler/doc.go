/*
Package scheduler implements the icecream scheduler: the single place that
knows every compile node on the network and hands them out to clients.

# Sessions

A connection's first message decides what it is:

	Login             a daemon; followed by Stats, JobBegin, JobDone, End
	GetCompileServer  a client; answered with UseCompileServer (or End when
	                  no daemon fits), repeated until the client sends End
	MonitorLogin      a monitor; receives MonitorGetCompileServer,
	                  MonitorJobBegin and MonitorJobDone until either side
	                  sends End

Anything else closes the connection.

# Selection

Clients ask for a toolchain environment. A daemon qualifies when it
announced that environment at login (an empty request matches every
daemon) and its last reported load is below protocol.MaxLoad. The least
loaded qualifying daemon wins; ties go to the daemon with fewer assigned
jobs. Each assignment raises the daemon's load by one job slot until its
next Stats message, so bursts of requests spread over the network.

Job ids are assigned here and are unique for the life of the scheduler.

# Liveness

A daemon that logs in again from the same address and port replaces its
previous session. The sweep loop drops daemons that sent nothing within
Config.NodeTimeout; daemons send Stats every few seconds while connected.

The scheduler also answers discovery probes through discovery.Responder;
the cmd/icecc-scheduler binary runs both together.
*/
package scheduler
