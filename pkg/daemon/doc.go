/*
Package daemon implements the compile node: it logs in to a scheduler,
accepts compile requests from clients and runs each one in its own child
process.

# Event loop

One goroutine, the one calling Daemon.Run, owns every piece of mutable
state: the scheduler session, the FIFO of accepted requests, the record of
each running child and the result sockets children report on. Accepting
connections, reading the scheduler, connecting and waiting for children all
happen on helper goroutines that only send events to the loop.

Each iteration does exactly one of the following, in priority order:

 1. start the request at the head of the queue when the scheduler session
    is active and fewer than MaxKids children run
 2. handle a pending child event
 3. send Stats when StatsInterval has passed
 4. wait up to PollInterval for a new client, a scheduler message, a
    connection result or a child event

A client opens with either GetScheduler, answered with the scheduler the
daemon is logged in to (or End), or CompileFile, which is queued. Anything
else closes the connection.

# Children

The child receives the client socket and reports four transfer counters
(bytes in compressed, in uncompressed, out compressed, out uncompressed)
on a pipe before it exits. When the child is reaped the daemon sends
JobDone with its exit code, run times and resource usage, and records it
in the job history.

# Scheduler session

	Disconnected ──locate+connect──▶ Connecting ──Login──▶ Active
	      ▲                                                   │
	      └──────────── any send or receive failure ──────────┘

Losing the scheduler never touches queued requests or running children.
Reconnect attempts are spaced by RetryDelay.
*/
package daemon
