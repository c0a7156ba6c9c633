/*
Package discovery locates a scheduler on the local network.

A client broadcasts the single byte Probe to port 8765 on every IPv4
broadcast interface, then waits up to four seconds (woken every two) for a
reply:

	+------+--------------------------+
	| 43   | network name, NUL padded |
	+------+--------------------------+

The first reply whose name matches the configured network name (case
insensitive) wins; its source address and port locate the scheduler.
No reply within the window yields ErrNoScheduler, which callers treat as
transient and retry.

Responder is the scheduler side of the exchange.
*/
package discovery
