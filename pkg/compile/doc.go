/*
Package compile runs compilers for icecream jobs, on both ends of a remote
build.

On the client, Preprocess expands the input file with the local flags so
the compile node needs no headers, and RunCompilerLocally is the fallback
whenever the remote path fails.

On the compile node, RunJob is the body of the child process the daemon
starts for every job. It serves one client:

	client                          job child
	  │ ── FileChunk ... End ───────▶ │  preprocessed source
	  │                               │  <compiler> -x cpp-output ...
	  │ ◀──────────── CompileResult ─ │
	  │ ◀── FileChunk ... End ─────── │  object, only on success

Afterwards the child writes four counters to its stats pipe (in
compressed, in uncompressed, out compressed, out uncompressed) for the
daemon to put in JobDone.
*/
package compile
