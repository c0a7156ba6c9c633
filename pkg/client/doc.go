/*
Package client implements icecc, the compiler wrapper build systems call
in place of gcc.

# Flow

	icecc ──GetScheduler──▶ local daemon ──UseScheduler──▶ icecc
	icecc ──GetCompileServer──▶ scheduler ──UseCompileServer──▶ icecc
	icecc ──CompileFile, source chunks, End──▶ compile node
	icecc ◀──CompileResult, object chunks, End── compile node
	icecc ──End──▶ scheduler

The source is preprocessed locally first, so the compile node needs
nothing but the compiler. Any failure along the way (no daemon, no
scheduler, a broken connection, an unexpected message) makes Build run
the compiler locally instead; a remote compile error is reported as is.

# Arguments

ClassifyArguments decides what may run remotely. Invocations that do not
compile to an object (no -c or -S), that produce side outputs the compile
node cannot return (-M dependency output, -Wa listings, profiling data),
that use -x, or that write to stdout are always built locally.

	args := client.ClassifyArguments([]string{"-O2", "-c", "main.c", "-o", "main.o"})
	// args.Remote == ["-c"], args.Rest == ["-O2"], args.InputFile == "main.c"
*/
package client
