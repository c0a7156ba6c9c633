// Package job defines the compile job descriptor handed from the client to a
// worker daemon: a numeric id, the source language, the three argument
// partitions (local-only, remote-safe, rest) and the toolchain version the
// remote side must provide.
//
// A Job has exactly one owner at a time. The client builds it, the wire
// codec serializes it once into a CompileFileRequest, and the receiving
// daemon takes it out of the decoded message.
package job
