// Package comm pairs a TCP stream with the identity of its remote end and
// moves protocol messages over it.
//
// A Registry maps identities to their single active Channel. Channels are
// created by Connect (outbound) or Accept (inbound) and unlink themselves
// from the registry on Close, so a lookup never returns a closed channel.
// Errors from the socket layer are *TransportError values; IsTransport
// tells them apart from protocol violations.
package comm
