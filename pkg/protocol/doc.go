/*
Package protocol defines the icecream message catalog and its codec.

Every message starts with a 4-byte big-endian tag (see MsgType) followed by
the fields of its variant, written with the primitives of package wire:

	+--------+----------------------------------+
	| tag u32| variant fields (u32, str, list)  |
	+--------+----------------------------------+

Message is a closed sum type: each variant is a struct in this package and
callers switch on the concrete type after Decode.

	msg, err := protocol.Decode(conn)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *protocol.CompileFileRequest:
		j, _ := m.TakeJob()
		...
	case *protocol.End:
		...
	default:
		return protocol.Unexpected(msg, protocol.TypeCompileFile)
	}

Timeout never travels over the wire. Encode refuses it and it is only used
locally to signal that no message arrived in time.
*/
package protocol
