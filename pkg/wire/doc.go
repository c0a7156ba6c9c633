/*
Package wire implements the byte-level framing shared by every icecream
component.

All integers are unsigned 32-bit values in network byte order. A frame is a
length followed by that many bytes; strings are frames whose payload ends in
a NUL byte (the length counts it); lists are a count followed by that many
strings.

	uint32   | b0 b1 b2 b3 |
	frame    | len (4)     | payload (len)        |
	string   | len+1 (4)   | bytes ... 0x00       |
	list     | count (4)   | string | string ...  |
	payload  | raw len (4) | frame of LZ4 block   |

Reads never loop on a zero-byte transfer: a stream that stops producing
bytes mid-value fails with ErrShortRead. Compressed payloads use the LZ4
block format and must expand to exactly the advertised size, otherwise
ErrCodec is returned and no data is handed back.

Encoder and Decoder wrap a stream and keep the first error so message
bodies read as straight-line field lists.
*/
package wire
