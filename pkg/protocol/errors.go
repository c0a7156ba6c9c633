package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTag is returned when a message starts with an unrecognized tag
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrTruncated is returned when a field of a message fails to decode
	ErrTruncated = errors.New("truncated message")

	// ErrNotSendable is returned when encoding a local-only message
	ErrNotSendable = errors.New("message is not sendable")

	// ErrJobTaken is returned when a job is taken out of a request twice
	ErrJobTaken = errors.New("job already taken")

	// ErrUnexpected is returned when a peer sends a message that is valid on
	// the wire but wrong at this point of the conversation
	ErrUnexpected = errors.New("unexpected message")
)

// Unexpected builds an ErrUnexpected for got when one of want was required
func Unexpected(got Message, want ...MsgType) error {
	names := make([]string, len(want))
	for i, t := range want {
		names[i] = t.String()
	}
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpected, got.Type(), strings.Join(names, " or "))
}

// IsProtocol reports whether err is a protocol violation on an otherwise
// working connection. Such connections are dropped but never crash the
// process.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrUnknownTag) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrUnexpected)
}
