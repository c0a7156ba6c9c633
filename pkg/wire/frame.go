package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix cannot
// force a huge allocation.
const MaxFrameSize = 1 << 28

var (
	// ErrShortRead is returned when the stream ends before a value is complete
	ErrShortRead = errors.New("short read")

	// ErrShortWrite is returned when the stream stops accepting bytes
	ErrShortWrite = errors.New("short write")

	// ErrFrameTooLarge is returned for length prefixes above MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMalformedString is returned for strings without their terminator
	ErrMalformedString = errors.New("malformed string")
)

// readFull fills buf from r. A read that transfers nothing is treated as
// end of stream rather than retried.
func readFull(r io.Reader, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := r.Read(buf[off:])
		off += n
		if off == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrShortRead
			}
			return fmt.Errorf("%w: %w", ErrShortRead, err)
		}
		if n <= 0 {
			return ErrShortRead
		}
	}
	return nil
}

// WriteAll writes every byte of buf to w.
func WriteAll(w io.Writer, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := w.Write(buf[off:])
		off += n
		if err != nil {
			return fmt.Errorf("%w: %w", ErrShortWrite, err)
		}
		if n <= 0 {
			return ErrShortWrite
		}
	}
	return nil
}

// WriteUint32 writes v in network byte order.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return WriteAll(w, b[:])
}

// ReadUint32 reads a network byte order uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteFrame writes a 4-byte big-endian length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return WriteAll(w, buf)
}

// ReadFrame reads one length-prefixed frame. It blocks until the whole
// payload has arrived and fails with ErrShortRead if the stream closes first.
func ReadFrame(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteString writes s as a frame that includes a trailing NUL byte.
func WriteString(w io.Writer, s string) error {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return WriteFrame(w, b)
}

// ReadString reads a string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", ErrMalformedString
	}
	return string(b[:len(b)-1]), nil
}

// WriteStringList writes the element count followed by each string in order.
func WriteStringList(w io.Writer, l []string) error {
	if err := WriteUint32(w, uint32(len(l))); err != nil {
		return err
	}
	for _, s := range l {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringList reads a list written by WriteStringList. A zero count
// yields a nil list.
func ReadStringList(r io.Reader) ([]string, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > MaxFrameSize/4 {
		return nil, fmt.Errorf("%w: list of %d strings", ErrFrameTooLarge, n)
	}
	l := make([]string, 0, min(n, 64))
	for i := uint32(0); i < n; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		l = append(l, s)
	}
	return l, nil
}
