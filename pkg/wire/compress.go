package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrCodec is returned when a payload cannot be compressed or decompressed
var ErrCodec = errors.New("codec error")

// Compress compresses src with the LZ4 block format.
func Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: compress: %v", ErrCodec, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: compress: no output for %d bytes", ErrCodec, len(src))
	}
	return dst[:n], nil
}

// Decompress expands src into exactly size bytes. Anything other than an
// exact fit is reported as ErrCodec; partial output is never returned.
func Decompress(src []byte, size int) ([]byte, error) {
	if size == 0 {
		if len(src) != 0 {
			return nil, fmt.Errorf("%w: %d compressed bytes for empty payload", ErrCodec, len(src))
		}
		return []byte{}, nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCodec, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCodec, n, size)
	}
	return dst, nil
}

// WriteCompressed writes the uncompressed length, the compressed length and
// the compressed bytes. It returns the compressed length.
func WriteCompressed(w io.Writer, data []byte) (int, error) {
	if len(data) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	compressed, err := Compress(data)
	if err != nil {
		return 0, err
	}
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return 0, err
	}
	if err := WriteFrame(w, compressed); err != nil {
		return 0, err
	}
	return len(compressed), nil
}

// ReadCompressed reads a payload written by WriteCompressed and returns the
// uncompressed bytes together with the compressed length seen on the wire.
func ReadCompressed(r io.Reader) ([]byte, int, error) {
	size, err := ReadUint32(r)
	if err != nil {
		return nil, 0, err
	}
	if size > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d bytes uncompressed", ErrFrameTooLarge, size)
	}
	compressed, err := ReadFrame(r)
	if err != nil {
		return nil, 0, err
	}
	data, err := Decompress(compressed, int(size))
	if err != nil {
		return nil, 0, err
	}
	return data, len(compressed), nil
}
