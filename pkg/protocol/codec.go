package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/icecream/pkg/wire"
)

func newMessage(t MsgType) (Message, error) {
	switch t {
	case TypePing:
		return &Ping{}, nil
	case TypeEnd:
		return &End{}, nil
	case TypeGetScheduler:
		return &GetScheduler{}, nil
	case TypeUseScheduler:
		return &UseScheduler{}, nil
	case TypeGetCompileServer:
		return &GetCompileServer{}, nil
	case TypeUseCompileServer:
		return &UseCompileServer{}, nil
	case TypeCompileFile:
		return &CompileFileRequest{}, nil
	case TypeFileChunk:
		return &FileChunk{}, nil
	case TypeCompileResult:
		return &CompileResult{}, nil
	case TypeJobBegin:
		return &JobBegin{}, nil
	case TypeJobDone:
		return &JobDone{}, nil
	case TypeLogin:
		return &Login{}, nil
	case TypeStats:
		return &Stats{}, nil
	case TypeMonitorLogin:
		return &MonitorLogin{}, nil
	case TypeMonitorGetCompileServer:
		return &MonitorGetCompileServer{}, nil
	case TypeMonitorJobBegin:
		return &MonitorJobBegin{}, nil
	case TypeMonitorJobDone:
		return &MonitorJobDone{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, t)
	}
}

// Encode writes m to w as its tag followed by its fields. The message is
// assembled in memory first so a failed encode writes nothing. Encoding a
// FileChunk also sets its Compressed field to the payload size written,
// which callers use as the transfer counter; no other message is modified.
func Encode(w io.Writer, m Message) error {
	if m.Type() == TypeTimeout {
		return fmt.Errorf("%w: %s", ErrNotSendable, m.Type())
	}
	var buf bytes.Buffer
	e := wire.NewEncoder(&buf)
	e.Uint32(uint32(m.Type()))
	m.encode(e)
	if err := e.Err(); err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return wire.WriteAll(w, buf.Bytes())
}

// Decode reads one message from r. A stream that ends before the tag, a
// field that fails to decode and a payload the codec rejects are all
// reported as errors; no partially filled message is ever returned.
// Timeout is local-only and is rejected as an unknown tag on the wire.
func Decode(r io.Reader) (Message, error) {
	tag, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	m, err := newMessage(MsgType(tag))
	if err != nil {
		return nil, err
	}

	d := wire.NewDecoder(r)
	m.decode(d)
	if err := d.Err(); err != nil {
		if errors.Is(err, wire.ErrCodec) {
			return nil, fmt.Errorf("decode %s: %w", m.Type(), err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTruncated, m.Type(), err)
	}
	return m, nil
}
