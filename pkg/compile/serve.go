package compile

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/cuemby/icecream/pkg/wire"
)

// TransferTimeout bounds the wait for each message of a file transfer
const TransferTimeout = 2 * time.Minute

// Counters are the transfer sizes of one job as seen by the compile node
type Counters struct {
	InCompressed    uint32
	InUncompressed  uint32
	OutCompressed   uint32
	OutUncompressed uint32
}

// WriteTo writes the counters as four big-endian uint32 values
func (c Counters) WriteTo(w io.Writer) (int64, error) {
	for i, v := range []uint32{c.InCompressed, c.InUncompressed, c.OutCompressed, c.OutUncompressed} {
		if err := wire.WriteUint32(w, v); err != nil {
			return int64(i * 4), err
		}
	}
	return 16, nil
}

// ReadCounters reads counters written by WriteTo
func ReadCounters(r io.Reader) (Counters, error) {
	var v [4]uint32
	for i := range v {
		n, err := wire.ReadUint32(r)
		if err != nil {
			return Counters{}, err
		}
		v[i] = n
	}
	return Counters{InCompressed: v[0], InUncompressed: v[1], OutCompressed: v[2], OutUncompressed: v[3]}, nil
}

// SendFile streams r as FileChunk messages followed by End. It returns
// the compressed and uncompressed byte counts.
func SendFile(ch *comm.Channel, r io.Reader) (compressed, uncompressed int, err error) {
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := &protocol.FileChunk{Data: buf[:n]}
			if err := ch.Send(chunk); err != nil {
				return compressed, uncompressed, err
			}
			compressed += chunk.Compressed
			uncompressed += n
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return compressed, uncompressed, fmt.Errorf("failed to read file: %w", rerr)
		}
	}
	return compressed, uncompressed, ch.Send(&protocol.End{})
}

// ReceiveFile writes FileChunk payloads to w until End arrives. It returns
// the compressed and uncompressed byte counts.
func ReceiveFile(ch *comm.Channel, w io.Writer) (compressed, uncompressed int, err error) {
	for {
		msg, err := ch.ReceiveTimeout(TransferTimeout)
		if err != nil {
			return compressed, uncompressed, err
		}
		switch m := msg.(type) {
		case *protocol.FileChunk:
			if _, err := w.Write(m.Data); err != nil {
				return compressed, uncompressed, fmt.Errorf("failed to write file: %w", err)
			}
			compressed += m.Compressed
			uncompressed += len(m.Data)
		case *protocol.End:
			return compressed, uncompressed, nil
		default:
			return compressed, uncompressed, protocol.Unexpected(msg, protocol.TypeFileChunk, protocol.TypeEnd)
		}
	}
}

// ServeJob runs one job for the client on ch: it receives the preprocessed
// source, compiles it, and sends back the CompileResult followed by the
// object file. The object is only sent when the compiler succeeded.
func ServeJob(ctx context.Context, ch *comm.Channel, j *job.Job) (Result, Counters, error) {
	var c Counters
	logger := log.WithJobID(j.ID).With().Str("client", ch.Peer().String()).Logger()

	dir, err := os.MkdirTemp("", "icecc-job-")
	if err != nil {
		return Result{}, c, fmt.Errorf("failed to create job directory: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input"+j.Language.PreprocessedExt())
	obj := filepath.Join(dir, "output.o")

	f, err := os.Create(src)
	if err != nil {
		return Result{}, c, fmt.Errorf("failed to create source file: %w", err)
	}
	inC, inU, err := ReceiveFile(ch, f)
	c.InCompressed, c.InUncompressed = uint32(inC), uint32(inU)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write source file: %w", cerr)
	}
	if err != nil {
		return Result{}, c, fmt.Errorf("failed to receive source: %w", err)
	}

	res, err := CompilePreprocessed(ctx, j, src, obj)
	if err != nil {
		return Result{}, c, err
	}
	logger.Debug().Int("exit_code", res.ExitCode).Msg("Compiler finished")

	err = ch.Send(&protocol.CompileResult{
		Status: int32(res.ExitCode),
		Out:    string(res.Stdout),
		Err:    string(res.Stderr),
	})
	if err != nil {
		return res, c, err
	}

	if res.ExitCode != 0 {
		return res, c, ch.Send(&protocol.End{})
	}

	out, err := os.Open(obj)
	if err != nil {
		return res, c, fmt.Errorf("compiler produced no object: %w", err)
	}
	defer out.Close()

	outC, outU, err := SendFile(ch, out)
	c.OutCompressed, c.OutUncompressed = uint32(outC), uint32(outU)
	if err != nil {
		return res, c, fmt.Errorf("failed to send object: %w", err)
	}

	logger.Info().
		Uint32("in_bytes", c.InUncompressed).
		Uint32("out_bytes", c.OutUncompressed).
		Msg("Served job")
	return res, c, nil
}

// RunJob is the body of a job child process. It decodes the job from
// stdin, serves the client connected on sock and reports its counters on
// stats. The returned code is the compiler's exit status.
func RunJob(ctx context.Context, stdin io.Reader, sock *os.File, stats io.WriteCloser) (int, error) {
	defer stats.Close()

	msg, err := protocol.Decode(stdin)
	if err != nil {
		return 1, fmt.Errorf("failed to read job: %w", err)
	}
	req, ok := msg.(*protocol.CompileFileRequest)
	if !ok {
		return 1, protocol.Unexpected(msg, protocol.TypeCompileFile)
	}
	j, err := req.TakeJob()
	if err != nil {
		return 1, err
	}

	conn, err := net.FileConn(sock)
	sock.Close()
	if err != nil {
		return 1, fmt.Errorf("failed to adopt client socket: %w", err)
	}
	peer, err := comm.IdentityFromAddr(conn.RemoteAddr())
	if err != nil {
		conn.Close()
		return 1, err
	}
	ch, err := comm.NewChannel(conn, peer, nil)
	if err != nil {
		conn.Close()
		return 1, err
	}
	defer ch.Close()

	res, counters, serveErr := ServeJob(ctx, ch, j)
	if _, err := counters.WriteTo(stats); err != nil {
		logger := log.WithJobID(j.ID)
		logger.Warn().Err(err).Msg("Failed to report transfer counters")
	}
	if serveErr != nil {
		return 1, serveErr
	}
	return res.ExitCode, nil
}
