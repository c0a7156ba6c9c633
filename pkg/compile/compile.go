package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/log"
)

// ChunkSize is the largest file slice sent in one FileChunk
const ChunkSize = 100 * 1024

// Result is the outcome of one compiler run
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// RunCompilerLocally runs the job's compiler on this machine with the
// original command line, attached to the caller's stdio. It returns the
// compiler's exit code.
func RunCompilerLocally(ctx context.Context, j *job.Job) (int, error) {
	args := j.Args
	if len(args) == 0 {
		args = localArgs(j)
	}

	logger := log.WithJobID(j.ID)
	logger.Debug().
		Str("compiler", j.CompilerName()).
		Strs("args", args).
		Msg("Compiling locally")

	cmd := exec.CommandContext(ctx, j.CompilerName(), args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return exitCode(cmd.Run())
}

// localArgs rebuilds a complete command line from the classified flags
func localArgs(j *job.Job) []string {
	args := j.AllFlags()
	if j.InputFile != "" {
		args = append(args, j.InputFile)
	}
	if j.OutputFile != "" {
		args = append(args, "-o", j.OutputFile)
	}
	return args
}

// Preprocess runs the preprocessor over the job's input file and writes
// the result to w. Compiler diagnostics go to stderr.
func Preprocess(ctx context.Context, j *job.Job, w io.Writer, stderr io.Writer) error {
	if j.InputFile == "" {
		return errors.New("no input file to preprocess")
	}

	args := make([]string, 0, len(j.LocalFlags)+len(j.RestFlags)+2)
	args = append(args, j.LocalFlags...)
	args = append(args, j.RestFlags...)
	args = append(args, "-E", j.InputFile)

	cmd := exec.CommandContext(ctx, j.CompilerName(), args...)
	cmd.Stdout = w
	cmd.Stderr = stderr
	code, err := exitCode(cmd.Run())
	if err != nil {
		return fmt.Errorf("failed to run preprocessor: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("preprocessor exited with status %d", code)
	}
	return nil
}

// CompilePreprocessed compiles the preprocessed source at src into out
// using the job's remote and rest flags.
func CompilePreprocessed(ctx context.Context, j *job.Job, src, out string) (Result, error) {
	args := make([]string, 0, len(j.RemoteFlags)+len(j.RestFlags)+5)
	args = append(args, "-x", j.Language.PreprocessedType())
	args = append(args, j.RemoteFlags...)
	args = append(args, j.RestFlags...)
	args = append(args, src, "-o", out)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, j.CompilerName(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code, err := exitCode(cmd.Run())
	if err != nil {
		return Result{}, fmt.Errorf("failed to run compiler: %w", err)
	}
	return Result{ExitCode: code, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// exitCode separates a non-zero exit, which is a result, from a failure to
// run the command at all.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
