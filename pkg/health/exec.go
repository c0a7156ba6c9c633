package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CompilerChecker verifies that a compiler can be started by running it
// with --version
type CompilerChecker struct {
	Compiler string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewCompilerChecker creates a checker for compiler
func NewCompilerChecker(compiler string) *CompilerChecker {
	return &CompilerChecker{
		Compiler: compiler,
		Timeout:  10 * time.Second,
	}
}

// Name returns the component name, "compiler:<compiler>"
func (c *CompilerChecker) Name() string {
	return "compiler:" + c.Compiler
}

// Check runs the compiler. A healthy result carries the first line of its
// version banner.
func (c *CompilerChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if c.Compiler == "" {
		return Result{
			Healthy:   false,
			Message:   "no compiler specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Compiler, "--version")
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("%s --version: %v", c.Compiler, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, stderr: %s", message, firstLine(stderr.String()))
		}
		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   firstLine(stdout.String()),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WithTimeout sets the execution timeout
func (c *CompilerChecker) WithTimeout(timeout time.Duration) *CompilerChecker {
	c.Timeout = timeout
	return c
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
