package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	msgs []protocol.Message
	err  error
}

func (s *scripted) Receive() (protocol.Message, error) {
	if len(s.msgs) == 0 {
		return nil, s.err
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestFormatEvent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC)

	line := formatEvent(&protocol.MonitorGetCompileServer{
		GetCompileServer: protocol.GetCompileServer{Version: "x86_64", Filename: "main.c", Lang: job.LanguageC},
		JobID:            12,
		Client:           "10.0.0.5",
	}, now)
	assert.True(t, strings.HasPrefix(line, "12:30:15 job 12"))
	assert.Contains(t, line, "main.c")
	assert.Contains(t, line, "from 10.0.0.5")

	line = formatEvent(&protocol.MonitorJobDone{
		JobDone: protocol.JobDone{JobID: 12, ExitCode: 1, RealMsec: 1500},
		Host:    "builder:10245",
	}, now)
	assert.Contains(t, line, "exit=1")
	assert.Contains(t, line, "real=1.5s")

	assert.Empty(t, formatEvent(&protocol.Ping{}, now))
}

func TestFollowStopsAtEnd(t *testing.T) {
	var out bytes.Buffer
	src := &scripted{msgs: []protocol.Message{
		&protocol.MonitorJobBegin{JobID: 3, Host: "builder:10245"},
		&protocol.Ping{},
		&protocol.End{},
		&protocol.MonitorJobBegin{JobID: 4, Host: "builder:10245"},
	}}

	require.NoError(t, follow(src, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "job 3")
}

func TestFollowReturnsTransportError(t *testing.T) {
	src := &scripted{err: io.ErrUnexpectedEOF}
	err := follow(src, io.Discard)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}
