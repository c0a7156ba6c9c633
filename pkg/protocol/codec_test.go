package protocol

import (
	"bytes"
	"testing"

	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Zero(t, buf.Len(), "decode should consume the whole message")
	return got
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{name: "ping", msg: &Ping{}},
		{name: "end", msg: &End{}},
		{name: "get scheduler", msg: &GetScheduler{}},
		{name: "use scheduler", msg: &UseScheduler{Hostname: "sched.lan", Port: 8765}},
		{name: "use scheduler empty host", msg: &UseScheduler{Hostname: "", Port: 0}},
		{name: "get compile server", msg: &GetCompileServer{Version: "gcc-13", Filename: "main.c", Lang: job.LanguageC}},
		{name: "use compile server", msg: &UseCompileServer{JobID: 7, Port: 10245, Hostname: "builder1", Environment: "x86_64"}},
		{name: "compile result", msg: &CompileResult{Status: 1, Out: "", Err: "main.c:1: error"}},
		{name: "compile result negative status", msg: &CompileResult{Status: -11}},
		{name: "job begin", msg: &JobBegin{JobID: 42, StartTime: 1700000000}},
		{name: "job done", msg: &JobDone{
			JobID: 42, ExitCode: -1, RealMsec: 1500, UserMsec: 1200, SysMsec: 90,
			MaxRSS: 20480, IdRSS: 12, MajFlt: 3, NSwap: 0,
			InCompressed: 1000, InUncompressed: 4000, OutCompressed: 500, OutUncompressed: 2000,
		}},
		{name: "login", msg: &Login{Port: 10245, MaxKids: 9, Envs: []string{"gcc-13"}}},
		{name: "login without envs", msg: &Login{Port: 10245, MaxKids: 1}},
		{name: "stats", msg: &Stats{Load: MaxLoad}},
		{name: "monitor login", msg: &MonitorLogin{}},
		{name: "monitor get compile server", msg: &MonitorGetCompileServer{
			GetCompileServer: GetCompileServer{Version: "gcc-13", Filename: "a.cpp", Lang: job.LanguageCXX},
			JobID:            3,
			Client:           "laptop",
		}},
		{name: "monitor job begin", msg: &MonitorJobBegin{JobID: 3, StartTime: 99, Host: "builder1"}},
		{name: "monitor job done", msg: &MonitorJobDone{JobDone: JobDone{JobID: 3, ExitCode: 0, RealMsec: 10}, Host: "builder1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.msg)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestLoginRoundTrip(t *testing.T) {
	login := &Login{Port: 10245, MaxKids: 3, Envs: []string{"gcc-13-x86_64", "clang-17-x86_64"}}

	got, ok := roundTrip(t, login).(*Login)
	require.True(t, ok)
	assert.Equal(t, uint32(3), got.MaxKids)
	assert.Equal(t, uint32(10245), got.Port)
	assert.Equal(t, []string{"gcc-13-x86_64", "clang-17-x86_64"}, got.Envs)
}

func TestCompileFileRequestRoundTrip(t *testing.T) {
	j := &job.Job{
		ID:                 17,
		Language:           job.LanguageCXX,
		EnvironmentVersion: "gcc-13",
		LocalFlags:         []string{"-MD"},
		RemoteFlags:        []string{"-O2", "-c"},
		RestFlags:          []string{"-Wall", ""},
	}

	got, ok := roundTrip(t, NewCompileFileRequest(j)).(*CompileFileRequest)
	require.True(t, ok)

	decoded := got.Job()
	require.NotNil(t, decoded)
	assert.Equal(t, j.ID, decoded.ID)
	assert.Equal(t, j.Language, decoded.Language)
	assert.Equal(t, j.EnvironmentVersion, decoded.EnvironmentVersion)
	assert.Equal(t, j.RemoteFlags, decoded.RemoteFlags)
	assert.Equal(t, j.RestFlags, decoded.RestFlags)
	assert.Nil(t, decoded.LocalFlags, "local flags never leave the client")
}

func TestCompileFileRequestEmptyLists(t *testing.T) {
	got, ok := roundTrip(t, NewCompileFileRequest(&job.Job{ID: 1})).(*CompileFileRequest)
	require.True(t, ok)
	assert.Nil(t, got.Job().RemoteFlags)
	assert.Nil(t, got.Job().RestFlags)
	assert.Equal(t, "", got.Job().EnvironmentVersion)
}

func TestTakeJobIsOneShot(t *testing.T) {
	req := NewCompileFileRequest(&job.Job{ID: 5})

	j, err := req.TakeJob()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), j.ID)
	assert.Nil(t, req.Job())

	_, err = req.TakeJob()
	assert.ErrorIs(t, err, ErrJobTaken)
}

func TestFileChunkRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("int x;\n"), 1000)

	sent := &FileChunk{Data: data}
	got, ok := roundTrip(t, sent).(*FileChunk)
	require.True(t, ok)
	assert.Equal(t, data, got.Data)
	assert.Positive(t, got.Compressed)
	assert.Less(t, got.Compressed, len(data))
	assert.Equal(t, sent.Compressed, got.Compressed, "encoding records the wire size")

	empty, ok := roundTrip(t, &FileChunk{Data: []byte{}}).(*FileChunk)
	require.True(t, ok)
	assert.Empty(t, empty.Data)
}

func TestTagValues(t *testing.T) {
	assert.Equal(t, MsgType('A'), TypeUnknown)
	assert.Equal(t, MsgType('B'), TypePing)
	assert.Equal(t, MsgType('I'), TypeCompileFile)
	assert.Equal(t, MsgType('S'), TypeMonitorJobDone)
	assert.Equal(t, "JobDone", TypeJobDone.String())
	assert.Equal(t, "MsgType(1)", MsgType(1).String())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Stats{Load: 5}))
	assert.Equal(t, []byte{0, 0, 0, 'O', 0, 0, 0, 5}, buf.Bytes())
}

func TestDecodeUnknownTag(t *testing.T) {
	for _, tag := range []uint32{uint32(TypeUnknown), 0, 'Z', 1 << 30} {
		var buf bytes.Buffer
		require.NoError(t, wire.WriteUint32(&buf, tag))

		_, err := Decode(&buf)
		assert.ErrorIs(t, err, ErrUnknownTag)
		assert.True(t, IsProtocol(err))
	}
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &JobDone{JobID: 1, ExitCode: 2}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := Decode(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, wire.ErrShortRead)
	assert.True(t, IsProtocol(err))
}

func TestDecodeEmptyStream(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	assert.ErrorIs(t, err, wire.ErrShortRead)
	assert.False(t, IsProtocol(err))
}

func TestDecodeCorruptChunk(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint32(&buf, uint32(TypeFileChunk)))
	require.NoError(t, wire.WriteUint32(&buf, 64))
	require.NoError(t, wire.WriteFrame(&buf, []byte{0xf0, 0x01, 0x02}))

	m, err := Decode(&buf)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, wire.ErrCodec)
	assert.NotErrorIs(t, err, ErrTruncated)
}

func TestTimeoutIsLocalOnly(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Timeout{})
	assert.ErrorIs(t, err, ErrNotSendable)
	assert.Zero(t, buf.Len())

	// A peer cannot fake a local timeout
	require.NoError(t, wire.WriteUint32(&buf, uint32(TypeTimeout)))
	m, err := Decode(&buf)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.True(t, IsProtocol(err))
}

func TestDecodeSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &GetScheduler{}))
	require.NoError(t, Encode(&buf, &UseScheduler{Hostname: "s", Port: 1}))
	require.NoError(t, Encode(&buf, &End{}))

	var types []MsgType
	for buf.Len() > 0 {
		m, err := Decode(&buf)
		require.NoError(t, err)
		types = append(types, m.Type())
	}
	assert.Equal(t, []MsgType{TypeGetScheduler, TypeUseScheduler, TypeEnd}, types)
}

func TestUnexpected(t *testing.T) {
	err := Unexpected(&Ping{}, TypeCompileFile, TypeGetScheduler)
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.True(t, IsProtocol(err))
	assert.Contains(t, err.Error(), "got Ping, want CompileFile or GetScheduler")
}
