package protocol

import (
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/wire"
)

// Message is one variant of the closed message catalog. Only the types in
// this package implement it.
type Message interface {
	Type() MsgType
	encode(e *wire.Encoder)
	decode(d *wire.Decoder)
}

// Ping checks that a peer is alive
type Ping struct{}

func (*Ping) Type() MsgType          { return TypePing }
func (*Ping) encode(e *wire.Encoder) {}
func (*Ping) decode(d *wire.Decoder) {}

// End closes a conversation
type End struct{}

func (*End) Type() MsgType          { return TypeEnd }
func (*End) encode(e *wire.Encoder) {}
func (*End) decode(d *wire.Decoder) {}

// Timeout stands for "no message arrived in time". It is produced locally
// and refused by Encode.
type Timeout struct{}

func (*Timeout) Type() MsgType          { return TypeTimeout }
func (*Timeout) encode(e *wire.Encoder) {}
func (*Timeout) decode(d *wire.Decoder) {}

// GetScheduler asks a daemon which scheduler it is logged in to
type GetScheduler struct{}

func (*GetScheduler) Type() MsgType          { return TypeGetScheduler }
func (*GetScheduler) encode(e *wire.Encoder) {}
func (*GetScheduler) decode(d *wire.Decoder) {}

// UseScheduler answers GetScheduler
type UseScheduler struct {
	Hostname string
	Port     uint32
}

func (*UseScheduler) Type() MsgType { return TypeUseScheduler }

func (m *UseScheduler) encode(e *wire.Encoder) {
	e.Uint32(m.Port)
	e.String(m.Hostname)
}

func (m *UseScheduler) decode(d *wire.Decoder) {
	m.Port = d.Uint32()
	m.Hostname = d.String()
}

// GetCompileServer asks the scheduler for a daemon able to build a file
type GetCompileServer struct {
	Version  string
	Filename string
	Lang     job.Language
}

func (*GetCompileServer) Type() MsgType { return TypeGetCompileServer }

func (m *GetCompileServer) encode(e *wire.Encoder) {
	e.String(m.Version)
	e.String(m.Filename)
	e.Uint32(uint32(m.Lang))
}

func (m *GetCompileServer) decode(d *wire.Decoder) {
	m.Version = d.String()
	m.Filename = d.String()
	m.Lang = job.Language(d.Uint32())
}

// UseCompileServer names the daemon that will run a job
type UseCompileServer struct {
	JobID       uint32
	Port        uint32
	Hostname    string
	Environment string
}

func (*UseCompileServer) Type() MsgType { return TypeUseCompileServer }

func (m *UseCompileServer) encode(e *wire.Encoder) {
	e.Uint32(m.JobID)
	e.Uint32(m.Port)
	e.String(m.Hostname)
	e.String(m.Environment)
}

func (m *UseCompileServer) decode(d *wire.Decoder) {
	m.JobID = d.Uint32()
	m.Port = d.Uint32()
	m.Hostname = d.String()
	m.Environment = d.String()
}

// CompileFileRequest carries a job to a daemon. The request owns its job
// until TakeJob hands it over; local flags never leave the client.
type CompileFileRequest struct {
	job   *job.Job
	taken bool
}

// NewCompileFileRequest wraps j for sending
func NewCompileFileRequest(j *job.Job) *CompileFileRequest {
	return &CompileFileRequest{job: j}
}

func (*CompileFileRequest) Type() MsgType { return TypeCompileFile }

// Job returns the carried job without transferring ownership. It is nil
// once the job was taken.
func (m *CompileFileRequest) Job() *job.Job {
	if m.taken {
		return nil
	}
	return m.job
}

// TakeJob transfers the job to the caller. Only the first call succeeds.
func (m *CompileFileRequest) TakeJob() (*job.Job, error) {
	if m.taken || m.job == nil {
		return nil, ErrJobTaken
	}
	j := m.job
	m.job = nil
	m.taken = true
	return j, nil
}

func (m *CompileFileRequest) encode(e *wire.Encoder) {
	j := m.job
	if j == nil {
		j = &job.Job{}
	}
	e.Uint32(uint32(j.Language))
	e.Uint32(j.ID)
	e.StringList(j.RemoteFlags)
	e.StringList(j.RestFlags)
	e.String(j.EnvironmentVersion)
}

func (m *CompileFileRequest) decode(d *wire.Decoder) {
	j := &job.Job{}
	j.Language = job.Language(d.Uint32())
	j.ID = d.Uint32()
	j.RemoteFlags = d.StringList()
	j.RestFlags = d.StringList()
	j.EnvironmentVersion = d.String()
	m.job = j
	m.taken = false
}

// FileChunk carries a slice of a file. Compressed is the size of the
// payload on the wire; Encode and Decode both fill it in.
type FileChunk struct {
	Data       []byte
	Compressed int
}

func (*FileChunk) Type() MsgType { return TypeFileChunk }

func (m *FileChunk) encode(e *wire.Encoder) {
	m.Compressed = e.Compressed(m.Data)
}

func (m *FileChunk) decode(d *wire.Decoder) {
	m.Data, m.Compressed = d.Compressed()
}

// CompileResult carries the compiler output and its exit status
type CompileResult struct {
	Status int32
	Out    string
	Err    string
}

func (*CompileResult) Type() MsgType { return TypeCompileResult }

func (m *CompileResult) encode(e *wire.Encoder) {
	e.String(m.Err)
	e.String(m.Out)
	e.Uint32(uint32(m.Status))
}

func (m *CompileResult) decode(d *wire.Decoder) {
	m.Err = d.String()
	m.Out = d.String()
	m.Status = int32(d.Uint32())
}

// JobBegin tells the scheduler a daemon started a job. StartTime is in
// seconds since the epoch.
type JobBegin struct {
	JobID     uint32
	StartTime uint32
}

func (*JobBegin) Type() MsgType { return TypeJobBegin }

func (m *JobBegin) encode(e *wire.Encoder) {
	e.Uint32(m.JobID)
	e.Uint32(m.StartTime)
}

func (m *JobBegin) decode(d *wire.Decoder) {
	m.JobID = d.Uint32()
	m.StartTime = d.Uint32()
}

// JobDone reports the outcome and resource usage of a finished job.
// Times are milliseconds, MaxRSS and IdRSS are kilobytes.
type JobDone struct {
	JobID    uint32
	ExitCode int32

	RealMsec uint32
	UserMsec uint32
	SysMsec  uint32
	MaxRSS   uint32
	IdRSS    uint32
	MajFlt   uint32
	NSwap    uint32

	InCompressed    uint32
	InUncompressed  uint32
	OutCompressed   uint32
	OutUncompressed uint32
}

func (*JobDone) Type() MsgType { return TypeJobDone }

func (m *JobDone) encode(e *wire.Encoder) {
	e.Uint32(m.JobID)
	e.Uint32(uint32(m.ExitCode))
	e.Uint32(m.RealMsec)
	e.Uint32(m.UserMsec)
	e.Uint32(m.SysMsec)
	e.Uint32(m.MaxRSS)
	e.Uint32(m.IdRSS)
	e.Uint32(m.MajFlt)
	e.Uint32(m.NSwap)
	e.Uint32(m.InCompressed)
	e.Uint32(m.InUncompressed)
	e.Uint32(m.OutCompressed)
	e.Uint32(m.OutUncompressed)
}

func (m *JobDone) decode(d *wire.Decoder) {
	m.JobID = d.Uint32()
	m.ExitCode = int32(d.Uint32())
	m.RealMsec = d.Uint32()
	m.UserMsec = d.Uint32()
	m.SysMsec = d.Uint32()
	m.MaxRSS = d.Uint32()
	m.IdRSS = d.Uint32()
	m.MajFlt = d.Uint32()
	m.NSwap = d.Uint32()
	m.InCompressed = d.Uint32()
	m.InUncompressed = d.Uint32()
	m.OutCompressed = d.Uint32()
	m.OutUncompressed = d.Uint32()
}

// Login registers a daemon with the scheduler
type Login struct {
	Port    uint32
	MaxKids uint32
	Envs    []string
}

func (*Login) Type() MsgType { return TypeLogin }

func (m *Login) encode(e *wire.Encoder) {
	e.Uint32(m.Port)
	e.Uint32(m.MaxKids)
	e.StringList(m.Envs)
}

func (m *Login) decode(d *wire.Decoder) {
	m.Port = d.Uint32()
	m.MaxKids = d.Uint32()
	m.Envs = d.StringList()
}

// Stats reports daemon load, 0 (idle) to MaxLoad (refuse work)
type Stats struct {
	Load uint32
}

func (*Stats) Type() MsgType { return TypeStats }

func (m *Stats) encode(e *wire.Encoder) {
	e.Uint32(m.Load)
}

func (m *Stats) decode(d *wire.Decoder) {
	m.Load = d.Uint32()
}

// MonitorLogin subscribes a connection to monitor messages
type MonitorLogin struct{}

func (*MonitorLogin) Type() MsgType          { return TypeMonitorLogin }
func (*MonitorLogin) encode(e *wire.Encoder) {}
func (*MonitorLogin) decode(d *wire.Decoder) {}

// MonitorGetCompileServer mirrors a GetCompileServer for monitors
type MonitorGetCompileServer struct {
	GetCompileServer
	JobID  uint32
	Client string
}

func (*MonitorGetCompileServer) Type() MsgType { return TypeMonitorGetCompileServer }

func (m *MonitorGetCompileServer) encode(e *wire.Encoder) {
	m.GetCompileServer.encode(e)
	e.Uint32(m.JobID)
	e.String(m.Client)
}

func (m *MonitorGetCompileServer) decode(d *wire.Decoder) {
	m.GetCompileServer.decode(d)
	m.JobID = d.Uint32()
	m.Client = d.String()
}

// MonitorJobBegin mirrors a JobBegin for monitors
type MonitorJobBegin struct {
	JobID     uint32
	StartTime uint32
	Host      string
}

func (*MonitorJobBegin) Type() MsgType { return TypeMonitorJobBegin }

func (m *MonitorJobBegin) encode(e *wire.Encoder) {
	e.Uint32(m.JobID)
	e.Uint32(m.StartTime)
	e.String(m.Host)
}

func (m *MonitorJobBegin) decode(d *wire.Decoder) {
	m.JobID = d.Uint32()
	m.StartTime = d.Uint32()
	m.Host = d.String()
}

// MonitorJobDone mirrors a JobDone for monitors
type MonitorJobDone struct {
	JobDone
	Host string
}

func (*MonitorJobDone) Type() MsgType { return TypeMonitorJobDone }

func (m *MonitorJobDone) encode(e *wire.Encoder) {
	m.JobDone.encode(e)
	e.String(m.Host)
}

func (m *MonitorJobDone) decode(d *wire.Decoder) {
	m.JobDone.decode(d)
	m.Host = d.String()
}
