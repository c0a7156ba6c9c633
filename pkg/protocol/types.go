package protocol

import "fmt"

// MsgType is the 4-byte tag that starts every message on the wire
type MsgType uint32

// Tags are stable and start at 'A'; new tags may only be appended.
const (
	TypeUnknown MsgType = 'A' + iota
	TypePing
	TypeEnd
	TypeTimeout
	TypeGetScheduler
	TypeUseScheduler
	TypeGetCompileServer
	TypeUseCompileServer
	TypeCompileFile
	TypeFileChunk
	TypeCompileResult
	TypeJobBegin
	TypeJobDone
	TypeLogin
	TypeStats
	TypeMonitorLogin
	TypeMonitorGetCompileServer
	TypeMonitorJobBegin
	TypeMonitorJobDone
)

var typeNames = map[MsgType]string{
	TypeUnknown:                 "Unknown",
	TypePing:                    "Ping",
	TypeEnd:                     "End",
	TypeTimeout:                 "Timeout",
	TypeGetScheduler:            "GetScheduler",
	TypeUseScheduler:            "UseScheduler",
	TypeGetCompileServer:        "GetCompileServer",
	TypeUseCompileServer:        "UseCompileServer",
	TypeCompileFile:             "CompileFile",
	TypeFileChunk:               "FileChunk",
	TypeCompileResult:           "CompileResult",
	TypeJobBegin:                "JobBegin",
	TypeJobDone:                 "JobDone",
	TypeLogin:                   "Login",
	TypeStats:                   "Stats",
	TypeMonitorLogin:            "MonitorLogin",
	TypeMonitorGetCompileServer: "MonitorGetCompileServer",
	TypeMonitorJobBegin:         "MonitorJobBegin",
	TypeMonitorJobDone:          "MonitorJobDone",
}

func (t MsgType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint32(t))
}

// MaxLoad is the Stats load value meaning "refuse new work"
const MaxLoad = 1000
