package daemon

import (
	"runtime"

	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/prometheus/procfs"
)

// LoadSampler computes the load reported in Stats messages
type LoadSampler interface {
	Load(currentKids, maxKids int) uint32
}

// ProcLoad combines the share of busy job slots with the host's one
// minute load average per CPU. A daemon with every slot taken reports
// protocol.MaxLoad.
type ProcLoad struct {
	fs   procfs.FS
	ok   bool
	cpus int
}

// NewProcLoad reads the load average from /proc. When /proc is not
// available only the job slots are taken into account.
func NewProcLoad() *ProcLoad {
	fs, err := procfs.NewDefaultFS()
	return &ProcLoad{fs: fs, ok: err == nil, cpus: runtime.NumCPU()}
}

func (p *ProcLoad) Load(currentKids, maxKids int) uint32 {
	if maxKids <= 0 || currentKids >= maxKids {
		return protocol.MaxLoad
	}
	load := uint32(currentKids * protocol.MaxLoad / maxKids)
	if !p.ok {
		return load
	}

	avg, err := p.fs.LoadAvg()
	if err != nil {
		return load
	}
	host := uint32(avg.Load1 * protocol.MaxLoad / float64(max(p.cpus, 1)))
	return min(max(load, host), protocol.MaxLoad)
}
