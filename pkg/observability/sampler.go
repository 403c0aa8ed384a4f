// Package observability runs a periodic process-health sampler. It is
// deliberately not a metrics-export pipeline: no scrape endpoint, no
// time series storage, just a ticker that logs CPU and memory figures
// so an operator tailing the process log can see it trending.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"
)

// Sampler periodically logs host-wide CPU usage and this process's
// memory footprint alongside host-wide memory pressure.
type Sampler struct {
	Interval time.Duration
	proc     *process.Process
}

// NewSampler builds a Sampler for the current process. interval <= 0
// falls back to 30s.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p, _ := process.NewProcess(int32(os.Getpid()))
	return &Sampler{Interval: interval, proc: p}
}

// Run ticks until ctx is cancelled, logging one sample per tick.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	var cpuPct float64
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); !chk.E(err) && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	var rssMB, vmsMB uint64
	if s.proc != nil {
		if mi, err := s.proc.MemoryInfoWithContext(ctx); !chk.E(err) && mi != nil {
			rssMB = mi.RSS / (1 << 20)
			vmsMB = mi.VMS / (1 << 20)
		}
	}
	var hostUsedPct float64
	if vm, err := mem.VirtualMemoryWithContext(ctx); !chk.E(err) && vm != nil {
		hostUsedPct = vm.UsedPercent
	}
	log.D.F(
		"health: cpu=%.1f%% rss=%dMB vms=%dMB host_mem=%.1f%%",
		cpuPct, rssMB, vmsMB, hostUsedPct,
	)
}
