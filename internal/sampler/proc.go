package sampler

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcReader reads counters from the host with gopsutil.
type ProcReader struct{}

func (ProcReader) Read(ctx context.Context, pid int) (Raw, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Raw{}, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
		}
		return Raw{}, fmt.Errorf("%w: open pid %d: %w", ErrSampleFailed, pid, err)
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return Raw{}, fmt.Errorf("%w: cpu times: %w", ErrSampleFailed, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Raw{}, fmt.Errorf("%w: memory: %w", ErrSampleFailed, err)
	}
	raw := Raw{CPUSeconds: times.User + times.System, RSSBytes: mem.RSS}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		raw.Threads = n
	}
	if n, err := p.NumFDsWithContext(ctx); err == nil {
		raw.OpenFDs, raw.HasFDs = n, true
	}
	readNet(ctx, pid, &raw)
	return raw, nil
}

// CoreCount returns the number of logical CPUs.
func CoreCount(ctx context.Context) int {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n
	}
	return goruntime.NumCPU()
}
