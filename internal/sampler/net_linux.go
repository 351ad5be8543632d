package sampler

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/net"
)

// readNet fills network counters from the process's network namespace.
// Children sharing the host namespace report host-wide totals.
func readNet(ctx context.Context, pid int, raw *Raw) {
	stats, err := net.IOCountersByFileWithContext(ctx, false, fmt.Sprintf("/proc/%d/net/dev", pid))
	if err != nil || len(stats) == 0 {
		return
	}
	raw.NetSent, raw.NetRecv, raw.HasNet = stats[0].BytesSent, stats[0].BytesRecv, true
}
