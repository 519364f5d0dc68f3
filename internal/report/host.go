package report

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostMetrics is a point-in-time load sample of the machine running the bot.
type HostMetrics struct {
	CPUPercent float64
	RAMPercent float64
	BotRSSMB   uint64 // resident memory of this process
}

// cpuSampleWindow is how long CPU usage is measured for. A zero interval
// would compare against the previous call, or against boot on the first one.
const cpuSampleWindow = 200 * time.Millisecond

var cpuPercent = cpu.PercentWithContext

// CollectHostMetrics samples CPU, memory and the bot's own RSS. It blocks
// for cpuSampleWindow. A field that cannot be read stays zero; the error is
// only returned when nothing could be read.
func CollectHostMetrics(ctx context.Context) (HostMetrics, error) {
	var m HostMetrics
	var lastErr error
	read := 0

	if pct, err := cpuPercent(ctx, cpuSampleWindow, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
		read++
	} else if err != nil {
		lastErr = err
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.RAMPercent = vmem.UsedPercent
		read++
	} else {
		lastErr = err
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			m.BotRSSMB = info.RSS / 1024 / 1024
			read++
		} else {
			lastErr = err
		}
	} else {
		lastErr = err
	}

	if read == 0 {
		return m, fmt.Errorf("host metrics unavailable: %w", lastErr)
	}
	return m, nil
}

// FormatHostMetrics renders m as "cpu 3.1% ram 40.2% bot 25 MB".
func FormatHostMetrics(m HostMetrics) string {
	return fmt.Sprintf("cpu %.1f%% ram %.1f%% bot %d MB", m.CPUPercent, m.RAMPercent, m.BotRSSMB)
}
