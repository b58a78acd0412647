package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	gomem "github.com/shirou/gopsutil/v4/mem"
)

// System call wrappers for testing
var (
	cpuPercent    = gocpu.PercentWithContext
	virtualMemory = gomem.VirtualMemoryWithContext
	diskUsage     = godisk.UsageWithContext
)

// HostSnapshot is a point-in-time sample of the resources the gateway
// depends on: overall CPU and memory pressure plus headroom on the volume
// backing the workspace.
type HostSnapshot struct {
	CPUUsagePercent      float64
	MemoryUsedPercent    float64
	MemoryTotalBytes     int64
	WorkspaceUsedPercent float64
	WorkspaceFreeBytes   int64
}

// CollectHost gathers a host utilisation sample. Memory stats are required;
// CPU and workspace disk readings are best-effort.
func CollectHost(ctx context.Context, workspaceRoot string) (HostSnapshot, error) {
	collectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var snapshot HostSnapshot

	if usage, err := collectCPUUsage(collectCtx); err == nil {
		snapshot.CPUUsagePercent = usage
	}

	memStats, err := virtualMemory(collectCtx)
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("memory stats: %w", err)
	}
	snapshot.MemoryUsedPercent = memStats.UsedPercent
	snapshot.MemoryTotalBytes = int64(memStats.Total)

	if usage, err := diskUsage(collectCtx, workspaceRoot); err == nil && usage != nil {
		snapshot.WorkspaceUsedPercent = usage.UsedPercent
		snapshot.WorkspaceFreeBytes = int64(usage.Free)
	}

	return snapshot, nil
}

func collectCPUUsage(ctx context.Context) (float64, error) {
	percentages, err := cpuPercent(ctx, time.Second, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}

	usage := percentages[0]
	if usage < 0 {
		usage = 0
	}
	if usage > 100 {
		usage = 100
	}
	return usage, nil
}

// StartHostCollector samples host utilisation on an interval and publishes
// the readings as gauges until ctx is cancelled. The first sample is taken
// immediately.
func StartHostCollector(ctx context.Context, workspaceRoot string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if snapshot, err := CollectHost(ctx, workspaceRoot); err != nil {
				log.Debug().Err(err).Msg("Host metrics collection failed")
			} else {
				Get().SetHostSnapshot(snapshot)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
