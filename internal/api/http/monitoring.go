// internal/api/http/monitoring.go
package http

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// collectStatus samples process and host statistics. Host values that cannot
// be read on this platform are left zero.
func collectStatus(ctx context.Context) StatusResponse {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		NumGoroutine:  runtime.NumGoroutine(),
		Alloc:         memStats.Alloc,
		Sys:           memStats.Sys,
		NumGC:         memStats.NumGC,
		TotalCPUCores: runtime.NumCPU(),
	}

	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.TotalRAM = vMem.Total
		stats.AvailableRAM = vMem.Available
		stats.UsedRAMPercent = vMem.UsedPercent
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		stats.CPUUsagePercent = pct
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Hostname = info.Hostname
		stats.Uptime = info.Uptime
	}
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		stats.CPUTemperatures = temps
	}

	return StatusResponse{Timestamp: time.Now(), System: stats}
}
