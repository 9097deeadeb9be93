package http

import (
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// InitRequest names the display sink that receives the rendered images.
type InitRequest struct {
	Sink string `json:"sink" validate:"required,oneof=frames headless"`
}

// LimitResponse is the limit a class ended up with after clamping.
type LimitResponse struct {
	Class string `json:"class"`
	Limit int    `json:"limit"`
}

// FramesResponse lists the images available so far.
type FramesResponse struct {
	IDs      []uint32 `json:"ids"`
	Total    uint32   `json:"total,omitempty"`
	Complete bool     `json:"complete"`
}

// SystemStats describes the host the dispatcher runs on.
type SystemStats struct {
	NumGoroutine int    `json:"num_goroutine"`
	Alloc        uint64 `json:"alloc_bytes"`
	Sys          uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"num_gc"`

	Hostname        string    `json:"hostname,omitempty"`
	Uptime          uint64    `json:"uptime_seconds,omitempty"`
	TotalRAM        uint64    `json:"total_ram"`
	AvailableRAM    uint64    `json:"available_ram"`
	UsedRAMPercent  float64   `json:"used_ram_percent"`
	TotalCPUCores   int       `json:"total_cpu_cores"`
	CPUUsagePercent []float64 `json:"cpu_usage_percent"`

	CPUTemperatures []host.TemperatureStat `json:"cpu_temperatures,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	System    SystemStats `json:"system"`
}
