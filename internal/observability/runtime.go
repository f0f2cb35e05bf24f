package observability

import (
	"runtime"
	"time"
)

// Health is the liveness snapshot served on /health.
type Health struct {
	Status          string  `json:"status"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Sessions        int     `json:"sessions"`
	BrowserRunning  bool    `json:"browser_running"`
	GoroutinesCount int     `json:"goroutines_count"`
	MemoryAllocMB   float64 `json:"memory_alloc_mb"`
	MemorySysMB     float64 `json:"memory_sys_mb"`
	GCCount         uint32  `json:"gc_count"`
}

// CollectHealth reads the Go runtime stats and fills a Health. started is
// the process start time.
func CollectHealth(started time.Time, sessions int, browserRunning bool) Health {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Health{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(started).Seconds()),
		Sessions:        sessions,
		BrowserRunning:  browserRunning,
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}
