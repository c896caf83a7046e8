package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot captures host resource usage at a point in time.
// It is attached to aggregated statuses so a starved host can be told
// apart from an unhealthy pipeline.
type ResourceSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  uint64    `json:"memory_used_mb"`
	Load1         float64   `json:"load1"`
	SampledAt     time.Time `json:"sampled_at"`
}

// SampleResources collects a host resource snapshot. A failed read
// leaves its fields zero; the snapshot itself never fails.
func SampleResources() *ResourceSnapshot {
	snap := &ResourceSnapshot{SampledAt: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryUsedMB = vm.Used / (1024 * 1024)
	}
	if avg, err := load.Avg(); err == nil {
		snap.Load1 = avg.Load1
	}

	return snap
}
