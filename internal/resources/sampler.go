// Package resources samples OS-level process and system usage percentages.
//
// DESIGN: The gopsutil calls live behind the Sampler interface so every
// consumer (recovery checks, resource alerts, metric recording) can be
// tested with a fake.
package resources

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is one point-in-time resource measurement, all in percent.
type Usage struct {
	ProcessMemoryPct float64 `json:"process_memory_pct"`
	ProcessCPUPct    float64 `json:"process_cpu_pct"`
	SystemMemoryPct  float64 `json:"system_memory_pct"`
	SystemCPUPct     float64 `json:"system_cpu_pct"`
}

// Sampler measures current resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// OSSampler measures the running process and its host via gopsutil.
type OSSampler struct {
	proc *process.Process
}

// NewOSSampler creates a sampler bound to the current process.
func NewOSSampler() (*OSSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}
	return &OSSampler{proc: proc}, nil
}

// Sample measures current usage.
func (s *OSSampler) Sample(ctx context.Context) (Usage, error) {
	var u Usage

	memPct, err := s.proc.MemoryPercentWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("failed to sample process memory: %w", err)
	}
	u.ProcessMemoryPct = float64(memPct)

	cpuPct, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("failed to sample process cpu: %w", err)
	}
	u.ProcessCPUPct = cpuPct

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("failed to sample system memory: %w", err)
	}
	u.SystemMemoryPct = vm.UsedPercent

	// Instantaneous reading; interval 0 compares against the previous call.
	sysCPU, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return u, fmt.Errorf("failed to sample system cpu: %w", err)
	}
	if len(sysCPU) > 0 {
		u.SystemCPUPct = sysCPU[0]
	}

	return u, nil
}
