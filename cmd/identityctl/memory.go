package main

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/personcrm/identity-engine/pkg/strength"
)

// memoryBudgetExceeded returns a strength.MemoryBudget that reports true
// once this process's resident set size passes limitMB, so a long RankAll
// pass over a large person set can checkpoint and stop rather than being
// killed mid-write (spec's supplemented "memory monitor checkpointing"
// feature, ambient to the ranking pass rather than part of its formulas).
func memoryBudgetExceeded(limitMB int) strength.MemoryBudget {
	limitBytes := uint64(limitMB) * 1024 * 1024
	pid := int32(os.Getpid())

	return func() bool {
		proc, err := process.NewProcess(pid)
		if err != nil {
			return false
		}
		info, err := proc.MemoryInfo()
		if err != nil || info == nil {
			return false
		}
		return info.RSS > limitBytes
	}
}
