package execution

import "time"

// RunLimits describes optional resource boundaries for a single execution.
//
// A zero value RunLimits imposes no additional restrictions.
type RunLimits struct {
	// TimeLimit caps how long the program is allowed to run. Zero means no limit.
	TimeLimit time.Duration
	// MemoryLimitBytes caps the sandbox memory usage in bytes. Zero means no limit.
	MemoryLimitBytes int64
	// NanoCPUs caps the CPU share in units of 1e-9 cores. Zero means no limit.
	NanoCPUs int64
	// PidsLimit caps the number of processes inside the sandbox. Zero means no limit.
	PidsLimit int64
}

// Normalize clamps negative values to zero.
func (l RunLimits) Normalize() RunLimits {
	if l.TimeLimit < 0 {
		l.TimeLimit = 0
	}
	if l.MemoryLimitBytes < 0 {
		l.MemoryLimitBytes = 0
	}
	if l.NanoCPUs < 0 {
		l.NanoCPUs = 0
	}
	if l.PidsLimit < 0 {
		l.PidsLimit = 0
	}
	return l
}

// Merge returns l with every positive field of overrides applied on top.
func (l RunLimits) Merge(overrides RunLimits) RunLimits {
	effective := l.Normalize()
	o := overrides.Normalize()

	if o.TimeLimit > 0 {
		effective.TimeLimit = o.TimeLimit
	}
	if o.MemoryLimitBytes > 0 {
		effective.MemoryLimitBytes = o.MemoryLimitBytes
	}
	if o.NanoCPUs > 0 {
		effective.NanoCPUs = o.NanoCPUs
	}
	if o.PidsLimit > 0 {
		effective.PidsLimit = o.PidsLimit
	}
	return effective
}
