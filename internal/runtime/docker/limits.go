package docker

import (
	"github.com/docker/docker/api/types/container"

	"tutorexec/internal/domain/execution"
)

// hostConfigFor isolates a container: no network, no capabilities, no
// privilege escalation, bounded memory, CPU and processes. Only the
// workspace is shared with the host.
func hostConfigFor(workspace, mountPath string, limits execution.RunLimits) *container.HostConfig {
	hostConfig := &container.HostConfig{
		Binds:       []string{workspace + ":" + mountPath},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}
	if limits.MemoryLimitBytes > 0 {
		hostConfig.Resources.Memory = limits.MemoryLimitBytes
		// Equal swap ceiling disables swap.
		hostConfig.Resources.MemorySwap = limits.MemoryLimitBytes
	}
	if limits.NanoCPUs > 0 {
		hostConfig.Resources.NanoCPUs = limits.NanoCPUs
	}
	if limits.PidsLimit > 0 {
		pids := limits.PidsLimit
		hostConfig.Resources.PidsLimit = &pids
	}
	return hostConfig
}
