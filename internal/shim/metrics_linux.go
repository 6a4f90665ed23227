package shim

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/boxlite/boxlite/internal/vmm"
)

// Metrics samples the shim process's resident memory from /proc. CPU
// percent needs two samples and is left zero for a single read.
func (h *Handle) Metrics() (vmm.Metrics, error) {
	var m vmm.Metrics
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", h.pid))
	if err != nil {
		return m, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				m.MemoryBytes = kb * 1024
			}
		}
		break
	}
	return m, nil
}
