package shim

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// IsSameProcess reports whether pid's command line looks like a
// boxlite shim for this specific box. Guards against PID reuse after a
// crash: a recycled pid belonging to some unrelated process must not
// keep a box marked Running.
func IsSameProcess(pid uint32, boxID string) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	cmdline := string(bytes.ReplaceAll(data, []byte{0}, []byte{' '}))
	return strings.Contains(cmdline, "boxlite-shim") && strings.Contains(cmdline, boxID)
}
