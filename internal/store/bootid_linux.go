package store

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// BootID reads the kernel-assigned boot UUID, falling back to a random
// UUID if the kernel interface is unavailable (e.g. inside some
// containers).
func BootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return uuid.NewString()
	}
	return strings.TrimSpace(string(data))
}
