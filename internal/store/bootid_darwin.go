package store

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// BootID reads the kernel boot session UUID, falling back to a random
// UUID if the sysctl is unavailable.
func BootID() string {
	v, err := unix.Sysctl("kern.bootsessionuuid")
	if err != nil {
		return uuid.NewString()
	}
	return strings.TrimSpace(v)
}
