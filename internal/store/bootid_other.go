//go:build !linux && !darwin

package store

import "github.com/google/uuid"

// BootID has no portable kernel source on this platform; a random UUID
// makes every runtime start look like a reboot, which errs on the safe
// side (active boxes get reset to Stopped).
func BootID() string {
	return uuid.NewString()
}
