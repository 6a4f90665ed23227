package jailer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// sbplProfile renders the Seatbelt policy for one box: deny by default,
// then allow process control, networking, reads of system paths and the
// image store, and writes only inside the box directory, the logs and
// tmp directories, and explicitly writable user volumes.
func sbplProfile(paths Paths, writableVolumes []string) string {
	var sb strings.Builder
	sb.WriteString("(version 1)\n")
	sb.WriteString("(deny default)\n")
	sb.WriteString("(allow process-fork)\n")
	sb.WriteString("(allow process-exec)\n")
	sb.WriteString("(allow signal (target self))\n")
	sb.WriteString("(allow sysctl-read)\n")
	sb.WriteString("(allow mach-lookup)\n")
	sb.WriteString("(allow network*)\n")
	sb.WriteString("(allow file-read* (subpath \"/usr\") (subpath \"/System\") (subpath \"/Library\") (subpath \"/bin\") (subpath \"/sbin\") (subpath \"/dev\") (subpath \"/private/tmp\"))\n")
	fmt.Fprintf(&sb, "(allow file-read* (subpath %q))\n", paths.ImagesDir)
	fmt.Fprintf(&sb, "(allow file-read* file-write* (subpath %q))\n", paths.BoxDir)
	fmt.Fprintf(&sb, "(allow file-read* file-write* (subpath %q))\n", paths.LogsDir)
	fmt.Fprintf(&sb, "(allow file-read* file-write* (subpath %q))\n", paths.TmpDir)
	for _, vol := range writableVolumes {
		fmt.Fprintf(&sb, "(allow file-read* file-write* (subpath %q))\n", vol)
	}
	return sb.String()
}

// Command wraps the shim invocation in sandbox-exec with an SBPL
// profile. Resource limits are applied inside the shim (rlimits only on
// macOS; there is no cgroup equivalent).
func Command(ctx context.Context, shimPath string, shimArgs []string, paths Paths, sec SecurityOptions, detach bool) (*exec.Cmd, error) {
	if !sec.JailerEnabled {
		return exec.CommandContext(ctx, shimPath, shimArgs...), nil
	}
	profile := sbplProfile(paths, nil)
	args := append([]string{"-p", profile, shimPath}, shimArgs...)
	return exec.CommandContext(ctx, "sandbox-exec", args...), nil
}
