package vmm

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// TranslateGuestArgs rewrites host-side Unix socket URIs in the guest
// entrypoint args to the vsock URIs the guest actually reaches:
// `--listen unix://…` becomes `--listen vsock://<GuestAgentPort>` and
// `--notify unix://…` becomes `--notify vsock://<GuestReadyPort>`.
// Both split args and shell-style `-c "…"` strings are handled.
func TranslateGuestArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	translateArg(out, "listen", GuestAgentPort)
	translateArg(out, "notify", GuestReadyPort)
	return out
}

func translateArg(args []string, name string, port uint32) {
	vsockURI := fmt.Sprintf("vsock://%d", port)
	flag := "--" + name
	pattern := flag + " unix://"

	for i := range args {
		// Split form: ["--listen", "unix://..."].
		if args[i] == flag && i+1 < len(args) && strings.HasPrefix(args[i+1], "unix://") {
			slog.Debug("translating guest transport arg", "arg", name, "original", args[i+1], "translated", vsockURI)
			args[i+1] = vsockURI
			return
		}
		// Shell form: ["-c", "... --listen unix://... "].
		if strings.Contains(args[i], pattern) {
			args[i] = replaceUnixURI(args[i], flag, vsockURI)
			slog.Debug("translating guest transport arg in shell string", "arg", name, "translated", args[i])
			return
		}
	}
}

// replaceUnixURI substitutes every `<flag> unix://<path>` occurrence in
// a shell command string with `<flag> <vsockURI>`, where <path> runs to
// the next whitespace.
func replaceUnixURI(s, flag, vsockURI string) string {
	pattern := flag + " unix://"
	var sb strings.Builder
	for {
		idx := strings.Index(s, pattern)
		if idx < 0 {
			sb.WriteString(s)
			break
		}
		sb.WriteString(s[:idx])
		sb.WriteString(flag)
		sb.WriteByte(' ')
		sb.WriteString(vsockURI)
		rest := s[idx+len(pattern):]
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			break
		}
		s = rest[end:]
	}
	return sb.String()
}
