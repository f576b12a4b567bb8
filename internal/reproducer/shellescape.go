package reproducer

import "strings"

// shellEscape quotes s for safe interpolation into a shell command string.
// The reproducer builds its git/mvn commands by string concatenation (the
// commands are logged and inspected, so a []string exec argv is not an
// option), so every value interpolated into them (the project URL and the
// breaking commit) gets escaped going in. Ground: internal/dispatch/shell_escape.go,
// adapted down to the single quoting rule this package's command strings need.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if isSafeForShell(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isSafeForShell(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '/' || r == ':':
		default:
			return false
		}
	}
	return true
}
