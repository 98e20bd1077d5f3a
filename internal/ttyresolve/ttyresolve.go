// Package ttyresolve finds the controlling terminal for the current
// invocation by walking ancestor processes. The hook process itself usually
// has no terminal; its interactive ancestor does.
package ttyresolve

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Hook processes sit only a few forks below the interactive shell.
const maxAncestorDepth = 10

// ControllingTTY returns the device path of the nearest ancestor's
// controlling terminal, or "" when none is found. A session without a
// resolvable terminal is tracked with an empty tty, which the registry
// treats as always alive.
func ControllingTTY() string {
	return controllingTTYFrom(int32(os.Getpid()))
}

func controllingTTYFrom(pid int32) string {
	for depth := 0; depth < maxAncestorDepth; depth++ {
		p, err := process.NewProcess(pid)
		if err != nil {
			return ""
		}
		if term, err := p.Terminal(); err == nil && term != "" {
			return normalizeTerminal(term)
		}
		ppid, err := p.Ppid()
		if err != nil || ppid <= 1 || ppid == pid {
			return ""
		}
		pid = ppid
	}
	return ""
}

// normalizeTerminal maps the library's terminal name ("pts/0" or
// "/dev/pts/0" depending on platform) onto a device path.
func normalizeTerminal(term string) string {
	if strings.HasPrefix(term, "/") {
		return term
	}
	return "/dev/" + term
}
