package platform

import (
	"context"
	"strings"
	"time"
)

// Process is one row of an OS process listing.
type Process struct {
	PID     int
	PPID    int
	Name    string   // executable name (comm), not the full path
	Cmdline []string // argv
	Cwd     string   // empty if unreadable
	CPU     float64  // percent of one core
	Memory  uint64   // resident bytes
	Env     map[string]string
	// StartTime is when the process started; zero if unknown.
	StartTime time.Time
}

// Arg0 returns argv[0], or "" for kernel threads and zombies.
func (p *Process) Arg0() string {
	if len(p.Cmdline) == 0 {
		return ""
	}
	return p.Cmdline[0]
}

// CommandLine joins argv with spaces.
func (p *Process) CommandLine() string {
	return strings.Join(p.Cmdline, " ")
}

// BinaryMatches reports whether argv[0] is exactly name or a path ending in
// "/name". The comparison ignores case.
func (p *Process) BinaryMatches(name string) bool {
	arg0 := strings.ToLower(p.Arg0())
	name = strings.ToLower(name)
	return arg0 == name || strings.HasSuffix(arg0, "/"+name)
}

// Platform abstracts OS-specific process introspection.
type Platform interface {
	// ListProcesses returns every visible process with cmdline, cwd, cpu,
	// memory, parent pid and environment populated where readable.
	ListProcesses() ([]Process, error)
	// ListOpenFiles returns absolute file paths of all open FDs for a process.
	ListOpenFiles(ctx context.Context, pid int) []string
}

// P is the platform-specific implementation, initialised by an init() in
// the platform_linux.go or platform_darwin.go file.
var P Platform
