//go:build linux

package platform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Platform = (*linuxPlatform)(nil)

// clockTicks is USER_HZ, fixed at 100 on every mainstream Linux ABI.
const clockTicks = 100

type cpuSample struct {
	ticks uint64
	at    time.Time
}

type linuxPlatform struct {
	procRoot string
	pageSize uint64

	mu   sync.Mutex
	prev map[int]cpuSample
}

func init() { P = newLinuxPlatform("/proc") }

func newLinuxPlatform(procRoot string) *linuxPlatform {
	return &linuxPlatform{
		procRoot: procRoot,
		pageSize: uint64(os.Getpagesize()),
		prev:     make(map[int]cpuSample),
	}
}

// ListProcesses scans /proc/[0-9]* and builds one Process per readable entry.
// CPU usage is the delta against the previous call; on first sight of a pid it
// falls back to the average since process start.
func (l *linuxPlatform) ListProcesses() ([]Process, error) {
	entries, err := filepath.Glob(filepath.Join(l.procRoot, "[0-9]*"))
	if err != nil {
		return nil, err
	}

	uptime := l.readUptime()
	boot := l.readBootTime()
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[int]cpuSample, len(entries))
	procs := make([]Process, 0, len(entries))
	for _, dir := range entries {
		pid, err := strconv.Atoi(filepath.Base(dir))
		if err != nil {
			continue
		}
		st, ok := l.readStat(dir)
		if !ok {
			continue
		}

		p := Process{
			PID:     pid,
			PPID:    st.ppid,
			Name:    st.comm,
			Cmdline: l.readCmdline(dir),
			Cwd:     l.readCwd(dir),
			Memory:  l.readRSS(dir),
			Env:     l.readEnviron(dir),
		}
		if !boot.IsZero() {
			p.StartTime = boot.Add(time.Duration(st.starttime) * time.Second / clockTicks)
		}

		sample := cpuSample{ticks: st.utime + st.stime, at: now}
		if prev, ok := l.prev[pid]; ok && sample.ticks >= prev.ticks {
			elapsed := now.Sub(prev.at).Seconds()
			if elapsed > 0 {
				p.CPU = float64(sample.ticks-prev.ticks) / clockTicks / elapsed * 100
			}
		} else if uptime > 0 {
			lifetime := uptime - float64(st.starttime)/clockTicks
			if lifetime > 0 {
				p.CPU = float64(sample.ticks) / clockTicks / lifetime * 100
			}
		}
		seen[pid] = sample
		procs = append(procs, p)
	}
	l.prev = seen
	return procs, nil
}

// ListOpenFiles returns absolute file paths of all open FDs for a process
// by reading /proc/{pid}/fd/* symlinks.
func (l *linuxPlatform) ListOpenFiles(ctx context.Context, pid int) []string {
	fdDir := filepath.Join(l.procRoot, strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil
	}

	var paths []string
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		link, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil || !strings.HasPrefix(link, "/") {
			continue
		}
		paths = append(paths, link)
	}
	return paths
}

type procStat struct {
	comm      string
	ppid      int
	utime     uint64
	stime     uint64
	starttime uint64
}

// readStat parses /proc/{pid}/stat. The comm field may contain spaces and
// parentheses, so fields are counted from the last ')'.
func (l *linuxPlatform) readStat(dir string) (procStat, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return procStat{}, false
	}
	open := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if open < 0 || end < open {
		return procStat{}, false
	}
	fields := strings.Fields(string(data[end+1:]))
	// fields[0] is state (field 3 in proc(5)).
	if len(fields) < 20 {
		return procStat{}, false
	}
	st := procStat{comm: string(data[open+1 : end])}
	st.ppid, _ = strconv.Atoi(fields[1])
	st.utime, _ = strconv.ParseUint(fields[11], 10, 64)
	st.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	st.starttime, _ = strconv.ParseUint(fields[19], 10, 64)
	return st, true
}

func (l *linuxPlatform) readCmdline(dir string) []string {
	data, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil || len(data) == 0 {
		return nil
	}
	data = bytes.TrimRight(data, "\x00")
	return strings.Split(string(data), "\x00")
}

func (l *linuxPlatform) readCwd(dir string) string {
	link, err := os.Readlink(filepath.Join(dir, "cwd"))
	if err != nil {
		return ""
	}
	return link
}

// readRSS returns resident memory from /proc/{pid}/statm (second field, pages).
func (l *linuxPlatform) readRSS(dir string) uint64 {
	data, err := os.ReadFile(filepath.Join(dir, "statm"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * l.pageSize
}

func (l *linuxPlatform) readEnviron(dir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, "environ"))
	if err != nil || len(data) == 0 {
		return nil
	}
	env := make(map[string]string)
	for _, kv := range bytes.Split(data, []byte{0}) {
		k, v, ok := bytes.Cut(kv, []byte{'='})
		if !ok || len(k) == 0 {
			continue
		}
		env[string(k)] = string(v)
	}
	return env
}

// readBootTime returns the "btime" line of /proc/stat.
func (l *linuxPlatform) readBootTime() time.Time {
	data, err := os.ReadFile(filepath.Join(l.procRoot, "stat"))
	if err != nil {
		return time.Time{}
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(line, "btime "); ok {
			sec, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				return time.Time{}
			}
			return time.Unix(sec, 0)
		}
	}
	return time.Time{}
}

func (l *linuxPlatform) readUptime() float64 {
	data, err := os.ReadFile(filepath.Join(l.procRoot, "uptime"))
	if err != nil {
		return 0
	}
	var up float64
	if _, err := fmt.Sscanf(string(data), "%f", &up); err != nil {
		return 0
	}
	return up
}
