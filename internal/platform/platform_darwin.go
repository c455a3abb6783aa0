//go:build darwin

package platform

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Compile-time interface check.
var _ Platform = (*darwinPlatform)(nil)

// listTimeout bounds the ps and lsof calls made by ListProcesses.
const listTimeout = 5 * time.Second

// lstartLayout is ps lstart in the C locale, with runs of spaces collapsed.
const lstartLayout = "Mon Jan 2 15:04:05 2006"

type darwinPlatform struct{}

func init() { P = &darwinPlatform{} }

// ListProcesses runs `ps -axww -o pid=,ppid=,%cpu=,rss=,lstart=,args=` and fills in
// working directories with a single `lsof -d cwd` call. Environment variables
// of other processes are not readable on macOS, so Env is always nil.
func (d *darwinPlatform) ListProcesses() ([]Process, error) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ps", "-axww", "-o", "pid=,ppid=,%cpu=,rss=,lstart=,args=")
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	procs := parsePS(string(out))

	cwds := readCwds(ctx)
	for i := range procs {
		procs[i].Cwd = cwds[procs[i].PID]
	}
	return procs, nil
}

// parsePS parses the headerless ps output requested by ListProcesses.
// lstart is five fields wide, e.g. "Mon Mar  2 09:15:04 2026". Arguments are
// split on whitespace; ps does not preserve argv boundaries.
func parsePS(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(fields[1])
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		rssKB, _ := strconv.ParseUint(fields[3], 10, 64)
		args := fields[9:]
		p := Process{
			PID:     pid,
			PPID:    ppid,
			Name:    filepath.Base(args[0]),
			Cmdline: args,
			CPU:     cpu,
			Memory:  rssKB * 1024,
		}
		if t, err := time.ParseInLocation(lstartLayout, strings.Join(fields[4:9], " "), time.Local); err == nil {
			p.StartTime = t
		}
		procs = append(procs, p)
	}
	return procs
}
