package agent

import (
	"context"
	"time"
)

// OpenFileLister lists the absolute paths a process holds open.
type OpenFileLister interface {
	ListOpenFiles(ctx context.Context, pid int) []string
}

// activeSessionFile returns the most recently modified open file of pid that
// match accepts. Listing failures, timeouts and zero candidates all yield "".
func activeSessionFile(ctx context.Context, lister OpenFileLister, pid int, timeout time.Duration, match func(string) bool) string {
	if timeout <= 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var best string
	var bestMod time.Time
	for _, path := range lister.ListOpenFiles(ctx, pid) {
		if !match(path) {
			continue
		}
		mod := modTime(path)
		if best == "" || mod.After(bestMod) {
			best, bestMod = path, mod
		}
	}
	return best
}
