// Package vcs answers the two git questions the UI asks about a project:
// where its GitHub page is, and how large its uncommitted diff is.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
)

var vcsLog = logging.ForComponent(logging.CompVCS)

var (
	// ErrNotRepository is returned for paths outside any git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrNoRemote is returned when the repository has no origin remote.
	ErrNoRemote = errors.New("no origin remote")
	// ErrNotGitHub is returned when origin points somewhere other than GitHub.
	ErrNotGitHub = errors.New("origin is not a GitHub remote")
)

// gitTimeout bounds every git invocation.
const gitTimeout = 3 * time.Second

// DefaultCacheTTL is how long a remote URL lookup is reused.
const DefaultCacheTTL = 60 * time.Second

// runFunc executes git with args inside dir and returns stdout.
type runFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, classify(err, stderr.String())
	}
	return out, nil
}

// classify maps git's stderr to the package sentinels.
func classify(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not a git repository"):
		return ErrNotRepository
	case strings.Contains(lower, "no such remote"):
		return ErrNoRemote
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("git: %s: %w", msg, err)
	}
	return fmt.Errorf("git: %w", err)
}

type remoteEntry struct {
	url     string
	err     error
	fetched time.Time
}

// Resolver caches remote URL lookups per directory. Failed lookups are
// cached as well, so a directory without a remote costs one git call per TTL.
type Resolver struct {
	ttl time.Duration
	now func() time.Time
	run runFunc

	mu    sync.RWMutex
	cache map[string]remoteEntry
	sf    singleflight.Group
}

// NewResolver returns a Resolver with the given cache TTL. A non-positive
// ttl selects DefaultCacheTTL.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		ttl:   ttl,
		now:   time.Now,
		run:   runGit,
		cache: make(map[string]remoteEntry),
	}
}

// RemoteURL returns the https GitHub URL of dir's origin remote.
func (r *Resolver) RemoteURL(ctx context.Context, dir string) (string, error) {
	r.mu.RLock()
	e, ok := r.cache[dir]
	r.mu.RUnlock()
	if ok && r.now().Sub(e.fetched) < r.ttl {
		return e.url, e.err
	}

	v, _, _ := r.sf.Do(dir, func() (interface{}, error) {
		url, err := r.lookup(ctx, dir)
		entry := remoteEntry{url: url, err: err, fetched: r.now()}
		r.mu.Lock()
		r.cache[dir] = entry
		r.mu.Unlock()
		return entry, nil
	})
	entry := v.(remoteEntry)
	return entry.url, entry.err
}

func (r *Resolver) lookup(ctx context.Context, dir string) (string, error) {
	out, err := r.run(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		vcsLog.Debug("remote_lookup_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return "", err
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return "", ErrNoRemote
	}
	url, ok := NormalizeGitHubURL(raw)
	if !ok {
		return "", ErrNotGitHub
	}
	return url, nil
}

// NormalizeGitHubURL turns git@github.com:user/repo.git and
// https://github.com/user/repo.git into https://github.com/user/repo.
func NormalizeGitHubURL(remote string) (string, bool) {
	remote = strings.TrimSpace(remote)
	var path string
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		path = strings.TrimPrefix(remote, "git@github.com:")
	case strings.HasPrefix(remote, "ssh://git@github.com/"):
		path = strings.TrimPrefix(remote, "ssh://git@github.com/")
	case strings.HasPrefix(remote, "https://github.com/"):
		path = strings.TrimPrefix(remote, "https://github.com/")
	default:
		return "", false
	}
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	if path == "" {
		return "", false
	}
	return "https://github.com/" + path, true
}

// DiffStat is the size of a work tree's uncommitted changes against HEAD.
type DiffStat struct {
	Files     int `json:"files"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// DiffStat runs `git diff --numstat HEAD` in dir and sums the result.
func (r *Resolver) DiffStat(ctx context.Context, dir string) (DiffStat, error) {
	out, err := r.run(ctx, dir, "diff", "--numstat", "HEAD")
	if err != nil {
		return DiffStat{}, err
	}
	return parseNumstat(string(out)), nil
}

// parseNumstat sums "added<TAB>deleted<TAB>path" lines. Binary files
// report "-" for both counts and only add to Files.
func parseNumstat(out string) DiffStat {
	var st DiffStat
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 3 {
			continue
		}
		st.Files++
		if n, err := strconv.Atoi(fields[0]); err == nil {
			st.Additions += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			st.Deletions += n
		}
	}
	return st
}
