package agent

import (
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// rolloutIDRe captures the trailing UUID of a rollout file name:
// rollout-2026-02-26T23-51-07-019c9aa5-8f55-7833-b235-d00a5faa09d0.jsonl
var rolloutIDRe = regexp.MustCompile(`rollout.*?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\.jsonl$`)

// rolloutThreadID extracts and validates the thread UUID of a rollout path.
func rolloutThreadID(path string) (uuid.UUID, bool) {
	m := rolloutIDRe.FindStringSubmatch(filepath.Base(path))
	if len(m) < 2 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// codexThread holds metadata fetched from the Codex SQLite database.
type codexThread struct {
	Title string
	Cwd   string
}

// findCodexStateDB returns the newest state_*.sqlite in home, or "".
func findCodexStateDB(home string) string {
	matches, err := filepath.Glob(filepath.Join(home, "state_*.sqlite"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	best := ""
	var bestMod int64
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := fi.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = m, mod
		}
	}
	return best
}

// lookupCodexThreads queries the threads table for the given ids. The
// database is opened read-only; any failure yields whatever was found so far.
func lookupCodexThreads(dbPath string, ids []uuid.UUID) map[uuid.UUID]codexThread {
	out := make(map[uuid.UUID]codexThread)
	if dbPath == "" || len(ids) == 0 {
		return out
	}

	// Without the file: prefix the driver drops the query and opens read-write.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		codexLog.Debug("state_db_open_failed", "path", dbPath, "error", err.Error())
		return out
	}
	defer db.Close()

	stmt, err := db.Prepare("SELECT title, cwd FROM threads WHERE id = ?")
	if err != nil {
		codexLog.Debug("state_db_prepare_failed", "path", dbPath, "error", err.Error())
		return out
	}
	defer stmt.Close()

	for _, id := range ids {
		var title, cwd sql.NullString
		if err := stmt.QueryRow(id.String()).Scan(&title, &cwd); err != nil {
			continue
		}
		out[id] = codexThread{
			Title: strings.TrimSpace(title.String),
			Cwd:   cwd.String,
		}
	}
	return out
}
