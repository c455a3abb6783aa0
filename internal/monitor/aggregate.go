package monitor

import (
	"sort"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

// Dedupe keeps one session per pid. When two detectors claim the same
// process the more active status wins, then the newer activity, then the
// one with a message, then the higher id. Output keeps the order in which
// pids were first seen.
func Dedupe(sessions []model.Session) []model.Session {
	var order []int
	best := make(map[int]model.Session, len(sessions))
	for _, s := range sessions {
		cur, ok := best[s.PID]
		if !ok {
			order = append(order, s.PID)
			best[s.PID] = s
			continue
		}
		if preferred(&s, &cur) {
			best[s.PID] = s
		}
	}

	out := make([]model.Session, 0, len(order))
	for _, pid := range order {
		out = append(out, best[pid])
	}
	return out
}

// preferred reports whether a should replace b.
func preferred(a, b *model.Session) bool {
	if a.Status.Priority() != b.Status.Priority() {
		return a.Status.MoreActive(b.Status)
	}
	if a.NewerThan(b) {
		return true
	}
	if b.NewerThan(a) {
		return false
	}
	if (a.LastMessage != "") != (b.LastMessage != "") {
		return a.LastMessage != ""
	}
	return a.ID > b.ID
}

// Aggregate partitions sessions into foreground and background and sorts
// both. Foreground goes by status priority then newest activity; background
// by agent order then newest activity.
func Aggregate(sessions []model.Session) model.SessionsResponse {
	resp := model.SessionsResponse{
		Sessions:           []model.Session{},
		BackgroundSessions: []model.Session{},
	}
	for _, s := range sessions {
		if s.IsBackground {
			resp.BackgroundSessions = append(resp.BackgroundSessions, s)
		} else {
			resp.Sessions = append(resp.Sessions, s)
		}
	}

	fg := resp.Sessions
	sort.SliceStable(fg, func(i, j int) bool {
		if pi, pj := fg[i].Status.Priority(), fg[j].Status.Priority(); pi != pj {
			return pi < pj
		}
		return fg[i].NewerThan(&fg[j])
	})
	bg := resp.BackgroundSessions
	sort.SliceStable(bg, func(i, j int) bool {
		if oi, oj := bg[i].AgentType.Order(), bg[j].AgentType.Order(); oi != oj {
			return oi < oj
		}
		return bg[i].NewerThan(&bg[j])
	})

	resp.TotalCount = len(fg)
	for _, s := range fg {
		if s.Status == model.StatusWaiting {
			resp.WaitingCount++
		}
	}
	return resp
}
