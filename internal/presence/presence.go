// Package presence turns raw per-tab presence records into the
// participant list the session view shows: one entry per user no
// matter how many tabs they have open.
package presence

import (
	"sort"
	"time"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

// Participant is a deduplicated presence entry for one user.
type Participant struct {
	UserID   string
	FullName string
	Email    string
	// JoinedAt is the earliest joined_at among the user's tabs.
	JoinedAt time.Time
	TabCount int
}

// Aggregate groups the transport's presence snapshot by user. local is
// an optimistic record shown before the transport confirms our own
// join; it is ignored as soon as the snapshot contains the same user.
// Output is ordered ascending by joined_at, stable for ties.
func Aggregate(state map[string][]wire.PresenceRecord, local *wire.PresenceRecord) []Participant {
	byUser := map[string]*Participant{}
	order := []string{}

	add := func(rec wire.PresenceRecord) {
		if p, ok := byUser[rec.UserID]; ok {
			p.TabCount++
			if rec.JoinedAt.Before(p.JoinedAt) {
				p.JoinedAt = rec.JoinedAt
			}
			return
		}
		byUser[rec.UserID] = &Participant{
			UserID:   rec.UserID,
			FullName: rec.FullName,
			Email:    rec.Email,
			JoinedAt: rec.JoinedAt,
			TabCount: 1,
		}
		order = append(order, rec.UserID)
	}

	// Iterate keys deterministically so equal timestamps keep a stable
	// relative order between calls.
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, rec := range state[k] {
			add(rec)
		}
	}

	if local != nil {
		if _, confirmed := byUser[local.UserID]; !confirmed {
			add(*local)
		}
	}

	out := make([]Participant, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
