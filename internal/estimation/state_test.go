package estimation

import (
	"errors"
	"testing"
	"time"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

var (
	alice = UserInfo{UserID: "u1", FullName: "Alice", Email: "alice@example.com"}
	bob   = UserInfo{UserID: "u2", FullName: "Bob", Email: "bob@example.com"}
)

func activeState(turnID string) State {
	return State{
		Turn:  &wire.Turn{ID: turnID, StartedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		Votes: []wire.Vote{},
	}
}

func mustApply(t *testing.T, s State, cmd Command) (wire.Event, State) {
	t.Helper()
	evt, next, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("Apply(%s): %v", cmd.Type, err)
	}
	return evt, next
}

func TestStartTurn_ClearsVotesFromAnyPhase(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Minute)

	cases := []struct {
		name  string
		setup State
	}{
		{"from idle", NewState()},
		{
			"from voting with votes",
			State{
				Turn:  &wire.Turn{ID: "old", StartedAt: now.Add(-time.Hour)},
				Votes: []wire.Vote{{UserID: "u1", Value: 5}},
			},
		},
		{
			"from revealed",
			State{
				Turn:     &wire.Turn{ID: "old", StartedAt: now.Add(-time.Hour), EndedAt: &ended},
				Votes:    []wire.Vote{{UserID: "u1", Value: 5}},
				Revealed: true,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, next := mustApply(t, tc.setup, Command{Type: CmdStartTurn, TurnID: "fresh", Now: now})

			if next.Phase() != PhaseVoting {
				t.Fatalf("want PhaseVoting, got %v", next.Phase())
			}
			if len(next.Votes) != 0 || next.Revealed {
				t.Fatalf("new turn must start empty and hidden: %+v", next)
			}
			ts, ok := evt.(wire.TurnStarted)
			if !ok || ts.TurnID != "fresh" {
				t.Fatalf("unexpected event %#v", evt)
			}
		})
	}
}

func TestSubmitVote_LastValueWins(t *testing.T) {
	s := activeState("t1")
	now := time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC)

	for i, value := range []float64{3, 8, 13} {
		_, s = mustApply(t, s, Command{
			Type: CmdSubmitVote, User: alice, Value: value, Now: now.Add(time.Duration(i) * time.Second),
		})
	}

	if len(s.Votes) != 1 {
		t.Fatalf("want 1 vote after resubmissions, got %d", len(s.Votes))
	}
	if v, _ := s.VoteOf(alice.UserID); v.Value != 13 {
		t.Fatalf("want last value 13, got %v", v.Value)
	}
}

func TestSubmitVote_KeepsOrderOnReplace(t *testing.T) {
	s := activeState("t1")
	now := time.Now()
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: alice, Value: 5, Now: now})
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: bob, Value: 8, Now: now})
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: alice, Value: 2, Now: now})

	if s.Votes[0].UserID != "u1" || s.Votes[1].UserID != "u2" {
		t.Fatalf("replace must keep relative order: %+v", s.Votes)
	}
}

func TestSubmitVote_Rejections(t *testing.T) {
	ended := time.Now()
	cases := []struct {
		name    string
		setup   State
		value   float64
		wantErr error
	}{
		{"no turn yet", NewState(), 5, ErrNoActiveTurn},
		{
			"turn revealed",
			State{Turn: &wire.Turn{ID: "t1", EndedAt: &ended}, Revealed: true},
			5, ErrTurnRevealed,
		},
		{"value not in deck", activeState("t1"), 4, ErrUnknownCard},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, next, err := Apply(tc.setup, Command{Type: CmdSubmitVote, User: alice, Value: tc.value, Now: time.Now()})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if len(next.Votes) != len(tc.setup.Votes) {
				t.Fatalf("rejected vote must not change state")
			}
		})
	}
}

func TestSubmitVote_SentinelsAreValidCards(t *testing.T) {
	s := activeState("t1")
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: alice, Value: ValueUnknown, Now: time.Now()})
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: bob, Value: ValueBreak, Now: time.Now()})
	if len(s.Votes) != 2 {
		t.Fatalf("sentinel votes must be accepted, got %+v", s.Votes)
	}
}

func TestReveal_SetsEndedAtAndFreezesVotes(t *testing.T) {
	s := activeState("t1")
	now := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	_, s = mustApply(t, s, Command{Type: CmdSubmitVote, User: alice, Value: 5, Now: now})

	evt, s := mustApply(t, s, Command{Type: CmdReveal, Now: now})

	if s.Phase() != PhaseRevealed {
		t.Fatalf("want PhaseRevealed, got %v", s.Phase())
	}
	if s.Turn.EndedAt == nil || !s.Turn.EndedAt.Equal(now) {
		t.Fatalf("revealed turn must carry ended_at")
	}
	te, ok := evt.(wire.TurnEnded)
	if !ok || len(te.Votes) != 1 {
		t.Fatalf("turn_ended must carry the vote snapshot: %#v", evt)
	}

	// Votes are frozen once revealed.
	if _, _, err := Apply(s, Command{Type: CmdSubmitVote, User: bob, Value: 8, Now: now}); !errors.Is(err, ErrTurnRevealed) {
		t.Fatalf("want ErrTurnRevealed after reveal, got %v", err)
	}
}

func TestReveal_NoOpOutsideVoting(t *testing.T) {
	if _, next, err := Apply(NewState(), Command{Type: CmdReveal, Now: time.Now()}); err == nil || next.Revealed {
		t.Fatalf("reveal from idle must fail without state change")
	}

	ended := time.Now()
	revealed := State{Turn: &wire.Turn{ID: "t1", EndedAt: &ended}, Revealed: true}
	if _, _, err := Apply(revealed, Command{Type: CmdReveal, Now: time.Now()}); !errors.Is(err, ErrTurnRevealed) {
		t.Fatalf("want ErrTurnRevealed, got %v", err)
	}
}

func TestReveal_ZeroVotesAllowed(t *testing.T) {
	evt, next := mustApply(t, activeState("t1"), Command{Type: CmdReveal, Now: time.Now()})
	if !next.Revealed {
		t.Fatalf("reveal with zero votes must still reveal")
	}
	if te := evt.(wire.TurnEnded); len(te.Votes) != 0 {
		t.Fatalf("want empty snapshot, got %+v", te.Votes)
	}
}

func TestApplyEvent_StaleVoteIsDropped(t *testing.T) {
	s := activeState("current")
	evt := wire.VoteSubmitted{TurnID: "superseded", UserID: "u9", Value: 8, SubmittedAt: time.Now()}

	next := ApplyEvent(s, evt)
	if len(next.Votes) != 0 {
		t.Fatalf("vote for a stale turn must not alter votes: %+v", next.Votes)
	}
}

func TestApplyEvent_StaleTurnEndedIsDropped(t *testing.T) {
	s := activeState("current")
	next := ApplyEvent(s, wire.TurnEnded{TurnID: "superseded", EndedAt: time.Now()})
	if next.Revealed {
		t.Fatalf("turn_ended for a stale turn must be ignored")
	}
}

func TestApplyEvent_DuplicateTurnStartedKeepsVotes(t *testing.T) {
	started := time.Now()
	s := ApplyEvent(NewState(), wire.TurnStarted{TurnID: "t1", StartedAt: started})
	s = ApplyEvent(s, wire.VoteSubmitted{TurnID: "t1", UserID: "u1", Value: 5, SubmittedAt: started})

	// At-least-once delivery: the same turn_started arrives again.
	s = ApplyEvent(s, wire.TurnStarted{TurnID: "t1", StartedAt: started})
	if len(s.Votes) != 1 {
		t.Fatalf("duplicate turn_started must not wipe votes: %+v", s.Votes)
	}
}

func TestApplyEvent_TurnEndedSnapshotIsAuthoritative(t *testing.T) {
	s := activeState("t1")
	s = ApplyEvent(s, wire.VoteSubmitted{TurnID: "t1", UserID: "u1", Value: 5})

	// The reveal snapshot carries a vote this replica never saw, and a
	// different value for u1 than the locally accumulated one.
	snapshot := []wire.Vote{{UserID: "u1", Value: 8}, {UserID: "u2", Value: 13}}
	s = ApplyEvent(s, wire.TurnEnded{TurnID: "t1", EndedAt: time.Now(), Votes: snapshot})

	if !s.Revealed || len(s.Votes) != 2 {
		t.Fatalf("snapshot must replace local votes: %+v", s)
	}
	if v, _ := s.VoteOf("u1"); v.Value != 8 {
		t.Fatalf("snapshot value must win, got %v", v.Value)
	}
}

func TestApplyEvent_StateSyncOverwritesWholesale(t *testing.T) {
	local := activeState("mine")
	local = ApplyEvent(local, wire.VoteSubmitted{TurnID: "mine", UserID: "u1", Value: 5})

	remoteTurn := &wire.Turn{ID: "theirs", StartedAt: time.Now()}
	sync := wire.StateSync{
		CurrentTurn: remoteTurn,
		Votes:       []wire.Vote{{UserID: "u2", Value: 3}},
		Revealed:    false,
	}

	next := ApplyEvent(local, sync)
	if next.Turn.ID != "theirs" || len(next.Votes) != 1 || next.Votes[0].UserID != "u2" {
		t.Fatalf("state_sync must overwrite wholesale: %+v", next)
	}
}

func TestApplyEvent_VoteAfterRevealIsDropped(t *testing.T) {
	ended := time.Now()
	s := State{
		Turn:     &wire.Turn{ID: "t1", EndedAt: &ended},
		Votes:    []wire.Vote{{UserID: "u1", Value: 5}},
		Revealed: true,
	}

	next := ApplyEvent(s, wire.VoteSubmitted{TurnID: "t1", UserID: "u2", Value: 8})
	if len(next.Votes) != 1 {
		t.Fatalf("late vote must not join a revealed turn: %+v", next.Votes)
	}
}
