package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/estimation"
	"github.com/lydongcanh/sprintopia/internal/realtime"
	"github.com/lydongcanh/sprintopia/internal/relay"
	"github.com/lydongcanh/sprintopia/pkg/wire"
)

var (
	alice = estimation.UserInfo{UserID: "u-alice", FullName: "Alice", Email: "alice@example.com"}
	bob   = estimation.UserInfo{UserID: "u-bob", FullName: "Bob", Email: "bob@example.com"}
	carol = estimation.UserInfo{UserID: "u-carol", FullName: "Carol", Email: "carol@example.com"}
)

func attachTo(ch *relay.Channel) ConnectFunc {
	return func(h realtime.Handlers) (realtime.Channel, error) {
		return realtime.Attach(ch, h, zap.NewNop()), nil
	}
}

func joinRoom(t *testing.T, ctx context.Context, ch *relay.Channel, self estimation.UserInfo, tabID string) *Room {
	t.Helper()
	r, err := Join(ctx, attachTo(ch), self, Options{TabID: tabID})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// waitView polls until the condition holds or the deadline expires.
func waitView(t *testing.T, r *Room, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		v, err := r.View(ctx)
		cancel()
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last view: phase=%s votes=%d revealed=%v participants=%d",
				what, v.Phase, v.VotedCount, v.Revealed, v.ParticipantCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoom_StartTurnReachesOtherTabWithEmptyVotes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t1", nil, zap.NewNop())
	x := joinRoom(t, ctx, ch, alice, "tab-x")
	y := joinRoom(t, ctx, ch, bob, "tab-y")

	waitView(t, x, "both participants", func(v View) bool { return v.ParticipantCount == 2 })

	if err := x.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}

	v := waitView(t, y, "voting phase", func(v View) bool { return v.Phase == estimation.PhaseVoting })
	if v.VotedCount != 0 {
		t.Fatalf("expected empty votes on fresh turn, got %d", v.VotedCount)
	}
	if v.Turn == nil || v.Turn.ID == "" {
		t.Fatalf("expected a turn id")
	}
	if !v.CanVote || v.CanReveal {
		t.Fatalf("expected CanVote without CanReveal, got vote=%v reveal=%v", v.CanVote, v.CanReveal)
	}
}

func TestRoom_VotesConvergeAcrossTabs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t2", nil, zap.NewNop())
	x := joinRoom(t, ctx, ch, alice, "tab-x")
	y := joinRoom(t, ctx, ch, bob, "tab-y")

	if err := x.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	waitView(t, y, "voting phase", func(v View) bool { return v.Phase == estimation.PhaseVoting })

	if err := x.SubmitVote(ctx, 5); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := y.SubmitVote(ctx, 8); err != nil {
		t.Fatalf("bob vote: %v", err)
	}

	for _, r := range []*Room{x, y} {
		v := waitView(t, r, "two votes", func(v View) bool { return v.VotedCount == 2 })
		if !v.HasSubmitted {
			t.Fatalf("expected HasSubmitted after voting")
		}
		if v.Summary != nil {
			t.Fatalf("summary must stay hidden until reveal")
		}
	}

	// Resubmission replaces, never duplicates.
	if err := x.SubmitVote(ctx, 13); err != nil {
		t.Fatalf("alice revote: %v", err)
	}
	v := waitView(t, y, "replaced vote", func(v View) bool {
		for _, vote := range v.Votes {
			if vote.UserID == alice.UserID && vote.Value == 13 {
				return true
			}
		}
		return false
	})
	if v.VotedCount != 2 {
		t.Fatalf("expected 2 votes after revote, got %d", v.VotedCount)
	}
}

func TestRoom_RevealDeliversSummaryEverywhere(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t3", nil, zap.NewNop())
	x := joinRoom(t, ctx, ch, alice, "tab-x")
	y := joinRoom(t, ctx, ch, bob, "tab-y")

	if err := x.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	waitView(t, y, "voting phase", func(v View) bool { return v.Phase == estimation.PhaseVoting })

	if err := x.SubmitVote(ctx, 5); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := y.SubmitVote(ctx, 5); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	waitView(t, x, "two votes", func(v View) bool { return v.VotedCount == 2 })

	if err := x.Reveal(ctx); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	for _, r := range []*Room{x, y} {
		v := waitView(t, r, "revealed", func(v View) bool { return v.Phase == estimation.PhaseRevealed })
		if v.Summary == nil {
			t.Fatalf("expected a summary after reveal")
		}
		if !v.Summary.Stats.HasConsensus {
			t.Fatalf("identical votes should reach consensus")
		}
		if v.CanVote {
			t.Fatalf("voting must close on reveal")
		}
	}
}

func TestRoom_LateJoinerReceivesStateSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t4", nil, zap.NewNop())
	x := joinRoom(t, ctx, ch, alice, "tab-x")

	if err := x.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if err := x.SubmitVote(ctx, 3); err != nil {
		t.Fatalf("vote: %v", err)
	}

	z := joinRoom(t, ctx, ch, carol, "tab-z")

	v := waitView(t, z, "synced state", func(v View) bool {
		return v.Phase == estimation.PhaseVoting && v.VotedCount == 1
	})
	if v.Votes[0].UserID != alice.UserID {
		t.Fatalf("expected alice's vote in the sync, got %s", v.Votes[0].UserID)
	}
}

func TestRoom_WatchDeliversLatestView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t5", nil, zap.NewNop())
	x := joinRoom(t, ctx, ch, alice, "tab-x")

	updates := x.Watch()
	select {
	case v := <-updates:
		if v.Phase != estimation.PhaseIdle {
			t.Fatalf("expected idle initial view, got %s", v.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial view")
	}

	if err := x.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-updates:
			if v.Phase == estimation.PhaseVoting {
				return
			}
		case <-deadline:
			t.Fatalf("watch never saw the voting phase")
		}
	}
}

// failingChannel drops every broadcast with an error while keeping the
// channel nominally open.
type failingChannel struct{ sendErr error }

func (f *failingChannel) Send(context.Context, wire.Event) error           { return f.sendErr }
func (f *failingChannel) Track(context.Context, wire.PresenceRecord) error { return nil }
func (f *failingChannel) Untrack(context.Context) error                    { return nil }
func (f *failingChannel) Close() error                                     { return nil }

func TestRoom_SendFailureRollsBackVoteButKeepsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sendErr := errors.New("wire down")
	connect := func(realtime.Handlers) (realtime.Channel, error) {
		return &failingChannel{sendErr: sendErr}, nil
	}
	r, err := Join(ctx, connect, alice, Options{TabID: "tab-x"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer r.Close()

	// The turn start fails to broadcast but stays applied locally.
	if err := r.StartTurn(ctx); !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	v, err := r.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Phase != estimation.PhaseVoting {
		t.Fatalf("turn must survive a failed broadcast, got phase %s", v.Phase)
	}

	// The vote rolls back: nobody else ever saw it.
	if err := r.SubmitVote(ctx, 5); !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	v, err = r.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.HasSubmitted || v.VotedCount != 0 {
		t.Fatalf("expected vote rollback, got submitted=%v count=%d", v.HasSubmitted, v.VotedCount)
	}
}

func TestRoom_ActionErrorsSurfaceSentinels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := relay.NewChannel(ctx, "grooming-session:t6", nil, zap.NewNop())
	r := joinRoom(t, ctx, ch, alice, "tab-x")

	if err := r.SubmitVote(ctx, 5); !errors.Is(err, estimation.ErrNoActiveTurn) {
		t.Fatalf("expected ErrNoActiveTurn, got %v", err)
	}
	if err := r.StartTurn(ctx); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if err := r.SubmitVote(ctx, 4); !errors.Is(err, estimation.ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard, got %v", err)
	}
}
