// Package room runs one tab's view of an estimation session. A Room
// is a single-goroutine actor: user actions, channel events, presence
// snapshots and status changes all funnel through one inbox, so state
// transitions never need locking. Convergence across tabs comes from
// the estimation package's idempotent event handling, not from any
// central authority.
package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/estimation"
	"github.com/lydongcanh/sprintopia/internal/presence"
	"github.com/lydongcanh/sprintopia/internal/realtime"
	"github.com/lydongcanh/sprintopia/internal/results"
	"github.com/lydongcanh/sprintopia/pkg/wire"
)

// ConnectFunc opens the realtime channel for the session, wiring the
// room's handlers into the transport. Callers wrap realtime.Attach or
// realtime.Dial.
type ConnectFunc func(realtime.Handlers) (realtime.Channel, error)

// View is the derived, UI-facing snapshot of the room.
type View struct {
	Phase        estimation.Phase
	Turn         *wire.Turn
	Votes        []wire.Vote
	Revealed     bool
	HasSubmitted bool
	CanVote      bool
	CanReveal    bool
	// VotedCount over ParticipantCount is the voting progress.
	VotedCount       int
	ParticipantCount int
	Participants     []presence.Participant
	Status           realtime.Status
	// Summary is set once the turn is revealed.
	Summary *results.Summary
}

// Options tune a room; the zero value works.
type Options struct {
	TabID              string
	Clock              clockwork.Clock
	Logger             *zap.Logger
	ConsensusThreshold float64
}

type Room struct {
	inbox     chan roomMsg
	ch        realtime.Channel
	self      estimation.UserInfo
	tabID     string
	clock     clockwork.Clock
	threshold float64
	log       *zap.Logger

	state    estimation.State
	presence map[string][]wire.PresenceRecord
	local    *wire.PresenceRecord
	status   realtime.Status
	watchers []chan View

	ctx    context.Context
	cancel context.CancelFunc
}

type roomMsg interface{ isRoomMsg() }

type actionMsg struct {
	cmd   estimation.Command
	reply chan error
}

type eventMsg struct{ evt wire.Event }

type presenceMsg struct{ state map[string][]wire.PresenceRecord }

type statusMsg struct{ status realtime.Status }

type watchMsg struct{ out chan View }

type viewMsg struct{ reply chan View }

type closeMsg struct{ done chan error }

func (actionMsg) isRoomMsg()   {}
func (eventMsg) isRoomMsg()    {}
func (presenceMsg) isRoomMsg() {}
func (statusMsg) isRoomMsg()   {}
func (watchMsg) isRoomMsg()    {}
func (viewMsg) isRoomMsg()     {}
func (closeMsg) isRoomMsg()    {}

// Join connects to the session channel and tracks presence for this
// tab. The optimistic local presence record makes the participant list
// show us before the transport's own snapshot confirms it.
func Join(parent context.Context, connect ConnectFunc, self estimation.UserInfo, opts Options) (*Room, error) {
	if opts.TabID == "" {
		opts.TabID = "tab-" + uuid.New().String()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConsensusThreshold <= 0 {
		opts.ConsensusThreshold = results.DefaultConsensusThreshold
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:     make(chan roomMsg, 64),
		self:      self,
		tabID:     opts.TabID,
		clock:     opts.Clock,
		threshold: opts.ConsensusThreshold,
		log:       opts.Logger.Named("room").With(zap.String("tab_id", opts.TabID)),
		state:     estimation.NewState(),
		presence:  map[string][]wire.PresenceRecord{},
		status:    realtime.StatusDisconnected,
		ctx:       ctx,
		cancel:    cancel,
	}

	ch, err := connect(realtime.Handlers{
		OnEvent: func(e wire.Event) {
			r.enqueue(eventMsg{evt: e})
		},
		OnPresence: func(state map[string][]wire.PresenceRecord) {
			r.enqueue(presenceMsg{state: state})
		},
		OnStatus: func(s realtime.Status) {
			r.enqueue(statusMsg{status: s})
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect channel: %w", err)
	}
	r.ch = ch

	rec := wire.PresenceRecord{
		UserID:   self.UserID,
		FullName: self.FullName,
		Email:    self.Email,
		JoinedAt: r.clock.Now(),
		TabID:    r.tabID,
	}
	r.local = &rec

	go r.loop()

	if err := ch.Track(parent, rec); err != nil {
		r.log.Warn("presence track failed", zap.Error(err))
	}
	return r, nil
}

func (r *Room) enqueue(m roomMsg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

// StartTurn begins a fresh turn, clearing all votes everywhere. The
// local state keeps the new turn even when the broadcast fails, so the
// initiator's own view never goes backwards.
func (r *Room) StartTurn(ctx context.Context) error {
	return r.act(ctx, estimation.Command{
		Type:   estimation.CmdStartTurn,
		TurnID: uuid.New().String(),
		Now:    r.clock.Now(),
	})
}

// SubmitVote plays a card for the current turn. A resubmission
// replaces the previous vote. When the broadcast fails the optimistic
// local vote is rolled back, so we never display a vote nobody else
// received.
func (r *Room) SubmitVote(ctx context.Context, value float64) error {
	return r.act(ctx, estimation.Command{
		Type:  estimation.CmdSubmitVote,
		User:  r.self,
		Value: value,
		Now:   r.clock.Now(),
	})
}

// Reveal ends the current turn and broadcasts the authoritative vote
// snapshot.
func (r *Room) Reveal(ctx context.Context) error {
	return r.act(ctx, estimation.Command{
		Type: estimation.CmdReveal,
		Now:  r.clock.Now(),
	})
}

func (r *Room) act(ctx context.Context, cmd estimation.Command) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- actionMsg{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return realtime.ErrNotConnected
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the current derived snapshot.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case r.inbox <- viewMsg{reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.ctx.Done():
		return View{}, realtime.ErrNotConnected
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Watch returns a channel of view snapshots. A stale snapshot is
// replaced rather than queued, so a slow reader only ever misses
// intermediate states, never the latest one.
func (r *Room) Watch() <-chan View {
	out := make(chan View, 1)
	r.enqueue(watchMsg{out: out})
	return out
}

// Close untracks presence best-effort and detaches from the channel.
func (r *Room) Close() error {
	done := make(chan error, 1)
	select {
	case r.inbox <- closeMsg{done: done}:
	case <-r.ctx.Done():
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-r.ctx.Done():
		return nil
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case actionMsg:
				msg.reply <- r.handleAction(msg.cmd)
				r.publishView()

			case eventMsg:
				r.state = estimation.ApplyEvent(r.state, msg.evt)
				r.publishView()

			case presenceMsg:
				r.handlePresence(msg.state)
				r.publishView()

			case statusMsg:
				r.status = msg.status
				r.publishView()

			case watchMsg:
				r.watchers = append(r.watchers, msg.out)
				msg.out <- r.view()

			case viewMsg:
				msg.reply <- r.view()

			case closeMsg:
				msg.done <- r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleAction(cmd estimation.Command) error {
	evt, next, err := estimation.Apply(r.state, cmd)
	if err != nil {
		return err
	}

	prev := r.state
	r.state = next

	if sendErr := r.ch.Send(r.ctx, evt); sendErr != nil {
		r.log.Warn("broadcast failed",
			zap.String("event", string(evt.Event())), zap.Error(sendErr))
		if cmd.Type == estimation.CmdSubmitVote {
			// Roll the optimistic vote back: others never saw it.
			// Turn starts and reveals deliberately stay applied.
			r.state = prev
		}
		return fmt.Errorf("broadcast %s: %w", evt.Event(), sendErr)
	}
	return nil
}

// handlePresence stores the transport snapshot and, when a tab other
// than ours appeared mid-turn, broadcasts a full state sync so the
// newcomer catches up instead of starting blank.
func (r *Room) handlePresence(state map[string][]wire.PresenceRecord) {
	joined := false
	known := map[string]bool{}
	for _, recs := range r.presence {
		for _, rec := range recs {
			known[rec.TabID] = true
		}
	}
	for _, recs := range state {
		for _, rec := range recs {
			if !known[rec.TabID] && rec.TabID != r.tabID {
				joined = true
			}
		}
	}

	r.presence = state

	if joined {
		if snapshot := r.state.Snapshot(); snapshot != nil {
			if err := r.ch.Send(r.ctx, snapshot); err != nil {
				r.log.Warn("state sync failed", zap.Error(err))
			}
		}
	}
}

func (r *Room) view() View {
	participants := presence.Aggregate(r.presence, r.local)
	phase := r.state.Phase()

	v := View{
		Phase:            phase,
		Turn:             r.state.Turn,
		Votes:            r.state.Votes,
		Revealed:         r.state.Revealed,
		HasSubmitted:     r.state.HasVoted(r.self.UserID),
		CanVote:          phase == estimation.PhaseVoting,
		CanReveal:        phase == estimation.PhaseVoting && len(r.state.Votes) > 0,
		VotedCount:       len(r.state.Votes),
		ParticipantCount: len(participants),
		Participants:     participants,
		Status:           r.status,
	}
	if r.state.Revealed {
		summary := results.Summarize(r.state.Votes, r.threshold)
		v.Summary = &summary
	}
	return v
}

func (r *Room) publishView() {
	v := r.view()
	for _, w := range r.watchers {
		select {
		case w <- v:
		default:
			// Replace the unread snapshot with the fresh one.
			select {
			case <-w:
			default:
			}
			select {
			case w <- v:
			default:
			}
		}
	}
}

func (r *Room) shutdown() error {
	// Untrack is best-effort: a crashed tab stays listed until the
	// transport's own expiry anyway.
	if err := r.ch.Untrack(r.ctx); err != nil {
		r.log.Debug("untrack on close", zap.Error(err))
	}
	err := r.ch.Close()
	r.cancel()
	for _, w := range r.watchers {
		close(w)
	}
	r.watchers = nil
	return err
}
