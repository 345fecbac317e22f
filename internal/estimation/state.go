// Package estimation owns the turn lifecycle for a planning-poker
// session: which turn is current, who has voted, and whether results
// are revealed. Local actions go through Apply, which returns the
// event to broadcast; events coming off the channel (our own echoes
// included) go through ApplyEvent, which is idempotent so replicated
// state converges regardless of delivery order or duplication.
package estimation

import (
	"errors"
	"time"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

var ErrNoActiveTurn = errors.New("no active turn")
var ErrTurnRevealed = errors.New("turn already revealed")
var ErrUnknownCard = errors.New("value is not in the card deck")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseVoting   Phase = "voting"
	PhaseRevealed Phase = "revealed"
)

// UserInfo identifies the acting participant.
type UserInfo struct {
	UserID   string
	FullName string
	Email    string
}

// State is one tab's replica of the session estimation state. It is
// ephemeral: reconstructed from broadcast events, never persisted.
type State struct {
	Turn     *wire.Turn
	Votes    []wire.Vote
	Revealed bool
}

func NewState() State {
	return State{Votes: []wire.Vote{}}
}

func (s State) Phase() Phase {
	switch {
	case s.Turn == nil:
		return PhaseIdle
	case s.Revealed:
		return PhaseRevealed
	default:
		return PhaseVoting
	}
}

// HasVoted reports whether userID has a vote in the current turn.
func (s State) HasVoted(userID string) bool {
	_, ok := s.VoteOf(userID)
	return ok
}

// VoteOf returns userID's vote in the current turn.
func (s State) VoteOf(userID string) (wire.Vote, bool) {
	for _, v := range s.Votes {
		if v.UserID == userID {
			return v, true
		}
	}
	return wire.Vote{}, false
}

type CommandType string

const (
	CmdStartTurn  CommandType = "StartTurn"
	CmdSubmitVote CommandType = "SubmitVote"
	CmdReveal     CommandType = "Reveal"
)

// Command is a local user action. TurnID is only read by StartTurn
// (the id for the new turn); User and Value only by SubmitVote.
type Command struct {
	Type   CommandType
	TurnID string
	User   UserInfo
	Value  float64
	Now    time.Time
}

// Apply runs a local action against the current state. On success it
// returns the event to broadcast and the optimistically updated state.
// The caller decides what to do when the broadcast fails: a failed
// vote is rolled back by keeping the prior state, a failed turn start
// or reveal keeps the new state and only reports the error.
func Apply(s State, cmd Command) (wire.Event, State, error) {
	switch cmd.Type {
	case CmdStartTurn:
		// Allowed from any phase. Clears votes, hides results.
		turn := &wire.Turn{ID: cmd.TurnID, StartedAt: cmd.Now}
		next := State{Turn: turn, Votes: []wire.Vote{}}
		return wire.TurnStarted{TurnID: turn.ID, StartedAt: turn.StartedAt}, next, nil

	case CmdSubmitVote:
		if s.Turn == nil {
			return nil, s, ErrNoActiveTurn
		}
		if s.Revealed {
			return nil, s, ErrTurnRevealed
		}
		if !ValidCard(cmd.Value) {
			return nil, s, ErrUnknownCard
		}
		vote := wire.Vote{
			UserID:      cmd.User.UserID,
			FullName:    cmd.User.FullName,
			Email:       cmd.User.Email,
			Value:       cmd.Value,
			SubmittedAt: cmd.Now,
		}
		evt := wire.VoteSubmitted{
			TurnID:      s.Turn.ID,
			UserID:      vote.UserID,
			FullName:    vote.FullName,
			Email:       vote.Email,
			Value:       vote.Value,
			SubmittedAt: vote.SubmittedAt,
		}
		return evt, s.withVote(vote), nil

	case CmdReveal:
		if s.Turn == nil {
			return nil, s, ErrNoActiveTurn
		}
		if s.Revealed {
			return nil, s, ErrTurnRevealed
		}
		// Zero votes is allowed here; it is just the empty-results
		// case. The UI discourages it through the CanReveal flag.
		ended := cmd.Now
		turn := *s.Turn
		turn.EndedAt = &ended
		next := State{Turn: &turn, Votes: s.Votes, Revealed: true}
		evt := wire.TurnEnded{TurnID: turn.ID, EndedAt: ended, Votes: s.Votes}
		return evt, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// ApplyEvent folds a broadcast event into the state. Every transition
// is idempotent and events referencing a turn id other than the
// current one are dropped as expected protocol noise, never errors.
func ApplyEvent(s State, e wire.Event) State {
	switch evt := e.(type) {
	case wire.TurnStarted:
		if s.Turn != nil && s.Turn.ID == evt.TurnID {
			// Duplicate delivery; reapplying would wipe votes.
			return s
		}
		return State{
			Turn:  &wire.Turn{ID: evt.TurnID, StartedAt: evt.StartedAt},
			Votes: []wire.Vote{},
		}

	case wire.VoteSubmitted:
		if s.Turn == nil || s.Turn.ID != evt.TurnID || s.Revealed {
			return s
		}
		return s.withVote(evt.Vote())

	case wire.TurnEnded:
		if s.Turn == nil || s.Turn.ID != evt.TurnID {
			return s
		}
		ended := evt.EndedAt
		turn := *s.Turn
		turn.EndedAt = &ended
		votes := evt.Votes
		if votes == nil {
			votes = []wire.Vote{}
		}
		// The snapshot in the event is authoritative: it resolves any
		// divergence left by dropped or delayed vote broadcasts.
		return State{Turn: &turn, Votes: votes, Revealed: true}

	case wire.StateSync:
		votes := evt.Votes
		if votes == nil {
			votes = []wire.Vote{}
		}
		// Wholesale overwrite, last snapshot wins.
		return State{Turn: evt.CurrentTurn, Votes: votes, Revealed: evt.Revealed}

	default:
		return s
	}
}

// Snapshot returns the full-state sync event for catching up a tab
// that joined mid-turn, or nil when there is nothing to sync.
func (s State) Snapshot() wire.Event {
	if s.Turn == nil {
		return nil
	}
	return wire.StateSync{CurrentTurn: s.Turn, Votes: s.Votes, Revealed: s.Revealed}
}

// withVote replaces the user's existing vote in place or appends a new
// one, keeping relative submission order for everyone else.
func (s State) withVote(vote wire.Vote) State {
	votes := make([]wire.Vote, 0, len(s.Votes)+1)
	replaced := false
	for _, v := range s.Votes {
		if v.UserID == vote.UserID {
			votes = append(votes, vote)
			replaced = true
			continue
		}
		votes = append(votes, v)
	}
	if !replaced {
		votes = append(votes, vote)
	}
	next := s
	next.Votes = votes
	return next
}
