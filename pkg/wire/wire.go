// Package wire defines the broadcast contract spoken over a realtime
// channel: the frame envelope plus the payload of every estimation
// event. Payload types are shared between the client-side room and the
// relay so both ends agree on field names.
package wire

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrUnknownEvent = errors.New("unknown broadcast event")

// Vote is one user's estimation for a turn. A later vote from the same
// user replaces the earlier one.
type Vote struct {
	UserID      string    `json:"user_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Value       float64   `json:"value"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Turn is one estimation round. EndedAt is set once the turn is
// revealed; a new turn supersedes the old one rather than mutating it.
type Turn struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// PresenceRecord is one tab's presence entry. TabID only disambiguates
// multiple tabs for the same user.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joined_at"`
	TabID    string    `json:"tab_id"`
}

type EventType string

const (
	EventTurnStarted   EventType = "turn_started"
	EventVoteSubmitted EventType = "vote_submitted"
	EventTurnEnded     EventType = "turn_ended"
	EventStateSync     EventType = "state_sync"
)

// Event is any broadcast payload that feeds the estimation state
// machine.
type Event interface {
	Event() EventType
}

type TurnStarted struct {
	TurnID    string    `json:"turn_id"`
	StartedAt time.Time `json:"started_at"`
}

func (TurnStarted) Event() EventType { return EventTurnStarted }

type VoteSubmitted struct {
	TurnID      string    `json:"turn_id"`
	UserID      string    `json:"user_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Value       float64   `json:"value"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (VoteSubmitted) Event() EventType { return EventVoteSubmitted }

// Vote returns the payload as a Vote record.
func (e VoteSubmitted) Vote() Vote {
	return Vote{
		UserID:      e.UserID,
		FullName:    e.FullName,
		Email:       e.Email,
		Value:       e.Value,
		SubmittedAt: e.SubmittedAt,
	}
}

type TurnEnded struct {
	TurnID  string    `json:"turn_id"`
	EndedAt time.Time `json:"ended_at"`
	Votes   []Vote    `json:"votes"`
}

func (TurnEnded) Event() EventType { return EventTurnEnded }

type StateSync struct {
	CurrentTurn *Turn  `json:"current_turn"`
	Votes       []Vote `json:"votes"`
	Revealed    bool   `json:"revealed"`
}

func (StateSync) Event() EventType { return EventStateSync }

type FrameType string

const (
	FrameBroadcast     FrameType = "broadcast"
	FramePresenceState FrameType = "presence_state"
	FrameTrack         FrameType = "track"
	FrameUntrack       FrameType = "untrack"
)

// Frame is the envelope carried over the transport. Event is set for
// broadcast frames only. Key names the presence entry a track/untrack
// frame belongs to when relays forward presence between nodes; frames
// sent by clients leave it empty and the serving relay keys them by
// connection.
type Frame struct {
	Type    FrameType       `json:"type"`
	Event   EventType       `json:"event,omitempty"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresenceState maps transport-assigned presence keys to the records
// tracked under them.
type PresenceState struct {
	State map[string][]PresenceRecord `json:"state"`
}

// NewBroadcast wraps an event in a broadcast frame.
func NewBroadcast(e Event) (Frame, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameBroadcast, Event: e.Event(), Payload: payload}, nil
}

// NewTrack wraps a presence record in a track frame.
func NewTrack(rec PresenceRecord) (Frame, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTrack, Payload: payload}, nil
}

// NewPresenceState wraps a presence snapshot in a presence_state frame.
func NewPresenceState(state map[string][]PresenceRecord) (Frame, error) {
	payload, err := json.Marshal(PresenceState{State: state})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FramePresenceState, Payload: payload}, nil
}

// ParseEvent decodes a broadcast frame's payload into its typed event.
// The transport does not validate payload shape, so missing fields
// default rather than fail: a turn_ended or state_sync without votes
// decodes with an empty vote list.
func ParseEvent(f Frame) (Event, error) {
	switch f.Event {
	case EventTurnStarted:
		var e TurnStarted
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventVoteSubmitted:
		var e VoteSubmitted
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventTurnEnded:
		var e TurnEnded
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, err
		}
		if e.Votes == nil {
			e.Votes = []Vote{}
		}
		return e, nil

	case EventStateSync:
		var e StateSync
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, err
		}
		if e.Votes == nil {
			e.Votes = []Vote{}
		}
		return e, nil

	default:
		return nil, ErrUnknownEvent
	}
}

// ParsePresenceState decodes a presence_state frame. A missing or null
// state map decodes as empty.
func ParsePresenceState(f Frame) (map[string][]PresenceRecord, error) {
	var ps PresenceState
	if err := json.Unmarshal(f.Payload, &ps); err != nil {
		return nil, err
	}
	if ps.State == nil {
		ps.State = map[string][]PresenceRecord{}
	}
	return ps.State, nil
}

// ParseTrack decodes a track frame's presence record.
func ParseTrack(f Frame) (PresenceRecord, error) {
	var rec PresenceRecord
	if err := json.Unmarshal(f.Payload, &rec); err != nil {
		return PresenceRecord{}, err
	}
	return rec, nil
}
