// Package realtime is the client side of the pub/sub protocol: a
// Channel sends broadcast events and presence updates, and delivers
// incoming messages, presence snapshots and connection status changes
// through callbacks. Two implementations exist, an in-process one
// speaking directly to a relay channel and a websocket one dialing a
// server.
package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

var ErrNotConnected = errors.New("channel not connected")

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Handlers receive channel callbacks. Nil members are skipped. All
// callbacks for one channel run on a single goroutine, in delivery
// order.
type Handlers struct {
	OnEvent    func(wire.Event)
	OnPresence func(map[string][]wire.PresenceRecord)
	OnStatus   func(Status)
}

// Channel is a connected realtime channel. Send broadcasts to every
// subscriber, the sender included. Track and Untrack manage this
// connection's presence record.
type Channel interface {
	Send(ctx context.Context, e wire.Event) error
	Track(ctx context.Context, rec wire.PresenceRecord) error
	Untrack(ctx context.Context) error
	Close() error
}

// dispatch routes one incoming frame to the handlers. Malformed frames
// are logged and skipped; the transport does not validate shape, so
// this is the validation boundary.
func dispatch(f wire.Frame, h Handlers, log *zap.Logger) {
	switch f.Type {
	case wire.FrameBroadcast:
		evt, err := wire.ParseEvent(f)
		if err != nil {
			log.Warn("dropping malformed broadcast", zap.String("event", string(f.Event)), zap.Error(err))
			return
		}
		if h.OnEvent != nil {
			h.OnEvent(evt)
		}

	case wire.FramePresenceState:
		state, err := wire.ParsePresenceState(f)
		if err != nil {
			log.Warn("dropping malformed presence state", zap.Error(err))
			return
		}
		if h.OnPresence != nil {
			h.OnPresence(state)
		}

	default:
		log.Debug("ignoring frame", zap.String("type", string(f.Type)))
	}
}

func notifyStatus(h Handlers, s Status) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}
