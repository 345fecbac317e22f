// Package relay implements the pub/sub side of the realtime protocol:
// one actor per channel name. Broadcast frames fan out to every
// subscriber, the sender included; presence records are keyed by
// connection and re-broadcast as a full snapshot on every change. A
// channel optionally mirrors its traffic over a Bridge so several
// server nodes can serve the same session.
package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

// Bridge carries frames between relay nodes. Publish must not echo a
// frame back to the node that published it.
type Bridge interface {
	Publish(channel string, f wire.Frame) error
	Subscribe(channel string, fn func(wire.Frame)) (unsubscribe func(), err error)
}

type Msg interface{ isChannelMsg() }

// Join registers a subscriber. The current presence snapshot is sent
// to its outbox immediately so late joiners never start blank.
type Join struct {
	ClientID string
	Outbox   chan wire.Frame
}

func (Join) isChannelMsg() {}

// Leave drops a subscriber and untracks any presence it held.
type Leave struct{ ClientID string }

func (Leave) isChannelMsg() {}

// FromClient is a frame received from a connected client.
type FromClient struct {
	ClientID string
	Frame    wire.Frame
}

func (FromClient) isChannelMsg() {}

// FromBridge is a frame mirrored from another node. It is applied
// locally but never re-published.
type FromBridge struct{ Frame wire.Frame }

func (FromBridge) isChannelMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isChannelMsg() {}

type Shutdown struct{}

func (Shutdown) isChannelMsg() {}

// View reflects channel internals without data races; used by the hub
// for idle cleanup and by tests.
type View struct {
	Name       string
	NumClients int
	Presence   map[string][]wire.PresenceRecord
}

type Channel struct {
	name        string
	inbox       chan Msg
	clients     map[string]chan wire.Frame
	presence    map[string][]wire.PresenceRecord
	bridge      Bridge
	unsubscribe func()
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewChannel starts the actor for one channel name. bridge may be nil
// for single-node deployments.
func NewChannel(parent context.Context, name string, bridge Bridge, log *zap.Logger) *Channel {
	ctx, cancel := context.WithCancel(parent)

	c := &Channel{
		name:     name,
		inbox:    make(chan Msg, 64),
		clients:  make(map[string]chan wire.Frame),
		presence: make(map[string][]wire.PresenceRecord),
		bridge:   bridge,
		log:      log.With(zap.String("channel", name)),
		ctx:      ctx,
		cancel:   cancel,
	}

	if bridge != nil {
		unsub, err := bridge.Subscribe(name, func(f wire.Frame) {
			select {
			case c.inbox <- FromBridge{Frame: f}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			c.log.Warn("bridge subscribe failed, channel runs node-local", zap.Error(err))
		} else {
			c.unsubscribe = unsub
		}
	}

	go c.loop()
	return c
}

func (c *Channel) Inbox() chan<- Msg { return c.inbox }

func (c *Channel) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Join:
				c.clients[msg.ClientID] = msg.Outbox
				if frame, err := wire.NewPresenceState(c.presence); err == nil {
					c.deliver(msg.ClientID, msg.Outbox, frame)
				}

			case Leave:
				c.drop(msg.ClientID)

			case FromClient:
				c.handleFrame(msg.ClientID, msg.Frame, true)

			case FromBridge:
				c.handleFrame(msg.Frame.Key, msg.Frame, false)

			case GetState:
				msg.Reply <- View{
					Name:       c.name,
					NumClients: len(c.clients),
					Presence:   c.presenceSnapshot(),
				}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Channel) handleFrame(key string, f wire.Frame, publish bool) {
	switch f.Type {
	case wire.FrameBroadcast:
		c.broadcast(f)
		if publish {
			c.publish(f, key)
		}

	case wire.FrameTrack:
		rec, err := wire.ParseTrack(f)
		if err != nil {
			c.log.Warn("dropping malformed track frame", zap.Error(err))
			return
		}
		// One record per connection; tracking again replaces it.
		c.presence[key] = []wire.PresenceRecord{rec}
		c.broadcastPresence()
		if publish {
			c.publish(f, key)
		}

	case wire.FrameUntrack:
		if _, ok := c.presence[key]; !ok {
			return
		}
		delete(c.presence, key)
		c.broadcastPresence()
		if publish {
			c.publish(f, key)
		}

	default:
		c.log.Debug("ignoring frame", zap.String("type", string(f.Type)))
	}
}

// publish mirrors a locally received frame to other nodes, keyed so
// their presence maps never collide with local connections.
func (c *Channel) publish(f wire.Frame, key string) {
	if c.bridge == nil {
		return
	}
	f.Key = key
	if err := c.bridge.Publish(c.name, f); err != nil {
		c.log.Warn("bridge publish failed", zap.Error(err))
	}
}

func (c *Channel) broadcastPresence() {
	frame, err := wire.NewPresenceState(c.presence)
	if err != nil {
		c.log.Error("marshal presence state", zap.Error(err))
		return
	}
	c.broadcast(frame)
}

func (c *Channel) broadcast(f wire.Frame) {
	for id, ch := range c.clients {
		c.deliver(id, ch, f)
	}
}

// deliver never blocks the actor: a subscriber with a full outbox is
// dropped the way the websocket layer would drop a dead peer.
func (c *Channel) deliver(id string, ch chan wire.Frame, f wire.Frame) {
	select {
	case ch <- f:
	default:
		c.log.Warn("dropping slow client", zap.String("client_id", id))
		c.drop(id)
	}
}

func (c *Channel) drop(id string) {
	ch, ok := c.clients[id]
	if !ok {
		return
	}
	close(ch)
	delete(c.clients, id)
	if _, tracked := c.presence[id]; tracked {
		delete(c.presence, id)
		c.broadcastPresence()
		c.publish(wire.Frame{Type: wire.FrameUntrack}, id)
	}
}

func (c *Channel) presenceSnapshot() map[string][]wire.PresenceRecord {
	snap := make(map[string][]wire.PresenceRecord, len(c.presence))
	for k, v := range c.presence {
		snap[k] = append([]wire.PresenceRecord(nil), v...)
	}
	return snap
}

func (c *Channel) shutdown() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	for id, ch := range c.clients {
		close(ch)
		delete(c.clients, id)
	}
	c.cancel()
}
