// Package hub owns the set of live relay channels, one per
// real_time_channel_name. Like the channels themselves it is a single
// goroutine fed by a typed inbox, so no locking is needed.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/relay"
)

type HubMsg interface{ isHubMsg() }

// EnsureChannel returns the channel for Name, creating it on first
// use. Browser tabs join channels lazily, so there is no separate
// create step.
type EnsureChannel struct {
	Name  string
	Reply chan *relay.Channel
}

type GetChannel struct {
	Name  string
	Reply chan *relay.Channel
}

type RemoveChannel struct {
	Name string
}

type ShutdownHub struct{}

func (EnsureChannel) isHubMsg() {}
func (GetChannel) isHubMsg()    {}
func (RemoveChannel) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	channels map[string]*relay.Channel
	bridge   relay.Bridge
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewHub starts the hub actor. bridge may be nil; when set, every
// channel created here mirrors its traffic across nodes.
func NewHub(parent context.Context, bridge relay.Bridge, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		channels: make(map[string]*relay.Channel),
		bridge:   bridge,
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is a convenience wrapper around EnsureChannel for callers
// outside the actor world.
func (h *Hub) Ensure(name string) *relay.Channel {
	reply := make(chan *relay.Channel, 1)
	h.inbox <- EnsureChannel{Name: name, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureChannel:
				if ch := h.channels[msg.Name]; ch != nil {
					msg.Reply <- ch
					break
				}
				ch := relay.NewChannel(h.ctx, msg.Name, h.bridge, h.log)
				h.channels[msg.Name] = ch
				h.log.Info("channel created", zap.String("channel", msg.Name))
				msg.Reply <- ch

			case GetChannel:
				msg.Reply <- h.channels[msg.Name] // may be nil

			case RemoveChannel:
				if ch := h.channels[msg.Name]; ch != nil {
					ch.Inbox() <- relay.Shutdown{}
					delete(h.channels, msg.Name)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for name, ch := range h.channels {
		ch.Inbox() <- relay.Shutdown{}
		delete(h.channels, name)
	}
	h.cancel()
}
