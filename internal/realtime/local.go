package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/relay"
	"github.com/lydongcanh/sprintopia/pkg/wire"
)

// localChannel speaks to an in-process relay channel, skipping the
// websocket hop. Tests and single-binary deployments use it; the wire
// semantics are identical to the dialed version.
type localChannel struct {
	clientID string
	inbox    chan<- relay.Msg
	outbox   chan wire.Frame
	handlers Handlers
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Attach joins a relay channel and starts delivering its frames to the
// handlers. The returned channel reports connected immediately: there
// is no transport to wait for.
func Attach(ch *relay.Channel, handlers Handlers, log *zap.Logger) Channel {
	c := &localChannel{
		clientID: uuid.New().String(),
		inbox:    ch.Inbox(),
		outbox:   make(chan wire.Frame, 64),
		handlers: handlers,
		log:      log.Named("realtime"),
	}

	notifyStatus(handlers, StatusConnecting)
	c.inbox <- relay.Join{ClientID: c.clientID, Outbox: c.outbox}
	notifyStatus(handlers, StatusConnected)

	go c.readLoop()
	return c
}

func (c *localChannel) readLoop() {
	for f := range c.outbox {
		dispatch(f, c.handlers, c.log)
	}
	// Relay closed the outbox: dropped as slow, or channel shut down.
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		notifyStatus(c.handlers, StatusDisconnected)
	}
}

func (c *localChannel) Send(ctx context.Context, e wire.Event) error {
	frame, err := wire.NewBroadcast(e)
	if err != nil {
		return err
	}
	return c.submit(ctx, frame)
}

func (c *localChannel) Track(ctx context.Context, rec wire.PresenceRecord) error {
	frame, err := wire.NewTrack(rec)
	if err != nil {
		return err
	}
	return c.submit(ctx, frame)
}

func (c *localChannel) Untrack(ctx context.Context) error {
	return c.submit(ctx, wire.Frame{Type: wire.FrameUntrack})
}

func (c *localChannel) submit(ctx context.Context, f wire.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	select {
	case c.inbox <- relay.FromClient{ClientID: c.clientID, Frame: f}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Leaving untracks presence best-effort and closes the outbox.
	c.inbox <- relay.Leave{ClientID: c.clientID}
	notifyStatus(c.handlers, StatusDisconnected)
	return nil
}
