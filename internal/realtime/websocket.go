package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

const writeTimeout = 3 * time.Second

// wsChannel dials the server's realtime endpoint. Frames are JSON text
// messages, one per websocket message.
type wsChannel struct {
	conn     *websocket.Conn
	handlers Handlers
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Dial connects to a realtime endpoint, e.g.
// ws://host/realtime?channel=grooming-session:<id>.
func Dial(ctx context.Context, url string, handlers Handlers, log *zap.Logger) (Channel, error) {
	notifyStatus(handlers, StatusConnecting)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		notifyStatus(handlers, StatusDisconnected)
		return nil, err
	}

	lifecycle, cancel := context.WithCancel(context.Background())
	c := &wsChannel{
		conn:     conn,
		handlers: handlers,
		log:      log.Named("realtime"),
		ctx:      lifecycle,
		cancel:   cancel,
	}

	notifyStatus(handlers, StatusConnected)
	go c.readLoop()
	return c, nil
}

func (c *wsChannel) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.markDisconnected()
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		dispatch(frame, c.handlers, c.log)
	}
}

func (c *wsChannel) Send(ctx context.Context, e wire.Event) error {
	frame, err := wire.NewBroadcast(e)
	if err != nil {
		return err
	}
	return c.write(ctx, frame)
}

func (c *wsChannel) Track(ctx context.Context, rec wire.PresenceRecord) error {
	frame, err := wire.NewTrack(rec)
	if err != nil {
		return err
	}
	return c.write(ctx, frame)
}

func (c *wsChannel) Untrack(ctx context.Context) error {
	return c.write(ctx, wire.Frame{Type: wire.FrameUntrack})
}

func (c *wsChannel) write(ctx context.Context, f wire.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return err
	}
	return nil
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	notifyStatus(c.handlers, StatusDisconnected)
	return err
}

func (c *wsChannel) markDisconnected() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		notifyStatus(c.handlers, StatusDisconnected)
	}
}
