// Package natsbridge mirrors relay traffic across server nodes over
// core NATS, so every node serving the same session channel sees the
// same frames. Single-node deployments simply run without it.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/pkg/wire"
)

const subjectPrefix = "sprintopia.realtime."

// envelope tags every published frame with its origin node so a
// subscriber can drop its own echoes.
type envelope struct {
	Node  string     `json:"node"`
	Frame wire.Frame `json:"frame"`
}

type Bridge struct {
	nc     *nats.Conn
	nodeID string
	log    *zap.Logger
}

// Connect opens a NATS connection that reconnects indefinitely.
func Connect(url string, log *zap.Logger) (*Bridge, error) {
	log = log.Named("natsbridge")

	nc, err := nats.Connect(url,
		nats.Name("sprintopia-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Error("nats subscription error", zap.String("subject", sub.Subject), zap.Error(err))
				return
			}
			log.Error("nats error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}

	b := &Bridge{
		nc:     nc,
		nodeID: uuid.New().String(),
		log:    log,
	}
	log.Info("bridge connected", zap.String("node_id", b.nodeID), zap.String("url", nc.ConnectedUrl()))
	return b, nil
}

func subjectFor(channel string) string {
	return subjectPrefix + channel
}

func (b *Bridge) Publish(channel string, f wire.Frame) error {
	data, err := json.Marshal(envelope{Node: b.nodeID, Frame: f})
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectFor(channel), data)
}

// Subscribe delivers frames published by other nodes on the channel.
// Frames this node published are filtered out by origin tag.
func (b *Bridge) Subscribe(channel string, fn func(wire.Frame)) (func(), error) {
	sub, err := b.nc.Subscribe(subjectFor(channel), func(m *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.log.Warn("dropping undecodable bridge frame",
				zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		if env.Node == b.nodeID {
			return
		}
		fn(env.Frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subjectFor(channel), err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn("unsubscribe failed", zap.String("channel", channel), zap.Error(err))
		}
	}, nil
}

// Close flushes pending publishes and drops the connection.
func (b *Bridge) Close() error {
	return b.nc.Drain()
}
