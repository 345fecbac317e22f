// Package ws bridges websocket connections onto relay channels. Each
// connection becomes one relay client: frames it sends go to the
// channel inbox, frames the channel fans out are written back.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/hub"
	"github.com/lydongcanh/sprintopia/internal/relay"
	"github.com/lydongcanh/sprintopia/pkg/wire"
)

const writeTimeout = 3 * time.Second

// ChannelPrefix guards the endpoint against arbitrary channel names;
// sessions publish their channel as grooming-session:<id>.
const ChannelPrefix = "grooming-session:"

// Handler upgrades GET /realtime?channel=grooming-session:<id> and
// joins the connection to that relay channel, creating it on first
// use.
func Handler(h *hub.Hub, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if !strings.HasPrefix(channel, ChannelPrefix) {
			http.Error(w, "missing or invalid channel", http.StatusBadRequest)
			return
		}

		ch := h.Ensure(channel)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Warn("accept failed", zap.String("channel", channel), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.New().String()
		out := make(chan wire.Frame, 64)

		ch.Inbox() <- relay.Join{ClientID: clientID, Outbox: out}
		defer func() { ch.Inbox() <- relay.Leave{ClientID: clientID} }()

		log.Info("client joined",
			zap.String("channel", channel), zap.String("client_id", clientID))

		// Writer goroutine: the relay closes out when it drops us, which
		// ends this loop and, via the deferred Close, the reader too.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				payload, err := json.Marshal(frame)
				if err != nil {
					log.Warn("marshal frame", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				werr := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if werr != nil {
					return
				}
			}
			conn.Close(websocket.StatusGoingAway, "dropped")
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client left",
						zap.String("channel", channel), zap.String("client_id", clientID))
				default:
					log.Debug("read ended",
						zap.String("client_id", clientID), zap.Error(err))
				}
				return
			}

			var frame wire.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"error","error":"bad json"}`))
				continue
			}

			ch.Inbox() <- relay.FromClient{ClientID: clientID, Frame: frame}
		}
	}
}
