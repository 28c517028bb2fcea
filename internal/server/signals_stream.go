package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const streamWriteWait = 10 * time.Second

// handleSignalStream pushes every emitted signal to the client over a
// websocket. The feed is write-only; reads are drained for control
// frames.
func (s *Server) handleSignalStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}

	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	s.log.Info().Int("subscribers", s.hub.SubscriberCount()).Msg("Signal stream client connected")
	defer s.log.Info().Msg("Signal stream client disconnected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case sig, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}

			data, err := json.Marshal(sig)
			if err != nil {
				s.log.Error().Err(err).Str("uid", sig.UID).Msg("Failed to encode signal for stream")
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Signal stream write failed")
				return
			}
		}
	}
}
