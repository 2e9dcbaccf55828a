package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SANCHES-Pedro/bq-back/internal/service/bridge"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true // browser clients connect from any origin
	},
}

// wsHandler upgrades GET /ws?session_id=<id> and runs one bridge session on
// the connection until it is finalized.
func wsHandler(svc *bridge.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")
		if id != "" && !bridge.ValidSessionID(id) {
			http.Error(w, "invalid session_id", http.StatusBadRequest)
			return
		}
		if !svc.Accepting() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}

		if id == "" {
			id = svc.NewSessionID()
		}
		logger := log.With().Str("sessionId", id).Str("remote", r.RemoteAddr).Logger()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		logger.Info().Msg("WebSocket connection accepted")

		// The session outlives the request context: it still has to drain and
		// finalize after the client goes away.
		err = svc.Serve(context.WithoutCancel(r.Context()), conn, id)
		switch {
		case err == nil:
		case errors.Is(err, bridge.ErrPersistence):
			logger.Error().Err(err).Msg("Session ended with persistence errors")
		default:
			logger.Warn().Err(err).Msg("Session rejected")
		}
	}
}
