/*
Package handler provides the HTTP surface of the messaging gateway.

This file contains HandleWebSocket: it rate-limits the handshake, authenticates
the bearer token before upgrading, then hands the connection to the gateway for
the rest of its life.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"estatechat/internal/app/chat"
	"estatechat/internal/pkg/auth/jwt"
	"estatechat/internal/pkg/errs"
	"estatechat/internal/pkg/limiter"
	"estatechat/internal/pkg/logx"
	"estatechat/internal/pkg/resp"
)

// HandleWebSocket serves GET /ws.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r.RemoteAddr) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(r.RemoteAddr))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		if deps.Gateway.Closed() {
			resp.RespondError(w, r, errs.NewError(errs.ErrServiceUnavailable))
			return
		}

		// A malformed header is treated like a missing one; the verifier rejects both.
		token, _ := jwt.TokenFromRequest(r)

		identity, err := deps.Gateway.Authenticate(r.Context(), token)
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "user_id", identity.ID)
			return
		}

		client := chat.NewClient(conn, identity)

		logx.Info("WebSocket connection established", "user_id", identity.ID, "conn_id", client.ID())

		if err := deps.Gateway.Serve(client); err != nil {
			logx.Info("WebSocket connection closed during shutdown", "user_id", identity.ID)
		}
	}
}
