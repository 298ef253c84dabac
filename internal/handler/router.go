/*
Package handler provides the HTTP surface of the messaging gateway.

This file defines Router, which applies CORS, request ids, request logging and
panic recovery, then mounts the health and metrics endpoints, the
authenticated REST history projection and the websocket handshake.
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"estatechat/internal/pkg/auth/jwt"
	"estatechat/internal/pkg/errs"
	"estatechat/internal/pkg/limiter"
	"estatechat/internal/pkg/logx"
	"estatechat/internal/pkg/resp"
)

const healthTimeout = 2 * time.Second

// Router builds the routing table. ctx bounds background work such as the
// rate limiter's cleanup loop.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.HandshakeRate), deps.Config.HandshakeBurst)
	apiLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.APIRate), deps.Config.APIBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(apiLimiter.Middleware)
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/messages", func(messages chi.Router) {
			messages.Get("/conversations", HandleListConversations(deps))
			messages.Get("/{userId}", HandleGetConversation(deps))
		})
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, handshakeLimiter, deps))

	return r
}

// HandleHealth reports whether the server can reach its database and still accepts connections.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Gateway != nil && deps.Gateway.Closed() {
			resp.RespondError(w, r, errs.NewError(errs.ErrServiceUnavailable))
			return
		}

		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			if err := deps.Ping(ctx); err != nil {
				logx.Error(err, "Health check failed: database unreachable")
				resp.RespondError(w, r, errs.NewError(errs.ErrServiceUnavailable))
				return
			}
		}

		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "estatechat",
		})
	}
}
