package handler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"estatechat/internal/app/chat"
	"estatechat/internal/app/message"
	"estatechat/internal/app/storage"
	"estatechat/internal/app/user"
	"estatechat/internal/configs"
)

// AppDeps is everything the HTTP layer needs.
type AppDeps struct {
	Gateway   *chat.Gateway
	Config    *configs.AppConfig
	Messages  message.Store
	Directory user.Directory
	Avatars   storage.AvatarResolver

	// Ping checks the database for /health. Optional.
	Ping func(ctx context.Context) error

	// Gatherer is served on /metrics. Optional.
	Gatherer prometheus.Gatherer
}
