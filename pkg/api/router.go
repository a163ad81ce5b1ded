package api

import (
	"log/slog"
	"net/http"

	"github.com/mahaj/chatwithme/pkg/auth"
)

type RouterConfig struct {
	Handler *Handler
	Gate    *auth.Gate
	// Realtime serves the websocket upgrade at /ws; nil leaves it unmounted.
	Realtime      http.Handler
	AllowedOrigin string
	Log           *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	gated := func(fn http.HandlerFunc) http.Handler { return cfg.Gate.Middleware(fn) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", Ping)
	mux.HandleFunc("POST /v1/user/login", h.Login)
	mux.Handle("POST /v1/user/register", gated(h.Register))
	mux.Handle("PUT /v1/user/update/{id}", gated(h.UpdateUser))
	mux.Handle("GET /v1/user", gated(h.SearchUsers))

	mux.Handle("POST /v1/chat", gated(h.AccessChat))
	mux.Handle("GET /v1/chat", gated(h.FetchChats))
	mux.Handle("POST /v1/chat/group", gated(h.CreateGroup))
	mux.Handle("PUT /v1/chat/group/rename", gated(h.RenameGroup))
	mux.Handle("PUT /v1/chat/group/add", gated(h.AddToGroup))
	mux.Handle("PUT /v1/chat/group/remove", gated(h.RemoveFromGroup))
	mux.Handle("GET /v1/chat/{chatId}/online", gated(h.OnlineMembers))

	mux.Handle("GET /v1/message/{chatId}", gated(h.ListMessages))
	mux.Handle("POST /v1/message", gated(h.SendMessage))
	mux.Handle("PUT /v1/message", gated(h.LikeMessage))

	if cfg.Realtime != nil {
		mux.Handle("GET /ws", cfg.Realtime)
	}
	mux.HandleFunc("/", NoRoute)

	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return RequestLogger(cfg.Log)(CORS(origin)(mux))
}
