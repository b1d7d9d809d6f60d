// Package server exposes the REST and realtime surfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ripplechat/ripple/internal/auth"
	"github.com/ripplechat/ripple/internal/config"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/kv"
	"github.com/ripplechat/ripple/internal/llm"
	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/server/handlers"
	"github.com/ripplechat/ripple/internal/store"
	"github.com/ripplechat/ripple/internal/upload"
)

const ReadTimeout = 30 * time.Second

var (
	generalRate = limiter.Rate{Period: time.Minute, Limit: 60}
	aiRate      = limiter.Rate{Period: time.Minute, Limit: 20}
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

func New(
	cfg *config.Config,
	authSvc *auth.Service,
	st *store.Store,
	kvs *kv.KV,
	registry *hub.Registry,
	notifier *notify.Service,
	upstream llm.Streamer,
	uploads *upload.Store,
	wsHandler http.Handler,
	dbPing func(ctx context.Context) error,
) *Server {
	router := chi.NewRouter()

	router.Use(Recovery)
	router.Use(Logger)
	router.Use(CORS(cfg.AllowedOrigins))

	var limitStore limiter.Store
	if s, err := sredis.NewStoreWithOptions(kvs.Client(), limiter.StoreOptions{Prefix: "limiter:"}); err == nil {
		limitStore = s
	} else {
		slog.Warn("rate limiter falling back to memory store", "error", err)
		limitStore = memory.NewStore()
	}
	generalLimit := RateLimit(limiter.New(limitStore, generalRate))
	aiLimit := RateLimit(limiter.New(limitStore, aiRate))

	healthH := handlers.NewHealthHandler(dbPing, func(ctx context.Context) error {
		return kvs.Client().Ping(ctx).Err()
	})
	router.Get("/health", healthH.Readiness)
	router.Get("/health/live", healthH.Liveness)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The socket handshake authenticates itself from the query token.
	router.Get("/api/ws", wsHandler.ServeHTTP)

	authH := handlers.NewAuthHandler(authSvc, st)
	router.Route("/api/auth", func(r chi.Router) {
		r.Use(generalLimit)
		r.Post("/signup", authH.Signup)
		r.Post("/login", authH.Login)
		r.Post("/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(Auth(authSvc))
			r.Post("/logout", authH.Logout)
			r.Get("/me", authH.Me)
		})
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(generalLimit)
		r.Use(Auth(authSvc))

		userH := handlers.NewUserHandler(st)
		r.Get("/users/search", userH.Search)
		r.Get("/users/blocked", userH.ListBlocked)
		r.Patch("/users/me", userH.UpdateMe)
		r.Get("/users/{id}", userH.Get)
		r.Post("/users/{id}/block", userH.Block)
		r.Delete("/users/{id}/block", userH.Unblock)

		convH := handlers.NewConversationHandler(st, registry, notifier, upstream)
		r.Get("/conversations", convH.List)
		r.Post("/conversations", convH.Create)
		r.Get("/conversations/{id}", convH.Get)
		r.Patch("/conversations/{id}", convH.Update)
		r.Delete("/conversations/{id}", convH.Delete)
		r.Patch("/conversations/{id}/pin", convH.Pin)
		r.Get("/conversations/{id}/messages", convH.Messages)
		r.Get("/conversations/{id}/export", convH.Export)
		r.Post("/conversations/{id}/members", convH.AddMember)
		r.Delete("/conversations/{id}/members/{userId}", convH.RemoveMember)
		r.Patch("/conversations/{id}/members/{userId}/role", convH.UpdateMemberRole)

		r.Group(func(r chi.Router) {
			r.Use(aiLimit)
			r.Post("/conversations/{id}/summarize", convH.Summarize)
			r.Get("/conversations/{id}/smart-replies", convH.SmartReplies)
		})

		callH := handlers.NewCallHandler(st)
		r.Get("/calls", callH.List)
		r.Get("/calls/{id}", callH.Get)

		notifH := handlers.NewNotificationHandler(st)
		r.Get("/notifications", notifH.List)
		r.Patch("/notifications/read-all", notifH.ReadAll)
		r.Patch("/notifications/{id}/read", notifH.MarkRead)

		uploadH := handlers.NewUploadHandler(uploads)
		r.Post("/upload", uploadH.Upload)
	})

	return &Server{cfg: cfg, router: router}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
		// No write timeout: the socket endpoint holds connections open.
		WriteTimeout: 0,
	}
	slog.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
