package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koinonia/teamchat/internal/services"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Directory     *services.DirectoryService

	// Store backs the health check; nil reports liveness only
	Store Pinger

	// Stream serves GET /ws/conversations/{id}; nil leaves the route out
	Stream http.HandlerFunc

	CORSOrigins    []string
	SendRatePerSec float64
	SendBurst      int

	// RequestLogging enables chi's request logger
	RequestLogging bool
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(cfg RouterConfig) http.Handler {
	conversationHandler := NewConversationHandler(cfg.Conversations)
	messageHandler := NewMessageHandler(cfg.Messages, cfg.SendRatePerSec, cfg.SendBurst)
	directoryHandler := NewDirectoryHandler(cfg.Directory)
	healthHandler := NewHealthHandler(cfg.Store)

	r := chi.NewRouter()

	if cfg.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Create)
			r.Get("/{id}", conversationHandler.Get)
			r.Post("/{id}/join", conversationHandler.Join)
			r.Post("/{id}/leave", conversationHandler.Leave)
			r.Get("/{id}/members", conversationHandler.Members)

			r.Get("/{id}/messages", messageHandler.List)
			r.Post("/{id}/messages", messageHandler.Send)
			r.Delete("/{id}/messages/{msgID}", messageHandler.Delete)

			r.Get("/{id}/presence", directoryHandler.Presence)
			r.Put("/{id}/presence/{userID}", directoryHandler.TouchPresence)
			r.Delete("/{id}/presence/{userID}", directoryHandler.ClearPresence)

			r.Get("/{id}/unread/{userID}", conversationHandler.UnreadCount)
			r.Post("/{id}/unread/{userID}", directoryHandler.IncrementUnread)
			r.Delete("/{id}/unread/{userID}", conversationHandler.MarkRead)
		})

		r.Put("/users/{userID}/push-token", directoryHandler.RegisterPushToken)
		r.Post("/push-tokens/lookup", directoryHandler.LookupPushTokens)
		r.Post("/push", directoryHandler.RelayPush)
	})

	if cfg.Stream != nil {
		r.Get("/ws/conversations/{id}", cfg.Stream)
	}

	return r
}
