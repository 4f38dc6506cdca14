// Package api exposes the HTTP surface: REST endpoints for conversations and
// messages, the WebSocket upgrade route, and operational endpoints.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/messaging-app/internal/blob"
	"github.com/pulse/messaging-app/internal/chat"
	"github.com/pulse/messaging-app/internal/identity"
	"github.com/pulse/messaging-app/internal/metrics"
)

type contextKey string

const userIDKey contextKey = "userID"

// Server bundles the handlers' dependencies.
type Server struct {
	svc      *chat.Service
	identity *identity.Client
	media    *blob.Client
	upgrade  http.HandlerFunc
}

// NewServer creates a Server. upgrade is the WebSocket upgrade handler,
// mounted under /ws.
func NewServer(svc *chat.Service, id *identity.Client, media *blob.Client, upgrade http.HandlerFunc) *Server {
	return &Server{svc: svc, identity: id, media: media, upgrade: upgrade}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.upgrade)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/conversations/direct", s.handleResolveDirect)
		r.Post("/conversations/group", s.handleCreateGroup)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}/messages", s.handleListMessages)
		r.Post("/messages/text", s.handleSubmitText)
		r.Post("/messages/media", s.handleSubmitMedia)
		r.Get("/media/{key}", s.handleMediaURL)
	})

	return r
}

// requireAuth verifies the bearer credential on every /api request and stores
// the resolved user id in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		credential := strings.TrimPrefix(header, "Bearer ")
		if credential == "" || credential == header {
			writeError(w, http.StatusUnauthorized, "missing credential")
			return
		}

		user, err := s.identity.Verify(r.Context(), credential)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID extracts the authenticated user id stored by requireAuth.
func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
