// Package api exposes the HTTP surface: JSON endpoints for auth and
// relationship management, read endpoints for conversations, and the
// websocket upgrade for the realtime session.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chat-backend/internal/auth"
	"chat-backend/internal/captcha"
	"chat-backend/internal/middleware"
	"chat-backend/internal/model"
	"chat-backend/internal/service"
)

// AuthAPI is the slice of the auth service the handlers need.
type AuthAPI interface {
	Signup(ctx context.Context, username, password string) (uuid.UUID, error)
	Login(ctx context.Context, username, password string) (auth.TokenPair, error)
	Refresh(ctx context.Context, token string) (auth.TokenPair, error)
}

// UserAPI resolves usernames to ids.
type UserAPI interface {
	Resolve(ctx context.Context, username string) (uuid.UUID, error)
}

// RelationshipAPI covers friendships and groups.
type RelationshipAPI interface {
	AddFriend(ctx context.Context, me, other uuid.UUID) (uuid.UUID, error)
	CreateGroup(ctx context.Context, owner uuid.UUID, name, description, idempotencyKey string) (service.GroupResult, error)
	InviteToGroup(ctx context.Context, groupID, host, guest uuid.UUID) error
	ListFriends(ctx context.Context, userID uuid.UUID, pageSize int32, cursor string) ([]model.FriendEntry, error)
	ListGroups(ctx context.Context, userID uuid.UUID, pageSize int32, cursor string) ([]model.GroupEntry, error)
	ListGroupMembers(ctx context.Context, requester, groupID uuid.UUID, pageSize int32, cursor string) ([]model.MemberEntry, error)
}

// ConversationAPI covers the conversation read paths. Sends go through
// the websocket, not HTTP.
type ConversationAPI interface {
	GetHistory(ctx context.Context, userID, conversationID uuid.UUID, pageSize int32, before *int64) ([]model.MessageRecord, error)
	RecentConversations(ctx context.Context, userID uuid.UUID, pageSize int32, after *model.TimeCursor) ([]model.RecentConversation, error)
}

// Server wires the handlers into a chi router.
type Server struct {
	auth          AuthAPI
	users         UserAPI
	relationships RelationshipAPI
	conversations ConversationAPI
	captcha       captcha.Service
	verifier      middleware.TokenVerifier
	wsHandler     http.Handler
	logger        *zap.Logger
}

func NewServer(
	authSvc AuthAPI,
	users UserAPI,
	relationships RelationshipAPI,
	conversations ConversationAPI,
	captchaSvc captcha.Service,
	verifier middleware.TokenVerifier,
	wsHandler http.Handler,
	logger *zap.Logger,
) *Server {
	return &Server{
		auth:          authSvc,
		users:         users,
		relationships: relationships,
		conversations: conversations,
		captcha:       captchaSvc,
		verifier:      verifier,
		wsHandler:     wsHandler,
		logger:        logger,
	}
}

// Routes builds the router. Everything under /api/v1 except signup,
// login, refresh, and captcha requires a bearer access token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.HTTPRecovery(s.logger))
	r.Use(middleware.HTTPLogger(s.logger))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/captcha", s.handleCaptcha)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.verifier, s.logger))

			r.Get("/friends", s.handleListFriends)
			r.Post("/friends", s.handleAddFriend)

			r.Get("/groups", s.handleListGroups)
			r.Post("/groups", s.handleCreateGroup)
			r.Get("/groups/{groupID}/members", s.handleListGroupMembers)
			r.Post("/groups/{groupID}/invite", s.handleInvite)

			r.Get("/conversations", s.handleRecentConversations)
			r.Get("/conversations/{conversationID}/messages", s.handleHistory)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.verifier, s.logger))
		r.Get("/ws", s.wsHandler.ServeHTTP)
	})

	return r
}
