package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	ctxkeys "chat-backend/internal/context"
	"chat-backend/internal/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type signupRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

type signupResponse struct {
	UserID uuid.UUID `json:"user_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type addFriendResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type createGroupRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

type createGroupResponse struct {
	GroupID        uuid.UUID `json:"group_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	ok, err := s.captcha.Verify(r.Context(), req.CaptchaID, req.CaptchaAnswer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "captcha verification failed"})
		return
	}

	userID, err := s.auth.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, signupResponse{UserID: userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.Access, RefreshToken: pair.Refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.Access, RefreshToken: pair.Refresh})
}

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.captcha.Generate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, challenge)
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var req usernameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	other, err := s.users.Resolve(r.Context(), req.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conversationID, err := s.relationships.AddFriend(r.Context(), me, other)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, addFriendResponse{ConversationID: conversationID})
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	friends, err := s.relationships.ListFriends(r.Context(), me, pageSize(r), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var req createGroupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	result, err := s.relationships.CreateGroup(r.Context(), me, req.Name, req.Description, req.IdempotencyKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createGroupResponse{
		GroupID:        result.GroupID,
		ConversationID: result.ConversationID,
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	groups, err := s.relationships.ListGroups(r.Context(), me, pageSize(r), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleListGroupMembers(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group id"})
		return
	}

	members, err := s.relationships.ListGroupMembers(r.Context(), me, groupID, pageSize(r), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group id"})
		return
	}

	var req usernameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	guest, err := s.users.Resolve(r.Context(), req.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.relationships.InviteToGroup(r.Context(), groupID, me, guest); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRecentConversations(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var after *model.TimeCursor
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err := model.ParseTimeCursor(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		after = &cursor
	}

	conversations, err := s.conversations.RecentConversations(r.Context(), me, pageSize(r), after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, ok := ctxkeys.UserID(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		offset, err := model.ParseOffsetCursor(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		before = &offset
	}

	messages, err := s.conversations.GetHistory(r.Context(), me, conversationID, pageSize(r), before)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func pageSize(r *http.Request) int32 {
	raw := r.URL.Query().Get("page_size")
	if raw == "" {
		return defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return int32(n)
}
