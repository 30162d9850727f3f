package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ctxkeys "chat-backend/internal/context"
)

// TokenVerifier validates an access token and returns the user id.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (uuid.UUID, error)
}

// RequireAuth authenticates requests with a bearer access token. The token
// comes from the Authorization header, or from the "token" query parameter
// for clients that cannot set headers on a websocket upgrade.
func RequireAuth(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			userID, err := verifier.VerifyAccess(r.Context(), token)
			if err != nil {
				logger.Debug("token rejected",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctxkeys.WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
