package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	ctxkeys "chat-backend/internal/context"
	"chat-backend/internal/hub"
)

// Acceptor runs the actor for one accepted connection until it ends.
type Acceptor interface {
	Accept(ctx context.Context, userID uuid.UUID, conn hub.Conn)
}

// ServeWS upgrades the request and hands the connection to the hub. The
// auth middleware must run first; an unauthenticated request is refused
// before the upgrade.
func ServeWS(acceptor Acceptor, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := ctxkeys.UserID(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			return
		}

		// Accept blocks for the lifetime of the connection; the request
		// context would end it on server shutdown.
		acceptor.Accept(r.Context(), userID, NewConn(conn))
	}
}
