package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// SessionHeader carries the anonymous cart session id.
const SessionHeader = "X-Cart-Session"

// identify resolves the caller. A bearer token must be valid when present;
// without one the caller is anonymous. Every response echoes the cart
// session, generating one when the request had none.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if raw, ok := bearer(r); ok {
			id, err := h.auth.Verify(raw)
			if err != nil {
				zctx.From(ctx).Debug("Rejected token", zap.Error(err))
				writeError(w, r, auth.ErrInvalidToken)
				return
			}
			ctx = auth.WithIdentity(ctx, id)
			ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		}

		session := strings.TrimSpace(r.Header.Get(SessionHeader))
		if _, err := uuid.Parse(session); err != nil {
			session = uuid.NewString()
		}
		w.Header().Set(SessionHeader, session)
		ctx = auth.WithSession(ctx, session)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: http.StatusUnauthorized, Message: "sign in required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: http.StatusUnauthorized, Message: "sign in required"})
			return
		}
		if !id.IsAdmin() {
			writeJSON(w, http.StatusForbidden, errorResponse{Code: http.StatusForbidden, Message: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func owner(r *http.Request) cart.Owner {
	var o cart.Owner
	if id, ok := auth.FromContext(r.Context()); ok {
		o.UserID = id.UserID
	}
	o.SessionID, _ = auth.SessionFromContext(r.Context())
	return o
}

func actor(r *http.Request) order.Actor {
	id, _ := auth.FromContext(r.Context())
	return order.Actor{UserID: id.UserID, Admin: id.IsAdmin()}
}
