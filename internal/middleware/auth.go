package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/sep-payments/internal/auth"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

// Auth validates the bearer token and puts the user id on the context, along
// with a logger that carries it.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Info("token rejected", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			noteUser(r.Context(), claims.UserID.String())
			ctx := auth.WithClaims(r.Context(), claims)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
