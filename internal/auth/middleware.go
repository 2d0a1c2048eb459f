package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoice/internal/common"
)

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier *Verifier
}

// RequireAuth enforces that a valid bearer token is present before executing
// the next handler. The user id and the raw token are stored on the context;
// the token is forwarded to the invoicing backend on submit.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		userID, err := m.Verifier.ParseAccessToken(token)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				zerolog.Ctx(r.Context()).Debug().Err(appErr.Err).Msg("token rejected")
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", userID)
		})
		ctx := common.WithUserID(r.Context(), userID)
		ctx = common.WithAccessToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
