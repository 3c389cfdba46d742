package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/auth"
	"github.com/amerfu/bllm/internal/errs"
)

type contextKey string

const subjectContextKey contextKey = "subject"

// Auth guards route groups with bearer tokens and the admin key.
type Auth struct {
	logger   *zap.Logger
	verifier *auth.Verifier
}

func NewAuth(logger *zap.Logger, verifier *auth.Verifier) *Auth {
	return &Auth{logger: logger, verifier: verifier}
}

// RequireToken rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (m *Auth) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.VerifyToken(r.Header.Get("Authorization"))
		if err != nil {
			m.logger.Debug("Token rejected",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.sendUnauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin checks the X-Admin-Key header. It runs after RequireToken in
// the admin route group, so admin calls need both credentials.
func (m *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.verifier.VerifyAdminKey(r.Header.Get("X-Admin-Key")); err != nil {
			m.logger.Warn("Admin key rejected",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
			m.sendUnauthorized(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Auth) sendUnauthorized(w http.ResponseWriter, err error) {
	message := "authentication required"
	if e, ok := errs.As(err); ok {
		message = e.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    errs.CodeUnauthenticated,
			"message": message,
		},
	})
}

// Subject returns the token subject stored by RequireToken.
func Subject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}
