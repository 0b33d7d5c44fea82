package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и шлюз, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированные ключи контекста (избегаем коллизий со сторонними пакетами)
type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyScopes ctxKey = "user_scopes"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID достает ID авторизованного пользователя из контекста.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return id
	}
	return ""
}

// Scopes достает права авторизованного пользователя из контекста.
func Scopes(ctx context.Context) map[string]bool {
	if s, ok := ctx.Value(ctxKeyScopes).(map[string]bool); ok {
		return s
	}
	return nil
}

// HasScope: "admin" перекрывает любую конкретную проверку.
func HasScope(ctx context.Context, scope string) bool {
	s := Scopes(ctx)
	return s != nil && (s["admin"] || s[scope])
}
