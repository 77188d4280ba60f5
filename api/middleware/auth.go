package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/yoeldevsoft25/lacaja-sync/api/responses"
	pkgAuth "github.com/yoeldevsoft25/lacaja-sync/pkg/auth"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

// Auth validates a bearer batch token and seeds the request context with the
// device claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseBatchToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxRole, claims.Role)
			ctx = context.WithValue(ctx, ctxStoreID, claims.StoreID.String())
			ctx = context.WithValue(ctx, ctxDeviceID, claims.DeviceID.String())

			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"store_id":  claims.StoreID.String(),
					"device_id": claims.DeviceID.String(),
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
