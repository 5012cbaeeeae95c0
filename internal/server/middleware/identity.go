package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goosemarket/marketd/internal/domain"
)

// Identity is the request-scoped caller resolved from the gateway's
// identity headers. There is no session state on this server; every
// request carries its own identity.
type Identity struct {
	UserID   string
	Username string
	Admin    bool
}

type identityKey struct{}

// IdentityFrom returns the caller identity stored by the Resolve
// middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// AccountEnsurer provisions an account on first sight of a user ID.
type AccountEnsurer interface {
	Ensure(ctx context.Context, userID, username string) (domain.Account, error)
}

// ResolveIdentity returns middleware that reads the X-User-ID and
// X-User-Name headers, provisions the account if needed, and stores the
// resulting Identity on the request context. Requests without a user
// header pass through anonymously; handlers that need identity reject
// them via IdentityFrom.
func ResolveIdentity(accounts AccountEnsurer, adminIDs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[strings.TrimSpace(id)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			username := strings.TrimSpace(r.Header.Get("X-User-Name"))
			account, err := accounts.Ensure(r.Context(), userID, username)
			if err != nil {
				logger.ErrorContext(r.Context(), "middleware: ensure account failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"failed to resolve identity"}`))
				return
			}

			_, configured := admins[userID]
			id := Identity{
				UserID:   account.UserID,
				Username: account.Username,
				Admin:    account.Admin || configured,
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
