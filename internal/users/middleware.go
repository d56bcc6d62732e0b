package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Identity headers set by the upstream gateway after token verification.
// Requests reach this service only through that gateway, so the values are
// trusted; requests without them are rejected before any handler runs.
const (
	HeaderUserID   = "X-User-ID"
	HeaderDealerID = "X-Dealer-ID"
)

// IdentityMiddleware extracts the trusted identity into the request context.
func IdentityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
			if err != nil || userID <= 0 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			dealerID, err := strconv.ParseInt(r.Header.Get(HeaderDealerID), 10, 64)
			if err != nil || dealerID <= 0 {
				if logger != nil {
					logger.Warn("identity missing dealer context", slog.Int64("user_id", userID))
				}
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{UserID: userID, DealerID: dealerID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
