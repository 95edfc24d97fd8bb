package httpx

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"net/http"
	"strconv"
	"strings"
)

// Authentication happens upstream; the gateway forwards the resolved user.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type actorKey struct{}

// RequireActor rejects requests without a valid X-User-ID.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
		if err != nil || id < 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid " + HeaderUserID})
			return
		}
		a := orders.Actor{
			UserID: id,
			Admin:  strings.EqualFold(r.Header.Get(HeaderUserRole), "admin"),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func actorFrom(ctx context.Context) orders.Actor {
	a, _ := ctx.Value(actorKey{}).(orders.Actor)
	return a
}
