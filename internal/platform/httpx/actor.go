package httpx

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// ActorHeader carries the acting user's id. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

// Actor stores the X-Actor-ID header in the request context. Requests that
// change state without a valid actor are rejected.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			if isRead(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			Problem(w, http.StatusUnauthorized, "Unauthorized", "missing "+ActorHeader+" header")
			return
		}
		actor, err := uuid.Parse(raw)
		if err != nil || actor == uuid.Nil {
			Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid "+ActorHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// ParseUUID parses a path or query value, reporting failures against field.
func ParseUUID(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, shared.NewValidationError(field, "must be a UUID")
	}
	return id, nil
}
