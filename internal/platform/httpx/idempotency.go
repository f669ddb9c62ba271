package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// IdempotencyHeader lets clients retry a POST without repeating its effect.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers processed keys; *shared.IdempotencyStore
// satisfies it.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Idempotent claims the Idempotency-Key of POST requests before they reach
// next. A replayed key is answered with 409. Keys of requests that end in a
// server error are released again.
func Idempotent(store IdempotencyStore, module string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if store == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if err := store.CheckAndInsert(r.Context(), key, module); err != nil {
				RespondError(w, err)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusInternalServerError {
				if err := store.Delete(context.WithoutCancel(r.Context()), key); err != nil {
					logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
				}
			}
		})
	}
}
