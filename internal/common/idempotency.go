package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client's key.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func hashKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints. Keys are
// scoped to the authenticated user. A key whose request did not succeed is
// released so the caller can retry with a corrected body.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		scope, _ := UserID(ctx)
		key := hashKey(scope, header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		succeeded := false
		defer func() {
			// detached context: the request context may already be cancelled
			bg, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if succeeded {
				_ = i.R.Expire(bg, key, i.ttl()).Err()
				return
			}
			_ = i.R.Del(bg, key).Err()
		}()
		next.ServeHTTP(ww, r)
		// a handler that never writes answers 200
		status := ww.Status()
		succeeded = status == 0 || (status >= 200 && status < 300)
	})
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}
