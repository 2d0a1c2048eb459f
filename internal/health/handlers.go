package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/resilience"
)

// ErrDisabled marks an optional dependency that is not configured. It does
// not fail readiness.
var ErrDisabled = errors.New("disabled")

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process-wide readiness flag. The API turns it off as soon
// as graceful shutdown starts so load balancers stop routing new requests.
func SetReady(v bool) { ready.Store(v) }

// IsReady reports the readiness flag.
func IsReady() bool { return ready.Load() }

// Checker represents dependencies that can be checked for readiness.
type Checker interface {
	PingUpstream(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// UpstreamPinger is the part of the invoicing backend client used for readiness checks.
type UpstreamPinger interface {
	Ping(ctx context.Context) error
}

// Deps is the production Checker.
type Deps struct {
	Upstream UpstreamPinger
	Redis    *redis.Client
}

// PingUpstream pings the invoicing backend.
func (p Deps) PingUpstream(ctx context.Context, timeout time.Duration) error {
	if p.Upstream == nil {
		return errors.New("upstream client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Upstream.Ping(ctx)
}

// PingRedis pings Redis, reporting ErrDisabled when it is not configured.
func (p Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker Checker
	// Breaker, when set, has its position reported as upstream_breaker. An
	// open breaker does not fail readiness; the upstream ping decides.
	Breaker         *resilience.Breaker
	UpstreamTimeout time.Duration
	RedisTimeout    time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on the shutdown flag and dependency pings.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	ctx := r.Context()
	upstream := statusOf(h.Checker.PingUpstream(ctx, h.upstreamTimeout()))
	cache := statusOf(h.Checker.PingRedis(ctx, h.redisTimeout()))

	code := http.StatusOK
	if upstream != "ok" || (cache != "ok" && cache != ErrDisabled.Error()) {
		code = http.StatusServiceUnavailable
	}
	body := map[string]string{
		"upstream": upstream,
		"redis":    cache,
	}
	if h.Breaker != nil {
		body["upstream_breaker"] = h.Breaker.State().String()
	}
	common.JSON(w, code, body)
}

func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrDisabled) {
		return ErrDisabled.Error()
	}
	return err.Error()
}

func (h Handler) upstreamTimeout() time.Duration {
	if h.UpstreamTimeout <= 0 {
		return time.Second
	}
	return h.UpstreamTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
