package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-invoice/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	lim, err := New("1-M", nil)
	require.NoError(t, err)

	counted := Handler{Limiter: lim}.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "user-1"))

	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req)
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req)
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", nil)
	other = other.WithContext(common.WithUserID(other.Context(), "user-2"))
	rr3 := httptest.NewRecorder()
	counted.ServeHTTP(rr3, other)
	require.Equal(t, http.StatusOK, rr3.Code)
}

type failingStore struct{ limiter.Store }

func (failingStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	lim := limiter.New(failingStore{}, limiter.Rate{Period: time.Minute, Limit: 1})
	var seen error
	handler := Handler{Limiter: lim, OnError: func(err error) { seen = err }}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualError(t, seen, "store down")
}

func TestKeyByUserFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:40112"
	require.Equal(t, "ip:203.0.113.9", KeyByUser(req))

	req = req.WithContext(common.WithUserID(req.Context(), "u"))
	require.Equal(t, "user:u", KeyByUser(req))
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New("lots", nil)
	require.Error(t, err)
}
