package feetype

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/lock"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

type stubSource struct {
	feeTypes []invoice.FeeType
	err      error
	calls    int
}

func (s *stubSource) ListFeeTypes(context.Context) ([]invoice.FeeType, error) {
	s.calls++
	return s.feeTypes, s.err
}

func catalogFixture() []invoice.FeeType {
	return []invoice.FeeType{
		{ID: " 1 ", Name: "Shipping ", Description: "Courier"},
		{ID: "2", Name: "Insurance"},
		{ID: "", Name: "Broken"},
		{ID: "1", Name: "Shipping duplicate"},
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestListCachesCatalog(t *testing.T) {
	mr, client := newRedis(t)
	source := &stubSource{feeTypes: catalogFixture()}
	metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
	svc, err := NewService(ServiceConfig{Source: source, Cache: NewCache(client, time.Minute), Metrics: metrics})
	require.NoError(t, err)

	first, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []invoice.FeeType{
		{ID: "1", Name: "Shipping", Description: "Courier"},
		{ID: "2", Name: "Insurance"},
	}, first)
	require.True(t, mr.Exists(cacheKey))

	second, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, source.calls)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FeeTypeCache.WithLabelValues("miss")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FeeTypeCache.WithLabelValues("hit")))

	mr.FastForward(2 * time.Minute)
	_, err = svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}

func TestListBypassesBrokenCache(t *testing.T) {
	mr, client := newRedis(t)
	source := &stubSource{feeTypes: catalogFixture()}
	metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
	svc, err := NewService(ServiceConfig{Source: source, Cache: NewCache(client, time.Minute), Metrics: metrics})
	require.NoError(t, err)

	require.NoError(t, mr.Set(cacheKey, "not json"))
	rows, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FeeTypeCache.WithLabelValues("error")))

	mr.Close()
	rows, err = svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 2, source.calls)
}

type slowSource struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *slowSource) ListFeeTypes(context.Context) ([]invoice.FeeType, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return catalogFixture(), nil
}

func TestListRefillsOnceUnderLock(t *testing.T) {
	_, client := newRedis(t)
	source := &slowSource{delay: 30 * time.Millisecond}
	svc, err := NewService(ServiceConfig{
		Source: source,
		Cache:  NewCache(client, time.Minute),
		Lock:   &lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]invoice.FeeType, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.List(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
	}
	require.Equal(t, int32(1), source.calls.Load())
}

func TestListFetchesDirectlyWhenLockIsBusy(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set(lockKey, "another-replica"))
	source := &stubSource{feeTypes: catalogFixture()}
	svc, err := NewService(ServiceConfig{
		Source: source,
		Cache:  NewCache(client, time.Minute),
		Lock:   &lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond},
	})
	require.NoError(t, err)

	rows, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 1, source.calls)
	require.True(t, mr.Exists(cacheKey))
}

func TestListWithoutCache(t *testing.T) {
	source := &stubSource{feeTypes: catalogFixture()}
	svc, err := NewService(ServiceConfig{Source: source, Cache: NewCache(nil, time.Minute)})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := svc.List(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 2, source.calls)

	_, err = NewService(ServiceConfig{})
	require.Error(t, err)
}

func TestListPropagatesSourceError(t *testing.T) {
	boom := common.NewAppError("UPSTREAM_UNAVAILABLE", "invoicing service unavailable", http.StatusBadGateway, errors.New("dial"))
	svc, err := NewService(ServiceConfig{Source: &stubSource{err: boom}})
	require.NoError(t, err)
	_, err = svc.List(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestGetAndResolve(t *testing.T) {
	svc, err := NewService(ServiceConfig{Source: &stubSource{feeTypes: catalogFixture()}})
	require.NoError(t, err)

	ft, err := svc.Get(context.Background(), " 2")
	require.NoError(t, err)
	require.Equal(t, "Insurance", ft.Name)

	_, err = svc.Get(context.Background(), "404")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)

	resolved, err := svc.Resolve(context.Background(), []string{"1", "9"})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "Shipping", resolved["1"].Name)

	empty, err := svc.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestInvalidate(t *testing.T) {
	mr, client := newRedis(t)
	source := &stubSource{feeTypes: catalogFixture()}
	svc, err := NewService(ServiceConfig{Source: source, Cache: NewCache(client, time.Minute)})
	require.NoError(t, err)

	_, err = svc.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(context.Background()))
	require.False(t, mr.Exists(cacheKey))
}

func TestHandlers(t *testing.T) {
	svc, err := NewService(ServiceConfig{Source: &stubSource{feeTypes: catalogFixture()}})
	require.NoError(t, err)
	h := NewHandler(HandlerConfig{Service: svc})

	r := chi.NewRouter()
	r.Get("/api/v1/fee-types", h.List)
	r.Get("/api/v1/fee-types/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fee-types", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []invoice.FeeType `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fee-types/9", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)

	rec = httptest.NewRecorder()
	NewHandler(HandlerConfig{}).List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fee-types", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
