package feetype

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/lock"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

const (
	cacheKey = "invoice:fee-types:v1"
	lockKey  = "invoice:fee-types:lock"
	lockTTL  = 15 * time.Second
)

// Source loads the fee type catalog, normally from the invoicing backend.
type Source interface {
	ListFeeTypes(ctx context.Context) ([]invoice.FeeType, error)
}

// Service serves the fee type catalog through a Redis cache.
type Service struct {
	source  Source
	cache   *Cache
	lock    *lock.Locker
	metrics *obs.DomainMetrics
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source Source
	Cache  *Cache
	// Lock, when set, lets a single replica refill an empty cache.
	Lock    *lock.Locker
	Metrics *obs.DomainMetrics
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("feetype: source is required")
	}
	return &Service{source: cfg.Source, cache: cfg.Cache, lock: cfg.Lock, metrics: cfg.Metrics}, nil
}

// List returns the catalog. Cache failures are logged and bypassed.
func (s *Service) List(ctx context.Context) ([]invoice.FeeType, error) {
	if cached, ok := s.lookup(ctx, true); ok {
		return cached, nil
	}
	if s.lock == nil || !s.cache.Enabled() {
		return s.refill(ctx)
	}

	var feeTypes []invoice.FeeType
	err := s.lock.WithLock(ctx, lockKey, lockTTL, func(ctx context.Context) error {
		if cached, ok := s.lookup(ctx, false); ok {
			feeTypes = cached
			return nil
		}
		var err error
		feeTypes, err = s.refill(ctx)
		return err
	})
	var appErr *common.AppError
	switch {
	case err == nil:
		return feeTypes, nil
	case errors.As(err, &appErr), ctx.Err() != nil:
		return nil, err
	default:
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fee type refill lock unavailable")
		return s.refill(ctx)
	}
}

// lookup reads the cached catalog. record controls whether the lookup is
// counted in the cache metrics.
func (s *Service) lookup(ctx context.Context, record bool) ([]invoice.FeeType, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	var cached []invoice.FeeType
	ok, err := s.cache.GetJSON(ctx, cacheKey, &cached)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fee type cache read failed")
	case ok:
		result = "hit"
	}
	if record {
		s.metrics.CacheLookup(result)
	}
	return cached, ok && err == nil
}

func (s *Service) refill(ctx context.Context) ([]invoice.FeeType, error) {
	feeTypes, err := s.source.ListFeeTypes(ctx)
	if err != nil {
		return nil, err
	}
	feeTypes = normalize(feeTypes)
	if err := s.cache.SetJSON(ctx, cacheKey, feeTypes); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fee type cache write failed")
	}
	return feeTypes, nil
}

// Get returns the fee type with the given ID.
func (s *Service) Get(ctx context.Context, id string) (invoice.FeeType, error) {
	feeTypes, err := s.List(ctx)
	if err != nil {
		return invoice.FeeType{}, err
	}
	id = strings.TrimSpace(id)
	feeType, found := lo.Find(feeTypes, func(ft invoice.FeeType) bool { return ft.ID == id })
	if !found {
		return invoice.FeeType{}, common.NewAppError("NOT_FOUND", "fee type not found", http.StatusNotFound, nil)
	}
	return feeType, nil
}

// Resolve indexes the catalog by ID for the given IDs. Unknown IDs are left
// out of the result.
func (s *Service) Resolve(ctx context.Context, ids []string) (map[string]invoice.FeeType, error) {
	if len(ids) == 0 {
		return map[string]invoice.FeeType{}, nil
	}
	feeTypes, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	wanted := lo.SliceToMap(ids, func(id string) (string, struct{}) { return strings.TrimSpace(id), struct{}{} })
	return lo.PickByKeys(lo.KeyBy(feeTypes, func(ft invoice.FeeType) string { return ft.ID }), lo.Keys(wanted)), nil
}

// Invalidate drops the cached catalog.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, cacheKey)
}

func normalize(feeTypes []invoice.FeeType) []invoice.FeeType {
	out := lo.FilterMap(feeTypes, func(ft invoice.FeeType, _ int) (invoice.FeeType, bool) {
		ft.ID = strings.TrimSpace(ft.ID)
		ft.Name = strings.TrimSpace(ft.Name)
		ft.Description = strings.TrimSpace(ft.Description)
		return ft, ft.ID != ""
	})
	return lo.UniqBy(out, func(ft invoice.FeeType) string { return ft.ID })
}
