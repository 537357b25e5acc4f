package services

import (
	"context"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

var _ domain.ActivityCache = (*cacheScope)(nil)

// cacheScope overlays the shared activity cache for the duration of one event. Writes stay
// local until Flush, so an aborted transaction leaves the shared cache untouched.
type cacheScope struct {
	next    domain.ActivityCache
	pending map[domain.ActivityCacheKey]domain.CachedActivity
	order   []domain.ActivityCacheKey
}

func newCacheScope(next domain.ActivityCache) *cacheScope {
	return &cacheScope{
		next:    next,
		pending: make(map[domain.ActivityCacheKey]domain.CachedActivity),
	}
}

func (s *cacheScope) Fetch(ctx context.Context, key domain.ActivityCacheKey) (domain.CachedActivity, bool) {
	if a, ok := s.pending[key]; ok {
		return a, true
	}
	return s.next.Fetch(ctx, key)
}

func (s *cacheScope) Update(_ context.Context, key domain.ActivityCacheKey, activity domain.CachedActivity) {
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = activity
}

func (s *cacheScope) Flush(ctx context.Context) {
	for _, key := range s.order {
		s.next.Update(ctx, key, s.pending[key])
	}
	s.pending = make(map[domain.ActivityCacheKey]domain.CachedActivity)
	s.order = nil
}
