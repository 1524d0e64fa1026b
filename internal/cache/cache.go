package cache

import (
	"context"
	"time"

	"pharmaflow/backend/internal/domain"
)

// AnalyticsKey is the single key the dashboard snapshot lives under.
const AnalyticsKey = "pharmaflow:analytics:v1"

type AnalyticsCache interface {
	Get(ctx context.Context, key string) (*domain.Analytics, bool, error)
	Set(ctx context.Context, key string, value *domain.Analytics, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopAnalyticsCache struct{}

func (NoopAnalyticsCache) Get(_ context.Context, _ string) (*domain.Analytics, bool, error) {
	return nil, false, nil
}

func (NoopAnalyticsCache) Set(_ context.Context, _ string, _ *domain.Analytics, _ time.Duration) error {
	return nil
}

func (NoopAnalyticsCache) Delete(_ context.Context, _ string) error {
	return nil
}
