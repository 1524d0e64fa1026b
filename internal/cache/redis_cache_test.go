package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmaflow/backend/internal/domain"
)

func TestRedisAnalyticsCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("PHARMAFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PHARMAFLOW_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := NewRedisClient(addr, os.Getenv("PHARMAFLOW_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisAnalyticsCache(client)
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	key := fmt.Sprintf("pharmaflow:test:%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = c.Delete(context.Background(), key) })

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	snapshot := &domain.Analytics{
		TotalMedicines: 5,
		WeeklySales:    []decimal.Decimal{decimal.RequireFromString("39.381")},
		WeeklyLabels:   []string{"2026-03-02"},
	}
	if err := c.Set(ctx, key, snapshot, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.TotalMedicines != 5 || !got.WeeklySales[0].Equal(decimal.RequireFromString("39.381")) {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	var c AnalyticsCache = NoopAnalyticsCache{}
	if err := c.Set(context.Background(), AnalyticsKey, &domain.Analytics{TotalStock: 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), AnalyticsKey); ok || err != nil {
		t.Fatalf("expected noop miss, got ok=%v err=%v", ok, err)
	}
}
