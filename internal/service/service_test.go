package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"pharmaflow/backend/internal/billing"
	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/metrics"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/store/memory"
)

type cacheStub struct {
	values  map[string]*domain.Analytics
	deletes int
}

func (c *cacheStub) Get(_ context.Context, key string) (*domain.Analytics, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *cacheStub) Set(_ context.Context, key string, value *domain.Analytics, _ time.Duration) error {
	if c.values == nil {
		c.values = make(map[string]*domain.Analytics)
	}
	c.values[key] = value
	return nil
}

func (c *cacheStub) Delete(_ context.Context, key string) error {
	c.deletes++
	delete(c.values, key)
	return nil
}

type publisherStub struct {
	published []domain.Bill
	err       error
}

func (p *publisherStub) PublishBillCommitted(_ context.Context, bill domain.Bill) error {
	p.published = append(p.published, bill)
	return p.err
}

func (p *publisherStub) Close() error {
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memory.Store
	cache     *cacheStub
	publisher *publisherStub
	metrics   *metrics.Metrics
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo, err := memory.NewSeeded(nil)
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f := fixture{
		repo:      repo,
		cache:     &cacheStub{},
		publisher: &publisherStub{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	now := func() time.Time { return fixedNow }
	engine := billing.New(repo, repo, billing.Options{Now: now})
	f.svc = New(repo, engine, Options{
		Cache:     f.cache,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Now:       now,
	})
	return f
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "usr-admin", Username: "admin", Role: domain.RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "usr-staff", Username: "staff", Role: domain.RoleStaff})
}

func TestCheckoutPublishesAndInvalidates(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Checkout(staffCtx(), domain.CheckoutRequest{Items: []domain.CartLine{
		{MedicineID: "MED-001", Quantity: 3},
	}})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Success || resp.ItemsCount != 1 || !resp.TotalAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Bill.CreatedBy != "staff" {
		t.Fatalf("expected cashier staff, got %q", resp.Bill.CreatedBy)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].ID != resp.BillID {
		t.Fatalf("expected bill event for %s, got %+v", resp.BillID, f.publisher.published)
	}
	if f.cache.deletes != 1 {
		t.Fatalf("expected analytics invalidation, got %d deletes", f.cache.deletes)
	}
	if got := testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected committed counter 1, got %v", got)
	}
}

func TestCheckoutSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	if _, err := f.svc.Checkout(staffCtx(), domain.CheckoutRequest{Items: []domain.CartLine{
		{MedicineID: "MED-002", Quantity: 1},
	}}); err != nil {
		t.Fatalf("expected checkout to succeed despite publish failure, got %v", err)
	}
	if qty, _ := f.repo.GetQuantity(context.Background(), "MED-002"); qty != 29 {
		t.Fatalf("expected stock 29, got %d", qty)
	}
}

func TestCheckoutShortageIsCountedAndNotPublished(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(staffCtx(), domain.CheckoutRequest{Items: []domain.CartLine{
		{MedicineID: "MED-003", Quantity: 11},
	}})
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 10 {
		t.Fatalf("expected StockError with 10 available, got %v", err)
	}
	if len(f.publisher.published) != 0 {
		t.Fatalf("expected no event for failed checkout")
	}
	if got := testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("insufficient_stock")); got != 1 {
		t.Fatalf("expected insufficient_stock counter 1, got %v", got)
	}
}

func TestLowStockSuggestsReorder(t *testing.T) {
	f := newFixture(t)

	items, err := f.svc.LowStock(context.Background())
	if err != nil {
		t.Fatalf("low stock failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "MED-003" {
		t.Fatalf("expected only Cough Syrup below 20, got %+v", items)
	}
	if items[0].Threshold != 20 || items[0].SuggestedReorder != 30 {
		t.Fatalf("expected suggestion 30 at threshold 20, got %+v", items[0])
	}
}

func TestLowStockIsStrictlyBelowThreshold(t *testing.T) {
	f := newFixture(t)
	if _, err := f.repo.TryDecrement(context.Background(), "MED-004", 5); err != nil {
		t.Fatalf("decrement: %v", err)
	}

	items, err := f.svc.LowStock(context.Background())
	if err != nil {
		t.Fatalf("low stock failed: %v", err)
	}
	for _, item := range items {
		if item.ID == "MED-004" {
			t.Fatalf("medicine at exactly the threshold must not be listed")
		}
	}
}

func TestCreateMedicineRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	req := domain.MedicineCreateRequest{Name: "Cetirizine 10mg", Company: "Acme Pharma", Price: decimal.RequireFromString("7.25"), Quantity: 12}

	if _, err := f.svc.CreateMedicine(staffCtx(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}
	created, err := f.svc.CreateMedicine(adminCtx(), req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" || !created.Price.Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("unexpected created medicine %+v", created)
	}

	req.Price = decimal.NewFromInt(-1)
	if _, err := f.svc.CreateMedicine(adminCtx(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative price, got %v", err)
	}

	req.Price = decimal.NewFromInt(1)
	req.Quantity = domain.MaxRestock + 1
	if _, err := f.svc.CreateMedicine(adminCtx(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized opening stock, got %v", err)
	}
}

func TestRestockIncrementsStock(t *testing.T) {
	f := newFixture(t)

	level, err := f.svc.Restock(adminCtx(), "MED-003", 15)
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if level.Quantity != 25 {
		t.Fatalf("expected 25 after restock, got %d", level.Quantity)
	}
	if _, err := f.svc.Restock(adminCtx(), "MED-003", 0); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.svc.Restock(adminCtx(), "nope", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestockRejectsAmountAboveLimit(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []int{domain.MaxRestock + 1, math.MaxInt} {
		if _, err := f.svc.Restock(adminCtx(), "MED-003", amount); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("amount %d: expected ErrInvalidInput, got %v", amount, err)
		}
	}
	level, err := f.svc.Restock(adminCtx(), "MED-003", domain.MaxRestock)
	if err != nil {
		t.Fatalf("restock at limit: %v", err)
	}
	if level.Quantity != 10+domain.MaxRestock {
		t.Fatalf("expected %d after restock, got %d", 10+domain.MaxRestock, level.Quantity)
	}
}

func TestSearchRequiresName(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SearchMedicines(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	found, err := f.svc.SearchMedicines(context.Background(), "syrup")
	if err != nil || len(found) != 1 {
		t.Fatalf("expected one match, got %+v err=%v", found, err)
	}
}

func TestAnalyticsAggregatesWeekAndCaches(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Checkout(staffCtx(), domain.CheckoutRequest{Items: []domain.CartLine{
		{MedicineID: "MED-001", Quantity: 2},
		{MedicineID: "MED-004", Quantity: 1},
	}}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if _, err := f.svc.Analytics(staffCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be refused, got %v", err)
	}

	snapshot, err := f.svc.Analytics(adminCtx())
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if snapshot.TotalMedicines != 5 || snapshot.TotalStaff != 2 {
		t.Fatalf("unexpected totals %+v", snapshot)
	}
	if snapshot.TotalStock != 50+30+10+25+40-3 {
		t.Fatalf("unexpected total stock %d", snapshot.TotalStock)
	}
	if len(snapshot.WeeklyLabels) != 7 || snapshot.WeeklyLabels[6] != "2026-03-10" || snapshot.WeeklyLabels[0] != "2026-03-04" {
		t.Fatalf("unexpected labels %v", snapshot.WeeklyLabels)
	}
	if !snapshot.WeeklySales[6].Equal(decimal.NewFromInt(55)) || !snapshot.WeeklySales[0].IsZero() {
		t.Fatalf("unexpected weekly sales %v", snapshot.WeeklySales)
	}

	if _, ok := f.cache.values["pharmaflow:analytics:v1"]; !ok {
		t.Fatalf("expected snapshot to be cached")
	}
	again, err := f.svc.Analytics(adminCtx())
	if err != nil || again != snapshot {
		t.Fatalf("expected cached snapshot to be served")
	}
}

func TestProfileAccessIsScopedToSelf(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.GetProfile(staffCtx(), "usr-staff2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading another profile, got %v", err)
	}
	profile, err := f.svc.UpdateProfile(staffCtx(), "usr-staff", domain.ProfileUpdateRequest{Name: "Ravi K", Email: "ravi.k@pharmacy.local", Phone: "9000000099"})
	if err != nil {
		t.Fatalf("update own profile: %v", err)
	}
	if profile.Name != "Ravi K" || profile.Phone != "9000000099" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if _, err := f.svc.UpdateProfile(staffCtx(), "usr-staff", domain.ProfileUpdateRequest{Name: "Ravi", Email: "not-an-email"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := f.svc.GetProfile(adminCtx(), "usr-staff2"); err != nil {
		t.Fatalf("expected admin to read any profile, got %v", err)
	}

	staff, err := f.svc.ListStaff(adminCtx())
	if err != nil || len(staff) != 2 {
		t.Fatalf("expected 2 staff, got %+v err=%v", staff, err)
	}
}

func TestAttendanceCheckInOut(t *testing.T) {
	f := newFixture(t)
	ctx := staffCtx()

	if _, err := f.svc.CheckOut(ctx, domain.CheckOutRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before check-in, got %v", err)
	}
	record, err := f.svc.CheckIn(ctx, domain.CheckInRequest{})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if record.Status != domain.AttendancePresent || record.Date != "2026-03-10" || record.Username != "staff" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, err := f.svc.CheckIn(ctx, domain.CheckInRequest{Status: "holiday"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown status, got %v", err)
	}
	if _, err := f.svc.CheckIn(ctx, domain.CheckInRequest{UserID: "usr-staff2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden checking in someone else, got %v", err)
	}

	out, err := f.svc.CheckOut(ctx, domain.CheckOutRequest{})
	if err != nil || out.CheckOut == nil {
		t.Fatalf("check out: %+v err=%v", out, err)
	}

	records, err := f.svc.AttendanceRecords(ctx, "usr-staff")
	if err != nil || len(records) != 1 {
		t.Fatalf("expected 1 record, got %+v err=%v", records, err)
	}
	report, err := f.svc.AttendanceReport(adminCtx())
	if err != nil || len(report) != 1 {
		t.Fatalf("expected 1 report row, got %+v err=%v", report, err)
	}
	if _, err := f.svc.AttendanceReport(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be refused the report, got %v", err)
	}
}

func TestListBillsClampsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Checkout(staffCtx(), domain.CheckoutRequest{Items: []domain.CartLine{{MedicineID: "MED-005", Quantity: 1}}}); err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
	}
	bills, err := f.svc.ListBills(context.Background(), 500)
	if err != nil || len(bills) != 3 {
		t.Fatalf("expected 3 bills, got %d err=%v", len(bills), err)
	}
	if _, err := f.svc.GetBill(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
