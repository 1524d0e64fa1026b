package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmaflow/backend/internal/billing"
	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/store/seed"
	"pharmaflow/backend/internal/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "pharmacy.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStockPrimitives(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateMedicine(ctx, domain.Medicine{ID: "M2", Name: "Syrup", Price: decimal.RequireFromString("12.50"), Quantity: 10}); err != nil {
		t.Fatalf("create medicine: %v", err)
	}

	if _, err := s.GetQuantity(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err := s.TryDecrement(ctx, "M2", 100)
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 10 {
		t.Fatalf("expected StockError with 10 available, got %v", err)
	}
	if _, err := s.TryDecrement(ctx, "ghost", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown decrement, got %v", err)
	}

	left, err := s.TryDecrement(ctx, "M2", 4)
	if err != nil || left != 6 {
		t.Fatalf("expected 6 left, got %d err=%v", left, err)
	}
	if _, err := s.Increment(ctx, "M2", 0); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	qty, err := s.Increment(ctx, "M2", 9)
	if err != nil || qty != 15 {
		t.Fatalf("expected 15 after restock, got %d err=%v", qty, err)
	}

	medicine, err := s.GetMedicine(ctx, "M2")
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if !medicine.Price.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected exact price 12.50, got %s", medicine.Price)
	}
}

func TestDuplicateMedicineIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := domain.Medicine{ID: "dup", Name: "Dup", Price: decimal.NewFromInt(1), Quantity: 1}
	if _, err := s.CreateMedicine(ctx, m); err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	if _, err := s.CreateMedicine(ctx, m); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCheckoutPersistsBillAndSales(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := seed.Apply(ctx, s, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	engine := billing.New(s, s, billing.Options{})

	bill, err := engine.Checkout(ctx, "staff", []domain.CartLine{
		{MedicineID: "MED-001", Quantity: 3},
		{MedicineID: "MED-004", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !bill.Total.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected total 90, got %s", bill.Total)
	}

	stored, err := s.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if len(stored.Items) != 2 || stored.Items[0].MedicineID != "MED-001" {
		t.Fatalf("unexpected stored items %+v", stored.Items)
	}
	if !stored.RecomputeTotal().Equal(stored.Total) {
		t.Fatalf("stored total %s does not match items", stored.Total)
	}

	bills, err := s.ListBills(ctx, 100)
	if err != nil || len(bills) != 1 || len(bills[0].Items) != 2 {
		t.Fatalf("unexpected bill list %+v err=%v", bills, err)
	}
	sales, err := s.ListSalesSince(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(sales) != 2 {
		t.Fatalf("expected 2 sale records, got %d err=%v", len(sales), err)
	}
	if qty, _ := s.GetQuantity(ctx, "MED-001"); qty != 47 {
		t.Fatalf("expected stock 47, got %d", qty)
	}
}

func TestConcurrentCheckoutsSerializeOnRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateMedicine(ctx, domain.Medicine{ID: "M1", Name: "Tab", Price: decimal.NewFromInt(20), Quantity: 10}); err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	engine := billing.New(s, s, billing.Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Checkout(ctx, "staff", []domain.CartLine{{MedicineID: "M1", Quantity: 6}})
		}(i)
	}
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if errors.Is(err, store.ErrInsufficientStock) {
			rejected++
		} else if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if rejected != 1 {
		t.Fatalf("expected exactly one rejection, got %d", rejected)
	}
	if qty, _ := s.GetQuantity(ctx, "M1"); qty != 4 {
		t.Fatalf("expected stock 4, got %d", qty)
	}
}

func TestCatalogQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := seed.Apply(ctx, s, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	found, err := s.SearchMedicines(ctx, "PARA", 20)
	if err != nil || len(found) != 1 || found[0].ID != "MED-001" {
		t.Fatalf("unexpected search result %+v err=%v", found, err)
	}
	wildcard, _ := s.SearchMedicines(ctx, "%", 20)
	if len(wildcard) != 0 {
		t.Fatalf("expected LIKE wildcards to be escaped, got %d rows", len(wildcard))
	}
	byCompany, _ := s.ListMedicinesByCompany(ctx, "acme pharma")
	if len(byCompany) != 2 {
		t.Fatalf("expected 2 Acme Pharma medicines, got %d", len(byCompany))
	}
	low, _ := s.ListLowStock(ctx, 20)
	if len(low) != 1 || low[0].Name != "Cough Syrup 100ml" {
		t.Fatalf("unexpected low stock %+v", low)
	}
}

func TestUsersAndAttendance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := domain.UserAccount{ID: "u1", Username: "staff", Password: "$2a$hash", Role: domain.RoleStaff, Active: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{ID: "u2", Username: "staff", Role: domain.RoleStaff}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	updated, err := s.UpdateUserProfile(ctx, "u1", domain.ProfileUpdateRequest{Name: "Ravi", Email: "ravi@example.com", Phone: "123"})
	if err != nil || updated.Name != "Ravi" || !updated.Active {
		t.Fatalf("unexpected profile update %+v err=%v", updated, err)
	}
	if err := s.UpdateUserPassword(ctx, "nobody", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	in := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	first, err := s.UpsertCheckIn(ctx, domain.Attendance{UserID: "u1", Username: "staff", Date: "2026-03-02", Status: domain.AttendancePresent, CheckIn: &in})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	later := in.Add(30 * time.Minute)
	second, err := s.UpsertCheckIn(ctx, domain.Attendance{UserID: "u1", Username: "staff", Date: "2026-03-02", Status: domain.AttendanceLeave, CheckIn: &later})
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if first.ID != second.ID || second.Status != domain.AttendanceLeave {
		t.Fatalf("expected upsert of the same day, got %+v then %+v", first, second)
	}

	out, err := s.SetCheckOut(ctx, "u1", "2026-03-02", in.Add(8*time.Hour))
	if err != nil || out.CheckOut == nil {
		t.Fatalf("check out: %+v err=%v", out, err)
	}
	if _, err := s.SetCheckOut(ctx, "u1", "2026-03-03", in); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	report, err := s.ListAttendanceSince(ctx, "2026-03-01")
	if err != nil || len(report) != 1 {
		t.Fatalf("unexpected report %+v err=%v", report, err)
	}
}
