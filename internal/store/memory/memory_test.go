package memory

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
)

func newStoreWith(t *testing.T, medicines ...domain.Medicine) *Store {
	t.Helper()
	s := New()
	for _, m := range medicines {
		if _, err := s.CreateMedicine(context.Background(), m); err != nil {
			t.Fatalf("create medicine %s: %v", m.ID, err)
		}
	}
	return s
}

func TestGetQuantityUnknownMedicine(t *testing.T) {
	s := New()
	if _, err := s.GetQuantity(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTryDecrementLeavesStockOnShortage(t *testing.T) {
	ctx := context.Background()
	s := newStoreWith(t, domain.Medicine{ID: "M2", Name: "Syrup", Price: decimal.NewFromInt(5), Quantity: 10})

	_, err := s.TryDecrement(ctx, "M2", 100)
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if stockErr.MedicineID != "M2" || stockErr.Available != 10 || stockErr.Requested != 100 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}
	if qty, _ := s.GetQuantity(ctx, "M2"); qty != 10 {
		t.Fatalf("expected stock 10, got %d", qty)
	}

	left, err := s.TryDecrement(ctx, "M2", 10)
	if err != nil || left != 0 {
		t.Fatalf("expected exact decrement to reach 0, got %d err=%v", left, err)
	}
}

func TestIncrementRequiresPositiveAmount(t *testing.T) {
	ctx := context.Background()
	s := newStoreWith(t, domain.Medicine{ID: "M1", Name: "Tab", Quantity: 1})

	for _, amount := range []int{0, -3} {
		if _, err := s.Increment(ctx, "M1", amount); !errors.Is(err, store.ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	qty, err := s.Increment(ctx, "M1", 4)
	if err != nil || qty != 5 {
		t.Fatalf("expected 5 after restock, got %d err=%v", qty, err)
	}
}

func TestIncrementRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	s := newStoreWith(t, domain.Medicine{ID: "M1", Name: "Tab", Quantity: 50})

	if _, err := s.Increment(ctx, "M1", math.MaxInt); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on overflow, got %v", err)
	}
	qty, err := s.GetQuantity(ctx, "M1")
	if err != nil {
		t.Fatalf("get quantity: %v", err)
	}
	if qty != 50 {
		t.Fatalf("expected stock untouched at 50, got %d", qty)
	}
	if qty, err := s.Increment(ctx, "M1", math.MaxInt-50); err != nil || qty != math.MaxInt {
		t.Fatalf("expected exact fill to MaxInt, got %d (%v)", qty, err)
	}
}

func TestTryDecrementIsAtomicUnderContention(t *testing.T) {
	ctx := context.Background()
	s := newStoreWith(t, domain.Medicine{ID: "M1", Name: "Tab", Quantity: 50})

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.TryDecrement(ctx, "M1", 1); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if succeeded.Load() != 50 {
		t.Fatalf("expected exactly 50 successful decrements, got %d", succeeded.Load())
	}
	if qty, _ := s.GetQuantity(ctx, "M1"); qty != 0 {
		t.Fatalf("expected stock 0, got %d", qty)
	}
}

func TestLowStockIsStrictlyBelowThresholdAscending(t *testing.T) {
	s := newStoreWith(t,
		domain.Medicine{ID: "a", Name: "A", Quantity: 20},
		domain.Medicine{ID: "b", Name: "B", Quantity: 3},
		domain.Medicine{ID: "c", Name: "C", Quantity: 19},
		domain.Medicine{ID: "d", Name: "D", Quantity: 100},
	)
	low, err := s.ListLowStock(context.Background(), 20)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 2 || low[0].ID != "b" || low[1].ID != "c" {
		t.Fatalf("unexpected low stock list %+v", low)
	}
}

func TestSearchIsCaseInsensitiveAndLimited(t *testing.T) {
	s := newStoreWith(t,
		domain.Medicine{ID: "1", Name: "Paracetamol 500mg", Company: "Acme Pharma"},
		domain.Medicine{ID: "2", Name: "paracetamol syrup", Company: "HealthCorp"},
		domain.Medicine{ID: "3", Name: "Aspirin", Company: "acme pharma"},
	)
	ctx := context.Background()

	found, _ := s.SearchMedicines(ctx, "PARA", 20)
	if len(found) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(found))
	}
	limited, _ := s.SearchMedicines(ctx, "", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
	byCompany, _ := s.ListMedicinesByCompany(ctx, "Acme Pharma")
	if len(byCompany) != 2 {
		t.Fatalf("expected 2 medicines for company, got %d", len(byCompany))
	}
}

func TestVoidSaleRecordsRemovesOnlyThatBill(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	_ = s.SaveSaleRecord(ctx, domain.SaleRecord{BillID: "b1", MedicineID: "M1", Quantity: 1, SoldAt: now})
	_ = s.SaveSaleRecord(ctx, domain.SaleRecord{BillID: "b2", MedicineID: "M1", Quantity: 2, SoldAt: now})
	_ = s.SaveSaleRecord(ctx, domain.SaleRecord{BillID: "b1", MedicineID: "M2", Quantity: 3, SoldAt: now})

	if err := s.VoidSaleRecords(ctx, "b1"); err != nil {
		t.Fatalf("void: %v", err)
	}
	sales, _ := s.ListSalesSince(ctx, now.Add(-time.Minute))
	if len(sales) != 1 || sales[0].BillID != "b2" {
		t.Fatalf("expected only b2 sales to remain, got %+v", sales)
	}
}

func TestSaveBillRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := New()
	bill := domain.Bill{ID: "bill-1", Total: decimal.NewFromInt(10), CreatedAt: time.Now().UTC()}
	if err := s.SaveBill(ctx, bill); err != nil {
		t.Fatalf("save bill: %v", err)
	}
	if err := s.SaveBill(ctx, bill); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "staff", Role: domain.RoleStaff}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "staff", Role: domain.RoleStaff}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCheckInUpsertsSameDay(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	a, err := s.UpsertCheckIn(ctx, domain.Attendance{UserID: "u1", Username: "staff", Date: "2026-03-02", Status: domain.AttendancePresent, CheckIn: &first})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	b, err := s.UpsertCheckIn(ctx, domain.Attendance{UserID: "u1", Username: "staff", Date: "2026-03-02", Status: domain.AttendanceLeave, CheckIn: &second})
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if a.ID != b.ID || b.Status != domain.AttendanceLeave || !b.CheckIn.Equal(second) {
		t.Fatalf("expected same record updated, got %+v then %+v", a, b)
	}

	if _, err := s.SetCheckOut(ctx, "u1", "2026-03-03", second); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without check-in, got %v", err)
	}
	records, _ := s.ListAttendanceByUser(ctx, "u1", 30)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestNewSeededLoadsDemoData(t *testing.T) {
	s, err := NewSeeded(nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()
	users, _ := s.ListUsers(ctx)
	if len(users) != 3 {
		t.Fatalf("expected 3 seeded users, got %d", len(users))
	}
	qty, err := s.GetQuantity(ctx, "MED-001")
	if err != nil || qty != 50 {
		t.Fatalf("expected seeded paracetamol stock 50, got %d err=%v", qty, err)
	}
}
