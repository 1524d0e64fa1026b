package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmaflow/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrConflict          = errors.New("already exists")
	ErrStorage           = errors.New("storage error")
)

// StockError reports a rejected decrement. It matches ErrInsufficientStock.
type StockError struct {
	MedicineID string
	Requested  int
	Available  int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for medicine %s: requested %d, available %d", e.MedicineID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StorageError wraps an I/O failure from a backend. It matches ErrStorage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Wrap converts backend errors into StorageError, passing domain sentinels
// and typed store errors through untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrStorage):
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Inventory is the stock bookkeeping contract. TryDecrement and Increment
// must be atomic per medicine id.
type Inventory interface {
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	GetQuantity(ctx context.Context, id string) (int, error)
	TryDecrement(ctx context.Context, id string, qty int) (int, error)
	Increment(ctx context.Context, id string, amount int) (int, error)
}

// Ledger persists the outcome of a checkout.
type Ledger interface {
	SaveSaleRecord(ctx context.Context, record domain.SaleRecord) error
	SaveBill(ctx context.Context, bill domain.Bill) error
	VoidSaleRecords(ctx context.Context, billID string) error
}

type Catalog interface {
	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	SearchMedicines(ctx context.Context, name string, limit int) ([]domain.Medicine, error)
	ListMedicinesByCompany(ctx context.Context, company string) ([]domain.Medicine, error)
	ListLowStock(ctx context.Context, threshold int) ([]domain.Medicine, error)
}

type BillHistory interface {
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	ListBills(ctx context.Context, limit int) ([]domain.Bill, error)
	ListSalesSince(ctx context.Context, since time.Time) ([]domain.SaleRecord, error)
}

type Users interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserProfile(ctx context.Context, id string, update domain.ProfileUpdateRequest) (*domain.UserAccount, error)
}

type AttendanceLog interface {
	UpsertCheckIn(ctx context.Context, record domain.Attendance) (*domain.Attendance, error)
	SetCheckOut(ctx context.Context, userID string, day string, at time.Time) (*domain.Attendance, error)
	ListAttendanceByUser(ctx context.Context, userID string, limit int) ([]domain.Attendance, error)
	ListAttendanceSince(ctx context.Context, day string) ([]domain.Attendance, error)
}

type Repository interface {
	Inventory
	Ledger
	Catalog
	BillHistory
	Users
	AttendanceLog
}
