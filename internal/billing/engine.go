package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/xid"
)

type Phase string

const (
	PhaseValidating  Phase = "validating"
	PhaseReserving   Phase = "reserving"
	PhaseCommitting  Phase = "committing"
	PhaseCommitted   Phase = "committed"
	PhaseRollingBack Phase = "rolling_back"
	PhaseAborted     Phase = "aborted"
)

const defaultTimeout = 15 * time.Second

type Options struct {
	Logger *zap.Logger
	// Timeout bounds the store work of one checkout once stock is touched.
	// That work runs detached from the caller's context.
	Timeout      time.Duration
	Now          func() time.Time
	OnTransition func(Phase)
}

// Engine turns a cart into stock decrements, sale records and a bill as one
// all-or-nothing unit.
type Engine struct {
	inventory    store.Inventory
	ledger       store.Ledger
	logger       *zap.Logger
	timeout      time.Duration
	now          func() time.Time
	onTransition func(Phase)
}

func New(inventory store.Inventory, ledger store.Ledger, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		inventory:    inventory,
		ledger:       ledger,
		logger:       opts.Logger.Named("billing"),
		timeout:      opts.Timeout,
		now:          opts.Now,
		onTransition: opts.OnTransition,
	}
}

type pricedLine struct {
	medicine domain.Medicine
	qty      int
}

type reservation struct {
	medicineID string
	qty        int
}

// Checkout validates the cart, reserves stock line by line and persists the
// sale records and bill. Any failure releases every reservation made so far.
// Once stock has been touched the caller's cancellation only stops further
// reservations; rollback and commit always run to completion.
func (e *Engine) Checkout(ctx context.Context, cashier string, cart []domain.CartLine) (*domain.Bill, error) {
	e.enter(PhaseValidating)
	lines, err := e.validate(ctx, cart)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	e.enter(PhaseReserving)
	reserved := make([]reservation, 0, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, e.abort(opCtx, reserved, "", err)
		}
		if _, err := e.inventory.TryDecrement(opCtx, line.medicine.ID, line.qty); err != nil {
			return nil, e.abort(opCtx, reserved, "", reserveError(i, line.medicine.ID, err))
		}
		reserved = append(reserved, reservation{medicineID: line.medicine.ID, qty: line.qty})
	}

	e.enter(PhaseCommitting)
	bill, sales := e.buildBill(cashier, lines)
	if err := e.commit(opCtx, bill, sales); err != nil {
		return nil, e.abort(opCtx, reserved, bill.ID, err)
	}

	e.enter(PhaseCommitted)
	e.logger.Info("checkout committed",
		zap.String("bill_id", bill.ID),
		zap.String("cashier", cashier),
		zap.Int("lines", len(bill.Items)),
		zap.String("total", bill.Total.String()),
	)
	return bill, nil
}

func (e *Engine) validate(ctx context.Context, cart []domain.CartLine) ([]pricedLine, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	for i, line := range cart {
		id := strings.TrimSpace(line.MedicineID)
		switch {
		case id == "":
			return nil, &LineError{Line: i, Reason: "medicine id is required"}
		case line.Quantity <= 0:
			return nil, &LineError{Line: i, MedicineID: id, Reason: "quantity must be positive"}
		case line.Price != nil && line.Price.IsNegative():
			return nil, &LineError{Line: i, MedicineID: id, Reason: "price must not be negative"}
		}
	}

	lines := make([]pricedLine, 0, len(cart))
	for i, line := range cart {
		id := strings.TrimSpace(line.MedicineID)
		medicine, err := e.inventory.GetMedicine(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &LineError{Line: i, MedicineID: id, Reason: "unknown medicine"}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &PersistenceError{Op: "resolve medicine", Err: err}
		}
		if medicine.Price.IsNegative() {
			return nil, &LineError{Line: i, MedicineID: id, Reason: "price must not be negative"}
		}
		lines = append(lines, pricedLine{medicine: *medicine, qty: line.Quantity})
	}
	return lines, nil
}

func reserveError(line int, medicineID string, err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return err
	case errors.Is(err, store.ErrNotFound):
		return &LineError{Line: line, MedicineID: medicineID, Reason: "unknown medicine"}
	case errors.Is(err, store.ErrInvalidAmount):
		return &LineError{Line: line, MedicineID: medicineID, Reason: "quantity must be positive"}
	default:
		return &PersistenceError{Op: "reserve stock", Err: err}
	}
}

func (e *Engine) buildBill(cashier string, lines []pricedLine) (*domain.Bill, []domain.SaleRecord) {
	now := e.now()
	bill := &domain.Bill{
		ID:        xid.New("bill"),
		Items:     make([]domain.BillItem, 0, len(lines)),
		Total:     decimal.Zero,
		CreatedBy: cashier,
		CreatedAt: now,
	}
	sales := make([]domain.SaleRecord, 0, len(lines))
	for _, line := range lines {
		lineTotal := line.medicine.Price.Mul(decimal.NewFromInt(int64(line.qty)))
		bill.Total = bill.Total.Add(lineTotal)
		bill.Items = append(bill.Items, domain.BillItem{
			MedicineID: line.medicine.ID,
			Name:       line.medicine.Name,
			Quantity:   line.qty,
			Price:      line.medicine.Price,
			Total:      lineTotal,
		})
		sales = append(sales, domain.SaleRecord{
			ID:           xid.New("sale"),
			BillID:       bill.ID,
			MedicineID:   line.medicine.ID,
			MedicineName: line.medicine.Name,
			Quantity:     line.qty,
			LineTotal:    lineTotal,
			SoldAt:       now,
		})
	}
	return bill, sales
}

// commit writes the sale records and then the bill. On failure it removes
// the sale records already written for this bill.
func (e *Engine) commit(ctx context.Context, bill *domain.Bill, sales []domain.SaleRecord) error {
	for _, record := range sales {
		if err := e.ledger.SaveSaleRecord(ctx, record); err != nil {
			return e.voidSales(ctx, &PersistenceError{Op: "save sale record", BillID: bill.ID, Err: err})
		}
	}
	if err := e.ledger.SaveBill(ctx, *bill); err != nil {
		return e.voidSales(ctx, &PersistenceError{Op: "save bill", BillID: bill.ID, Err: err})
	}
	return nil
}

func (e *Engine) voidSales(ctx context.Context, cause *PersistenceError) error {
	if err := e.ledger.VoidSaleRecords(ctx, cause.BillID); err != nil {
		cause.Err = errors.Join(cause.Err, err)
		cause.Inconsistent = true
		e.logger.Error("sale records left without bill",
			zap.String("bill_id", cause.BillID),
			zap.Bool("inconsistency", true),
			zap.Error(err),
		)
	}
	return cause
}

// abort releases reservations in reverse order. A failed release is escalated
// to a PersistenceError flagged as inconsistent.
func (e *Engine) abort(ctx context.Context, reserved []reservation, billID string, cause error) error {
	e.enter(PhaseRollingBack)
	var failed []error
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if _, err := e.inventory.Increment(ctx, r.medicineID, r.qty); err != nil {
			failed = append(failed, err)
			e.logger.Error("stock rollback failed",
				zap.String("medicine_id", r.medicineID),
				zap.Int("qty", r.qty),
				zap.String("bill_id", billID),
				zap.Bool("inconsistency", true),
				zap.Error(err),
			)
		}
	}
	e.enter(PhaseAborted)

	if len(failed) == 0 {
		e.logger.Warn("checkout aborted", zap.String("bill_id", billID), zap.Int("released", len(reserved)), zap.Error(cause))
		return cause
	}
	return &PersistenceError{
		Op:           "rollback",
		BillID:       billID,
		Err:          errors.Join(append([]error{cause}, failed...)...),
		Inconsistent: true,
	}
}

func (e *Engine) enter(phase Phase) {
	e.logger.Debug("checkout phase", zap.String("phase", string(phase)))
	if e.onTransition != nil {
		e.onTransition(phase)
	}
}
