package memory

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/store/seed"
	"pharmaflow/backend/internal/xid"
)

// medicineRow guards a single medicine. Stock changes lock only the row they
// touch, so checkouts over disjoint medicines never contend.
type medicineRow struct {
	mu       sync.Mutex
	medicine domain.Medicine
}

type Store struct {
	catalogMu sync.RWMutex
	medicines map[string]*medicineRow

	mu         sync.RWMutex
	sales      []domain.SaleRecord
	bills      map[string]domain.Bill
	users      map[string]domain.UserAccount
	attendance map[string]domain.Attendance
}

func New() *Store {
	return &Store{
		medicines:  make(map[string]*medicineRow),
		sales:      make([]domain.SaleRecord, 0, 128),
		bills:      make(map[string]domain.Bill),
		users:      make(map[string]domain.UserAccount),
		attendance: make(map[string]domain.Attendance),
	}
}

func (s *Store) row(id string) (*medicineRow, error) {
	s.catalogMu.RLock()
	r, ok := s.medicines[id]
	s.catalogMu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetMedicine(_ context.Context, id string) (*domain.Medicine, error) {
	r, err := s.row(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	medicine := r.medicine
	r.mu.Unlock()
	return &medicine, nil
}

func (s *Store) GetQuantity(_ context.Context, id string) (int, error) {
	r, err := s.row(id)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.medicine.Quantity, nil
}

func (s *Store) TryDecrement(_ context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, store.ErrInvalidAmount
	}
	r, err := s.row(id)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.medicine.Quantity < qty {
		return r.medicine.Quantity, &store.StockError{MedicineID: id, Requested: qty, Available: r.medicine.Quantity}
	}
	r.medicine.Quantity -= qty
	r.medicine.UpdatedAt = time.Now().UTC()
	return r.medicine.Quantity, nil
}

func (s *Store) Increment(_ context.Context, id string, amount int) (int, error) {
	if amount <= 0 {
		return 0, store.ErrInvalidAmount
	}
	r, err := s.row(id)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if amount > math.MaxInt-r.medicine.Quantity {
		return r.medicine.Quantity, store.ErrInvalidAmount
	}
	r.medicine.Quantity += amount
	r.medicine.UpdatedAt = time.Now().UTC()
	return r.medicine.Quantity, nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Quantity < 0 {
		return nil, store.ErrInvalidAmount
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now

	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if _, exists := s.medicines[medicine.ID]; exists {
		return nil, store.ErrConflict
	}
	s.medicines[medicine.ID] = &medicineRow{medicine: medicine}
	created := medicine
	return &created, nil
}

func (s *Store) snapshot(keep func(domain.Medicine) bool) []domain.Medicine {
	s.catalogMu.RLock()
	rows := make([]*medicineRow, 0, len(s.medicines))
	for _, r := range s.medicines {
		rows = append(rows, r)
	}
	s.catalogMu.RUnlock()

	result := make([]domain.Medicine, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		medicine := r.medicine
		r.mu.Unlock()
		if keep == nil || keep(medicine) {
			result = append(result, medicine)
		}
	}
	slices.SortFunc(result, func(a, b domain.Medicine) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	return s.snapshot(nil), nil
}

func (s *Store) SearchMedicines(_ context.Context, name string, limit int) ([]domain.Medicine, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	result := s.snapshot(func(m domain.Medicine) bool {
		return strings.Contains(strings.ToLower(m.Name), needle)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListMedicinesByCompany(_ context.Context, company string) ([]domain.Medicine, error) {
	company = strings.TrimSpace(company)
	return s.snapshot(func(m domain.Medicine) bool {
		return strings.EqualFold(m.Company, company)
	}), nil
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.Medicine, error) {
	result := s.snapshot(func(m domain.Medicine) bool {
		return m.Quantity < threshold
	})
	slices.SortStableFunc(result, func(a, b domain.Medicine) int {
		return a.Quantity - b.Quantity
	})
	return result, nil
}

func (s *Store) SaveSaleRecord(_ context.Context, record domain.SaleRecord) error {
	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, record)
	return nil
}

func (s *Store) SaveBill(_ context.Context, bill domain.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bills[bill.ID]; exists {
		return store.ErrConflict
	}
	s.bills[bill.ID] = cloneBill(bill)
	return nil
}

func (s *Store) VoidSaleRecords(_ context.Context, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sales[:0]
	for _, record := range s.sales {
		if record.BillID != billID {
			kept = append(kept, record)
		}
	}
	clear(s.sales[len(kept):])
	s.sales = kept
	return nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bill, ok := s.bills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBill(bill)
	return &out, nil
}

func (s *Store) ListBills(_ context.Context, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	result := make([]domain.Bill, 0, len(s.bills))
	for _, bill := range s.bills {
		result = append(result, cloneBill(bill))
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Bill) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListSalesSince(_ context.Context, since time.Time) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.SaleRecord, 0, len(s.sales))
	for _, record := range s.sales {
		if !record.SoldAt.Before(since) {
			result = append(result, record)
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return store.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	s.mu.RUnlock()
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, user := range s.users {
		if user.Username == username {
			user.Password = password
			s.users[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) UpdateUserProfile(_ context.Context, id string, update domain.ProfileUpdateRequest) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Name = update.Name
	user.Email = update.Email
	user.Phone = update.Phone
	s.users[id] = user
	return &user, nil
}

func (s *Store) UpsertCheckIn(_ context.Context, record domain.Attendance) (*domain.Attendance, error) {
	key := attendanceKey(record.UserID, record.Date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.attendance[key]; ok {
		existing.CheckIn = record.CheckIn
		existing.Status = record.Status
		s.attendance[key] = existing
		return cloneAttendance(existing), nil
	}
	if record.ID == "" {
		record.ID = xid.New("att")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.attendance[key] = record
	return cloneAttendance(record), nil
}

func (s *Store) SetCheckOut(_ context.Context, userID string, day string, at time.Time) (*domain.Attendance, error) {
	key := attendanceKey(userID, day)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.attendance[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	checkOut := at
	existing.CheckOut = &checkOut
	s.attendance[key] = existing
	return cloneAttendance(existing), nil
}

func (s *Store) ListAttendanceByUser(_ context.Context, userID string, limit int) ([]domain.Attendance, error) {
	result := s.attendanceWhere(func(a domain.Attendance) bool { return a.UserID == userID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListAttendanceSince(_ context.Context, day string) ([]domain.Attendance, error) {
	return s.attendanceWhere(func(a domain.Attendance) bool { return a.Date >= day }), nil
}

func (s *Store) attendanceWhere(keep func(domain.Attendance) bool) []domain.Attendance {
	s.mu.RLock()
	result := make([]domain.Attendance, 0, len(s.attendance))
	for _, record := range s.attendance {
		if keep(record) {
			result = append(result, *cloneAttendance(record))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(result, func(a, b domain.Attendance) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return result
}

func attendanceKey(userID string, day string) string {
	return userID + "|" + day
}

func cloneBill(src domain.Bill) domain.Bill {
	out := src
	out.Items = slices.Clone(src.Items)
	return out
}

func cloneAttendance(src domain.Attendance) *domain.Attendance {
	out := src
	if src.CheckIn != nil {
		checkIn := *src.CheckIn
		out.CheckIn = &checkIn
	}
	if src.CheckOut != nil {
		checkOut := *src.CheckOut
		out.CheckOut = &checkOut
	}
	return &out
}

// NewSeeded returns a store holding the demo users and medicines.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	s := New()
	if err := seed.Apply(context.Background(), s, logger); err != nil {
		return nil, err
	}
	return s, nil
}
