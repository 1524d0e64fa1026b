package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/xid"
)

// Dialect carries what differs between the SQL engines behind Store.
type Dialect struct {
	Name              string
	MoneyType         string
	TimestampType     string
	IsUniqueViolation func(error) bool
}

// Store implements store.Repository on any sqlx database. Stock changes are
// single conditional UPDATE statements, so the row itself is the lock.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

func New(db *sqlx.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range renderSchema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return store.Wrap("migrate", err)
		}
	}
	return nil
}

const medicineColumns = `id, name, company, price, quantity, rack, shelf, created_at, updated_at`

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	var medicine domain.Medicine
	err := s.db.GetContext(ctx, &medicine, s.db.Rebind(`SELECT `+medicineColumns+` FROM medicines WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get medicine", err)
	}
	return &medicine, nil
}

func (s *Store) GetQuantity(ctx context.Context, id string) (int, error) {
	var qty int
	err := s.db.GetContext(ctx, &qty, s.db.Rebind(`SELECT quantity FROM medicines WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, store.Wrap("get quantity", err)
	}
	return qty, nil
}

func (s *Store) TryDecrement(ctx context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, store.ErrInvalidAmount
	}

	var left int
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		UPDATE medicines
		SET quantity = quantity - ?, updated_at = ?
		WHERE id = ? AND quantity >= ?
		RETURNING quantity
	`), qty, time.Now().UTC(), id, qty).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, store.Wrap("decrement stock", err)
	}

	available, err := s.GetQuantity(ctx, id)
	if err != nil {
		return 0, err
	}
	return available, &store.StockError{MedicineID: id, Requested: qty, Available: available}
}

func (s *Store) Increment(ctx context.Context, id string, amount int) (int, error) {
	if amount <= 0 {
		return 0, store.ErrInvalidAmount
	}

	var qty int
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		UPDATE medicines
		SET quantity = quantity + ?, updated_at = ?
		WHERE id = ?
		RETURNING quantity
	`), amount, time.Now().UTC(), id).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, store.Wrap("increment stock", err)
	}
	return qty, nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
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

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO medicines (`+medicineColumns+`)
		VALUES (:id, :name, :company, :price, :quantity, :rack, :shelf, :created_at, :updated_at)
	`, medicine)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, store.Wrap("create medicine", err)
	}
	created := medicine
	return &created, nil
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.selectMedicines(ctx, "list medicines", `SELECT `+medicineColumns+` FROM medicines ORDER BY name`)
}

func (s *Store) SearchMedicines(ctx context.Context, name string, limit int) ([]domain.Medicine, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(name))) + "%"
	return s.selectMedicines(ctx, "search medicines", `
		SELECT `+medicineColumns+` FROM medicines
		WHERE LOWER(name) LIKE ? ESCAPE '\'
		ORDER BY name
		LIMIT ?
	`, pattern, limit)
}

func (s *Store) ListMedicinesByCompany(ctx context.Context, company string) ([]domain.Medicine, error) {
	return s.selectMedicines(ctx, "list medicines by company", `
		SELECT `+medicineColumns+` FROM medicines
		WHERE LOWER(company) = ?
		ORDER BY name
	`, strings.ToLower(strings.TrimSpace(company)))
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.Medicine, error) {
	return s.selectMedicines(ctx, "list low stock", `
		SELECT `+medicineColumns+` FROM medicines
		WHERE quantity < ?
		ORDER BY quantity ASC, name ASC
	`, threshold)
}

func (s *Store) selectMedicines(ctx context.Context, op string, query string, args ...any) ([]domain.Medicine, error) {
	medicines := make([]domain.Medicine, 0, 32)
	if err := s.db.SelectContext(ctx, &medicines, s.db.Rebind(query), args...); err != nil {
		return nil, store.Wrap(op, err)
	}
	return medicines, nil
}

func (s *Store) SaveSaleRecord(ctx context.Context, record domain.SaleRecord) error {
	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sale_records (id, bill_id, medicine_id, medicine_name, qty, line_total, sold_at)
		VALUES (:id, :bill_id, :medicine_id, :medicine_name, :qty, :line_total, :sold_at)
	`, record)
	return store.Wrap("save sale record", err)
}

func (s *Store) SaveBill(ctx context.Context, bill domain.Bill) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Wrap("save bill", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO bills (id, total_amount, created_by, created_at)
		VALUES (?, ?, ?, ?)
	`), bill.ID, bill.Total, bill.CreatedBy, bill.CreatedAt)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return store.Wrap("save bill", err)
	}

	for i, item := range bill.Items {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO bill_items (bill_id, line_no, medicine_id, name, qty, price, total)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), bill.ID, i, item.MedicineID, item.Name, item.Quantity, item.Price, item.Total)
		if err != nil {
			return store.Wrap("save bill item", err)
		}
	}

	return store.Wrap("save bill", tx.Commit())
}

func (s *Store) VoidSaleRecords(ctx context.Context, billID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sale_records WHERE bill_id = ?`), billID)
	return store.Wrap("void sale records", err)
}

type billItemRow struct {
	BillID string `db:"bill_id"`
	LineNo int    `db:"line_no"`
	domain.BillItem
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.GetContext(ctx, &bill, s.db.Rebind(`
		SELECT id, total_amount, created_by, created_at FROM bills WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get bill", err)
	}

	bills := []domain.Bill{bill}
	if err := s.attachItems(ctx, bills); err != nil {
		return nil, err
	}
	return &bills[0], nil
}

func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit <= 0 {
		limit = 100
	}
	bills := make([]domain.Bill, 0, limit)
	err := s.db.SelectContext(ctx, &bills, s.db.Rebind(`
		SELECT id, total_amount, created_by, created_at FROM bills
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, store.Wrap("list bills", err)
	}
	if err := s.attachItems(ctx, bills); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) attachItems(ctx context.Context, bills []domain.Bill) error {
	if len(bills) == 0 {
		return nil
	}
	ids := make([]string, 0, len(bills))
	for _, bill := range bills {
		ids = append(ids, bill.ID)
	}

	query, args, err := sqlx.In(`
		SELECT bill_id, line_no, medicine_id, name, qty, price, total
		FROM bill_items
		WHERE bill_id IN (?)
		ORDER BY bill_id, line_no
	`, ids)
	if err != nil {
		return store.Wrap("list bill items", err)
	}
	rows := make([]billItemRow, 0, len(ids)*2)
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return store.Wrap("list bill items", err)
	}

	byBill := make(map[string][]domain.BillItem, len(bills))
	for _, row := range rows {
		byBill[row.BillID] = append(byBill[row.BillID], row.BillItem)
	}
	for i := range bills {
		bills[i].Items = byBill[bills[i].ID]
		if bills[i].Items == nil {
			bills[i].Items = []domain.BillItem{}
		}
	}
	return nil
}

func (s *Store) ListSalesSince(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	records := make([]domain.SaleRecord, 0, 64)
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`
		SELECT id, bill_id, medicine_id, medicine_name, qty, line_total, sold_at
		FROM sale_records
		WHERE sold_at >= ?
		ORDER BY sold_at ASC
	`), since.UTC())
	if err != nil {
		return nil, store.Wrap("list sales", err)
	}
	return records, nil
}

const userColumns = `id, username, password, role, name, email, phone, active, created_at`

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO app_users (`+userColumns+`)
		VALUES (:id, :username, :password, :role, :name, :email, :phone, :active, :created_at)
	`, user)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return store.Wrap("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM app_users ORDER BY username ASC`); err != nil {
		return nil, store.Wrap("list users", err)
	}
	return users, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT `+userColumns+` FROM app_users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get user", err)
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE app_users SET password = ? WHERE username = ?`), password, username)
	if err != nil {
		return store.Wrap("update password", err)
	}
	return requireAffected(res, "update password")
}

func (s *Store) UpdateUserProfile(ctx context.Context, id string, update domain.ProfileUpdateRequest) (*domain.UserAccount, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE app_users SET name = ?, email = ?, phone = ? WHERE id = ?
	`), update.Name, update.Email, update.Phone, id)
	if err != nil {
		return nil, store.Wrap("update profile", err)
	}
	if err := requireAffected(res, "update profile"); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

const attendanceColumns = `id, user_id, username, day, status, check_in, check_out, created_at`

func (s *Store) UpsertCheckIn(ctx context.Context, record domain.Attendance) (*domain.Attendance, error) {
	if record.ID == "" {
		record.ID = xid.New("att")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var out domain.Attendance
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO attendance (id, user_id, username, day, status, check_in, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, day)
		DO UPDATE SET check_in = excluded.check_in, status = excluded.status
		RETURNING `+attendanceColumns+`
	`), record.ID, record.UserID, record.Username, record.Date, record.Status, record.CheckIn, record.CreatedAt).StructScan(&out)
	if err != nil {
		return nil, store.Wrap("check in", err)
	}
	return &out, nil
}

func (s *Store) SetCheckOut(ctx context.Context, userID string, day string, at time.Time) (*domain.Attendance, error) {
	var out domain.Attendance
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		UPDATE attendance SET check_out = ?
		WHERE user_id = ? AND day = ?
		RETURNING `+attendanceColumns+`
	`), at.UTC(), userID, day).StructScan(&out)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("check out", err)
	}
	return &out, nil
}

func (s *Store) ListAttendanceByUser(ctx context.Context, userID string, limit int) ([]domain.Attendance, error) {
	if limit <= 0 {
		limit = 30
	}
	records := make([]domain.Attendance, 0, limit)
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`
		SELECT `+attendanceColumns+` FROM attendance
		WHERE user_id = ?
		ORDER BY day DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, store.Wrap("list attendance", err)
	}
	return records, nil
}

func (s *Store) ListAttendanceSince(ctx context.Context, day string) ([]domain.Attendance, error) {
	records := make([]domain.Attendance, 0, 64)
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`
		SELECT `+attendanceColumns+` FROM attendance
		WHERE day >= ?
		ORDER BY day DESC, username ASC
	`), day)
	if err != nil {
		return nil, store.Wrap("attendance report", err)
	}
	return records, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
