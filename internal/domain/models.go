package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLeave   = "leave"
)

// MaxRestock bounds a single restock or opening stock so quantities stay
// inside every backend's integer column.
const MaxRestock = 100000

// DayLayout is the calendar-day key used for attendance and sales grouping.
const DayLayout = "2006-01-02"

type Medicine struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Company   string          `json:"company" db:"company"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Rack      string          `json:"rack" db:"rack"`
	Shelf     string          `json:"shelf" db:"shelf"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type MedicineCreateRequest struct {
	Name     string          `json:"name"`
	Company  string          `json:"company"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Rack     string          `json:"rack"`
	Shelf    string          `json:"shelf"`
}

type RestockRequest struct {
	Amount int `json:"amount"`
}

type StockLevel struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

type LowStockItem struct {
	Medicine
	Threshold        int `json:"threshold"`
	SuggestedReorder int `json:"suggested_reorder"`
}

// CartLine is one client-submitted line. Price and Name are what the client
// saw when the line was added; checkout never trusts them.
type CartLine struct {
	MedicineID string           `json:"medicine_id"`
	Quantity   int              `json:"qty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type CheckoutRequest struct {
	Items []CartLine `json:"items"`
}

type CheckoutResponse struct {
	Success     bool            `json:"success"`
	BillID      string          `json:"bill_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemsCount  int             `json:"items_count"`
	Bill        *Bill           `json:"bill"`
}

type SaleRecord struct {
	ID           string          `json:"id" db:"id"`
	BillID       string          `json:"bill_id" db:"bill_id"`
	MedicineID   string          `json:"medicine_id" db:"medicine_id"`
	MedicineName string          `json:"medicine_name" db:"medicine_name"`
	Quantity     int             `json:"qty" db:"qty"`
	LineTotal    decimal.Decimal `json:"total" db:"line_total"`
	SoldAt       time.Time       `json:"sold_at" db:"sold_at"`
}

type BillItem struct {
	MedicineID string          `json:"medicine_id" db:"medicine_id"`
	Name       string          `json:"name" db:"name"`
	Quantity   int             `json:"qty" db:"qty"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Total      decimal.Decimal `json:"total" db:"total"`
}

type Bill struct {
	ID        string          `json:"id" db:"id"`
	Items     []BillItem      `json:"items"`
	Total     decimal.Decimal `json:"total_amount" db:"total_amount"`
	CreatedBy string          `json:"created_by" db:"created_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// RecomputeTotal sums the persisted line totals of the bill.
func (b Bill) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

type Analytics struct {
	TotalMedicines int               `json:"totalMedicines"`
	TotalStock     int               `json:"totalStock"`
	TotalStaff     int               `json:"totalStaff"`
	WeeklySales    []decimal.Decimal `json:"weeklySales"`
	WeeklyLabels   []string          `json:"weeklyLabels"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	Role        string       `json:"role"`
	ExpiresAt   string       `json:"expires_at"`
	User        StaffProfile `json:"user"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	AdminPIN string `json:"admin_pin,omitempty"`
}

type PasswordResetRequest struct {
	Username string `json:"username"`
}

type PasswordResetConfirmRequest struct {
	Username    string `json:"username"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

// UserAccount is the persistence model for credentials and profile data.
type UserAccount struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Phone     string    `db:"phone"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (u UserAccount) Profile() StaffProfile {
	return StaffProfile{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type StaffProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProfileUpdateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Attendance struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Username  string     `json:"username" db:"username"`
	Date      string     `json:"date" db:"day"`
	Status    string     `json:"status" db:"status"`
	CheckIn   *time.Time `json:"check_in,omitempty" db:"check_in"`
	CheckOut  *time.Time `json:"check_out,omitempty" db:"check_out"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type CheckInRequest struct {
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"`
}

type CheckOutRequest struct {
	UserID string `json:"user_id,omitempty"`
}
