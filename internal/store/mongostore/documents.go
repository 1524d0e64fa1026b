package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pharmaflow/backend/internal/domain"
)

type medicineDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Company   string               `bson:"company"`
	CompanyLC string               `bson:"company_lc"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	Rack      string               `bson:"rack"`
	Shelf     string               `bson:"shelf"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

type saleDoc struct {
	ID           string               `bson:"_id"`
	BillID       string               `bson:"bill_id"`
	MedicineID   string               `bson:"medicine_id"`
	MedicineName string               `bson:"medicine_name"`
	Quantity     int                  `bson:"qty"`
	LineTotal    primitive.Decimal128 `bson:"line_total"`
	SoldAt       time.Time            `bson:"sold_at"`
}

type billItemDoc struct {
	MedicineID string               `bson:"medicine_id"`
	Name       string               `bson:"name"`
	Quantity   int                  `bson:"qty"`
	Price      primitive.Decimal128 `bson:"price"`
	Total      primitive.Decimal128 `bson:"total"`
}

type billDoc struct {
	ID        string               `bson:"_id"`
	Items     []billItemDoc        `bson:"items"`
	Total     primitive.Decimal128 `bson:"total_amount"`
	CreatedBy string               `bson:"created_by"`
	CreatedAt time.Time            `bson:"created_at"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Phone     string    `bson:"phone"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
}

type attendanceDoc struct {
	ID        string     `bson:"_id"`
	UserID    string     `bson:"user_id"`
	Username  string     `bson:"username"`
	Day       string     `bson:"day"`
	Status    string     `bson:"status"`
	CheckIn   *time.Time `bson:"check_in,omitempty"`
	CheckOut  *time.Time `bson:"check_out,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return out, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", d, err)
	}
	return out, nil
}

func newMedicineDoc(m domain.Medicine) (medicineDoc, error) {
	price, err := toDecimal128(m.Price)
	if err != nil {
		return medicineDoc{}, err
	}
	return medicineDoc{
		ID:        m.ID,
		Name:      m.Name,
		Company:   m.Company,
		CompanyLC: normalizeCompany(m.Company),
		Price:     price,
		Quantity:  m.Quantity,
		Rack:      m.Rack,
		Shelf:     m.Shelf,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (d medicineDoc) toDomain() (domain.Medicine, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Medicine{}, err
	}
	return domain.Medicine{
		ID:        d.ID,
		Name:      d.Name,
		Company:   d.Company,
		Price:     price,
		Quantity:  d.Quantity,
		Rack:      d.Rack,
		Shelf:     d.Shelf,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func newSaleDoc(r domain.SaleRecord) (saleDoc, error) {
	lineTotal, err := toDecimal128(r.LineTotal)
	if err != nil {
		return saleDoc{}, err
	}
	return saleDoc{
		ID:           r.ID,
		BillID:       r.BillID,
		MedicineID:   r.MedicineID,
		MedicineName: r.MedicineName,
		Quantity:     r.Quantity,
		LineTotal:    lineTotal,
		SoldAt:       r.SoldAt,
	}, nil
}

func (d saleDoc) toDomain() (domain.SaleRecord, error) {
	lineTotal, err := fromDecimal128(d.LineTotal)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return domain.SaleRecord{
		ID:           d.ID,
		BillID:       d.BillID,
		MedicineID:   d.MedicineID,
		MedicineName: d.MedicineName,
		Quantity:     d.Quantity,
		LineTotal:    lineTotal,
		SoldAt:       d.SoldAt.UTC(),
	}, nil
}

func newBillDoc(b domain.Bill) (billDoc, error) {
	items := make([]billItemDoc, 0, len(b.Items))
	for _, item := range b.Items {
		price, err := toDecimal128(item.Price)
		if err != nil {
			return billDoc{}, err
		}
		total, err := toDecimal128(item.Total)
		if err != nil {
			return billDoc{}, err
		}
		items = append(items, billItemDoc{
			MedicineID: item.MedicineID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			Price:      price,
			Total:      total,
		})
	}
	total, err := toDecimal128(b.Total)
	if err != nil {
		return billDoc{}, err
	}
	return billDoc{
		ID:        b.ID,
		Items:     items,
		Total:     total,
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
	}, nil
}

func (d billDoc) toDomain() (domain.Bill, error) {
	items := make([]domain.BillItem, 0, len(d.Items))
	for _, item := range d.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return domain.Bill{}, err
		}
		lineTotal, err := fromDecimal128(item.Total)
		if err != nil {
			return domain.Bill{}, err
		}
		items = append(items, domain.BillItem{
			MedicineID: item.MedicineID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			Price:      price,
			Total:      lineTotal,
		})
	}
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return domain.Bill{}, err
	}
	return domain.Bill{
		ID:        d.ID,
		Items:     items,
		Total:     total,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

func (d userDoc) toDomain() domain.UserAccount {
	return domain.UserAccount{
		ID:        d.ID,
		Username:  d.Username,
		Password:  d.Password,
		Role:      d.Role,
		Name:      d.Name,
		Email:     d.Email,
		Phone:     d.Phone,
		Active:    d.Active,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (d attendanceDoc) toDomain() domain.Attendance {
	return domain.Attendance{
		ID:        d.ID,
		UserID:    d.UserID,
		Username:  d.Username,
		Date:      d.Day,
		Status:    d.Status,
		CheckIn:   utcPtr(d.CheckIn),
		CheckOut:  utcPtr(d.CheckOut),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
