package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
)

type Target interface {
	store.Catalog
	store.Users
}

// Apply seeds demo users and medicines into an empty store. Collections that
// already hold data are left alone.
func Apply(ctx context.Context, target Target, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	users, err := target.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		accounts, err := Users(logger)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			if err := target.CreateUser(ctx, account); err != nil {
				return fmt.Errorf("seed user %s: %w", account.Username, err)
			}
		}
		logger.Info("seeded users", zap.Int("count", len(accounts)))
	}

	medicines, err := target.ListMedicines(ctx)
	if err != nil {
		return fmt.Errorf("list medicines: %w", err)
	}
	if len(medicines) == 0 {
		for _, medicine := range Medicines() {
			if _, err := target.CreateMedicine(ctx, medicine); err != nil {
				return fmt.Errorf("seed medicine %s: %w", medicine.Name, err)
			}
		}
		logger.Info("seeded medicines", zap.Int("count", len(Medicines())))
	}
	return nil
}

// Users builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_STAFF_PASSWORD; dev defaults are used with a warning when unset.
func Users(logger *zap.Logger) ([]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 3)
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
		name     string
		email    string
		phone    string
	}{
		{"usr-admin", "admin", adminPwd, domain.RoleAdmin, "Store Admin", "admin@pharmacy.local", "9000000001"},
		{"usr-staff", "staff", staffPwd, domain.RoleStaff, "Ravi Kumar", "ravi@pharmacy.local", "9000000002"},
		{"usr-staff2", "staff2", staffPwd, domain.RoleStaff, "Anita Sharma", "anita@pharmacy.local", "9000000003"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Name:      u.name,
			Email:     u.email,
			Phone:     u.phone,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users, nil
}

func Medicines() []domain.Medicine {
	return []domain.Medicine{
		{ID: "MED-001", Name: "Paracetamol 500mg", Company: "Acme Pharma", Price: decimal.NewFromInt(20), Quantity: 50, Rack: "R1", Shelf: "S1"},
		{ID: "MED-002", Name: "Amoxicillin 250mg", Company: "HealthCorp", Price: decimal.NewFromInt(45), Quantity: 30, Rack: "R1", Shelf: "S2"},
		{ID: "MED-003", Name: "Cough Syrup 100ml", Company: "Wellness Ltd", Price: decimal.NewFromInt(90), Quantity: 10, Rack: "R2", Shelf: "S1"},
		{ID: "MED-004", Name: "Aspirin 500mg", Company: "Acme Pharma", Price: decimal.NewFromInt(15), Quantity: 25, Rack: "R2", Shelf: "S2"},
		{ID: "MED-005", Name: "Ibuprofen 200mg", Company: "HealthCorp", Price: decimal.NewFromInt(25), Quantity: 40, Rack: "R3", Shelf: "S1"},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
