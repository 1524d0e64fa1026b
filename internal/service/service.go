package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaflow/backend/internal/billing"
	"pharmaflow/backend/internal/cache"
	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/events"
	"pharmaflow/backend/internal/metrics"
	"pharmaflow/backend/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)

const (
	searchLimit     = 20
	maxBillsListed  = 100
	recordsPerUser  = 30
	reportDays      = 30
	analyticsWindow = 7
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache             cache.AnalyticsCache
	Publisher         events.Publisher
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
	LowStockThreshold int
	AnalyticsTTL      time.Duration
	Now               func() time.Time
}

type Service struct {
	repo              store.Repository
	engine            *billing.Engine
	cache             cache.AnalyticsCache
	publisher         events.Publisher
	metrics           *metrics.Metrics
	logger            *zap.Logger
	lowStockThreshold int
	analyticsTTL      time.Duration
	now               func() time.Time
}

func New(repo store.Repository, engine *billing.Engine, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopAnalyticsCache{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LowStockThreshold < 1 {
		opts.LowStockThreshold = 20
	}
	if opts.AnalyticsTTL <= 0 {
		opts.AnalyticsTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:              repo,
		engine:            engine,
		cache:             opts.Cache,
		publisher:         opts.Publisher,
		metrics:           opts.Metrics,
		logger:            opts.Logger.Named("service"),
		lowStockThreshold: opts.LowStockThreshold,
		analyticsTTL:      opts.AnalyticsTTL,
		now:               opts.Now,
	}
}

func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.repo.ListMedicines(ctx)
}

func (s *Service) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: medicine id is required", ErrInvalidInput)
	}
	return s.repo.GetMedicine(ctx, id)
}

func (s *Service) SearchMedicines(ctx context.Context, name string) ([]domain.Medicine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.repo.SearchMedicines(ctx, name, searchLimit)
}

func (s *Service) MedicinesByCompany(ctx context.Context, company string) ([]domain.Medicine, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("%w: company is required", ErrInvalidInput)
	}
	return s.repo.ListMedicinesByCompany(ctx, company)
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (*domain.Medicine, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Company = strings.TrimSpace(req.Company)
	switch {
	case req.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case req.Price.IsNegative():
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case req.Quantity < 0:
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	case req.Quantity > domain.MaxRestock:
		return nil, fmt.Errorf("%w: quantity must not exceed %d", ErrInvalidInput, domain.MaxRestock)
	}

	created, err := s.repo.CreateMedicine(ctx, domain.Medicine{
		Name:     req.Name,
		Company:  req.Company,
		Price:    req.Price,
		Quantity: req.Quantity,
		Rack:     strings.TrimSpace(req.Rack),
		Shelf:    strings.TrimSpace(req.Shelf),
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAnalytics(ctx)
	return created, nil
}

func (s *Service) Restock(ctx context.Context, id string, amount int) (domain.StockLevel, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StockLevel{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: medicine id is required", ErrInvalidInput)
	}
	if amount > domain.MaxRestock {
		return domain.StockLevel{}, fmt.Errorf("%w: amount must not exceed %d", ErrInvalidInput, domain.MaxRestock)
	}

	qty, err := s.repo.Increment(ctx, id, amount)
	if err != nil {
		return domain.StockLevel{}, err
	}
	s.logger.Info("medicine restocked", zap.String("medicine_id", id), zap.Int("amount", amount), zap.Int("quantity", qty))
	s.invalidateAnalytics(ctx)
	return domain.StockLevel{MedicineID: id, Quantity: qty}, nil
}

// LowStock lists medicines strictly below the threshold, lowest quantity
// first, each with a reorder suggestion up to twice the threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	medicines, err := s.repo.ListLowStock(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, err
	}

	target := s.lowStockThreshold * 2
	items := make([]domain.LowStockItem, 0, len(medicines))
	for _, medicine := range medicines {
		items = append(items, domain.LowStockItem{
			Medicine:         medicine,
			Threshold:        s.lowStockThreshold,
			SuggestedReorder: target - medicine.Quantity,
		})
	}
	return items, nil
}

// Checkout runs the billing engine for the acting user. Side effects after a
// committed bill (event, cache invalidation) never change the result.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	cashier := "system"
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		cashier = actor.Username
	}

	started := time.Now()
	bill, err := s.engine.Checkout(ctx, cashier, req.Items)
	s.metrics.ObserveCheckout(checkoutOutcome(err), time.Since(started))
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.publishCommitted(ctx, *bill)
	s.invalidateAnalytics(context.WithoutCancel(ctx))

	return domain.CheckoutResponse{
		Success:     true,
		BillID:      bill.ID,
		TotalAmount: bill.Total,
		ItemsCount:  len(bill.Items),
		Bill:        bill,
	}, nil
}

func (s *Service) publishCommitted(ctx context.Context, bill domain.Bill) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishBillCommitted(pubCtx, bill); err != nil {
		s.logger.Warn("publish bill event failed", zap.String("bill_id", bill.ID), zap.Error(err))
	}
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, billing.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, billing.ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "persistence_failure"
	}
}

func (s *Service) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit < 1 || limit > maxBillsListed {
		limit = maxBillsListed
	}
	return s.repo.ListBills(ctx, limit)
}

func (s *Service) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: bill id is required", ErrInvalidInput)
	}
	return s.repo.GetBill(ctx, id)
}

// Analytics returns the dashboard snapshot, served from cache while fresh.
func (s *Service) Analytics(ctx context.Context) (*domain.Analytics, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	if cached, ok, err := s.cache.Get(ctx, cache.AnalyticsKey); err != nil {
		s.logger.Warn("analytics cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	snapshot, err := s.buildAnalytics(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cache.AnalyticsKey, snapshot, s.analyticsTTL); err != nil {
		s.logger.Warn("analytics cache write failed", zap.Error(err))
	}
	return snapshot, nil
}

func (s *Service) buildAnalytics(ctx context.Context) (*domain.Analytics, error) {
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(analyticsWindow - 1))
	sales, err := s.repo.ListSalesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.Analytics{
		TotalMedicines: len(medicines),
		WeeklySales:    make([]decimal.Decimal, analyticsWindow),
		WeeklyLabels:   make([]string, analyticsWindow),
		GeneratedAt:    now,
	}
	for _, medicine := range medicines {
		snapshot.TotalStock += medicine.Quantity
	}
	for _, user := range users {
		if user.Role == domain.RoleStaff {
			snapshot.TotalStaff++
		}
	}

	index := make(map[string]int, analyticsWindow)
	for i := 0; i < analyticsWindow; i++ {
		label := since.AddDate(0, 0, i).Format(domain.DayLayout)
		snapshot.WeeklyLabels[i] = label
		snapshot.WeeklySales[i] = decimal.Zero
		index[label] = i
	}
	for _, sale := range sales {
		if i, ok := index[sale.SoldAt.UTC().Format(domain.DayLayout)]; ok {
			snapshot.WeeklySales[i] = snapshot.WeeklySales[i].Add(sale.LineTotal)
		}
	}
	return snapshot, nil
}

func (s *Service) invalidateAnalytics(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.AnalyticsKey); err != nil {
		s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// authorizeUser lets admins act on anyone and everyone else only on
// themselves.
func authorizeUser(ctx context.Context, userID string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if actor.Role == domain.RoleAdmin || actor.UserID == userID {
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: cannot act on another user", ErrForbidden)
}
