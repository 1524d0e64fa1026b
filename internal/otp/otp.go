package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCode     = errors.New("invalid or expired code")
	ErrExpired         = errors.New("code expired")
	ErrTooManyAttempts = errors.New("too many attempts")
)

const (
	codeDigits         = 6
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 5
)

// Entry is what a Store keeps per subject. The code itself is never stored.
type Entry struct {
	Hash      string    `json:"hash"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps one outstanding entry per subject. IncrementAttempts must be
// atomic across callers and return 0 when no entry exists.
type Store interface {
	Put(ctx context.Context, subject string, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, subject string) (*Entry, bool, error)
	IncrementAttempts(ctx context.Context, subject string) (int, error)
	Delete(ctx context.Context, subject string) error
}

// Sender delivers a freshly issued code to its owner.
type Sender interface {
	Send(ctx context.Context, subject string, code string) error
}

// LogSender writes codes to the log. It is the delivery channel for
// deployments without an SMS or mail gateway.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, subject string, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("password reset code issued", zap.String("subject", subject), zap.String("code", code))
	return nil
}

type Options struct {
	TTL         time.Duration
	MaxAttempts int
	Logger      *zap.Logger
	Now         func() time.Time
}

// Manager issues and verifies single-use numeric codes.
type Manager struct {
	store       Store
	sender      Sender
	ttl         time.Duration
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

func NewManager(store Store, sender Sender, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:       store,
		sender:      sender,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger.Named("otp"),
		now:         opts.Now,
	}
}

// Issue replaces any outstanding code for subject with a new one and sends it.
func (m *Manager) Issue(ctx context.Context, subject string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	entry := Entry{Hash: string(hash), ExpiresAt: m.now().Add(m.ttl)}
	if err := m.store.Put(ctx, subject, entry, m.ttl); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := m.sender.Send(ctx, subject, code); err != nil {
		_ = m.store.Delete(ctx, subject)
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// Verify consumes the code on success. Every guess is counted before it is
// compared, and the entry is dropped once the attempt budget is spent.
func (m *Manager) Verify(ctx context.Context, subject string, code string) error {
	entry, ok, err := m.store.Get(ctx, subject)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}
	if !m.now().Before(entry.ExpiresAt) {
		_ = m.store.Delete(ctx, subject)
		return ErrExpired
	}

	attempts, err := m.store.IncrementAttempts(ctx, subject)
	if err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}
	if attempts == 0 {
		return ErrInvalidCode
	}
	if attempts > m.maxAttempts {
		_ = m.store.Delete(ctx, subject)
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(strings.TrimSpace(code))) != nil {
		if attempts >= m.maxAttempts {
			_ = m.store.Delete(ctx, subject)
			m.logger.Warn("reset code locked after failed attempts", zap.String("subject", subject))
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	if err := m.store.Delete(ctx, subject); err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func generateCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
