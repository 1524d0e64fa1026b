package otp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type captureSender struct {
	codes map[string]string
	err   error
}

func (s *captureSender) Send(_ context.Context, subject string, code string) error {
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[subject] = code
	return nil
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestIssueAndVerifyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	m := NewManager(NewMemoryStore(), sender, Options{})

	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := sender.codes["staff"]
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}
	if err := m.Verify(ctx, "staff", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := m.Verify(ctx, "staff", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected consumed code to be rejected, got %v", err)
	}
}

func TestVerifyLocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	m := NewManager(NewMemoryStore(), sender, Options{MaxAttempts: 3})

	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := sender.codes["staff"]
	bad := wrongCode(code)

	for i := 0; i < 2; i++ {
		if err := m.Verify(ctx, "staff", bad); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	if err := m.Verify(ctx, "staff", bad); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if err := m.Verify(ctx, "staff", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected locked code to be gone, got %v", err)
	}
}

// countingStore records every attempt count the store hands out.
type countingStore struct {
	*MemoryStore
	mu     sync.Mutex
	counts []int
}

func (s *countingStore) IncrementAttempts(ctx context.Context, subject string) (int, error) {
	n, err := s.MemoryStore.IncrementAttempts(ctx, subject)
	s.mu.Lock()
	s.counts = append(s.counts, n)
	s.mu.Unlock()
	return n, err
}

func TestConcurrentGuessesShareAttemptBudget(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	store := &countingStore{MemoryStore: NewMemoryStore()}
	m := NewManager(store, sender, Options{MaxAttempts: 5})

	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := sender.codes["staff"]

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			guess := fmt.Sprintf("x%05d", i)
			if err := m.Verify(ctx, "staff", guess); err == nil {
				t.Errorf("guess %q unexpectedly accepted", guess)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	evaluated := 0
	for _, n := range store.counts {
		if n == 0 {
			continue
		}
		if seen[n] {
			t.Fatalf("attempt count %d handed out twice", n)
		}
		seen[n] = true
		if n <= 5 {
			evaluated++
		}
	}
	if evaluated > 5 {
		t.Fatalf("%d guesses were compared, budget is 5", evaluated)
	}
	if err := m.Verify(ctx, "staff", code); err == nil {
		t.Fatalf("expected code to be locked after the attempt budget was spent")
	}
}

func TestMemoryStoreIncrementAttemptsWithoutEntry(t *testing.T) {
	n, err := NewMemoryStore().IncrementAttempts(context.Background(), "ghost")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 attempts for missing entry, got %d (%v)", n, err)
	}
}

func TestVerifyRejectsExpiredCode(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sender := &captureSender{}
	m := NewManager(NewMemoryStore(), sender, Options{TTL: time.Minute, Now: func() time.Time { return now }})

	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := m.Verify(ctx, "staff", sender.codes["staff"]); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestIssueReplacesPreviousCode(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	m := NewManager(NewMemoryStore(), sender, Options{})

	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	first := sender.codes["staff"]
	if err := m.Issue(ctx, "staff"); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	second := sender.codes["staff"]
	if first != second {
		if err := m.Verify(ctx, "staff", first); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected old code to be rejected, got %v", err)
		}
	}
	if err := m.Verify(ctx, "staff", second); err != nil {
		t.Fatalf("expected new code to verify, got %v", err)
	}
}

func TestIssueDropsEntryWhenSendFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, &captureSender{err: errors.New("gateway down")}, Options{})

	if err := m.Issue(ctx, "staff"); err == nil {
		t.Fatalf("expected send failure")
	}
	if _, ok, _ := store.Get(ctx, "staff"); ok {
		t.Fatalf("expected entry to be removed after send failure")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("PHARMAFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PHARMAFLOW_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("PHARMAFLOW_TEST_REDIS_PASSWORD")})
	t.Cleanup(func() { _ = client.Close() })

	sender := &captureSender{}
	m := NewManager(NewRedisStore(client), sender, Options{})
	subject := fmt.Sprintf("it-%d", time.Now().UnixNano())

	if err := m.Issue(ctx, subject); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Verify(ctx, subject, wrongCode(sender.codes[subject])); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := m.Verify(ctx, subject, sender.codes[subject]); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
