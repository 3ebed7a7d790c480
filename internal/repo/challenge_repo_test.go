package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/config"
	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

func newChallenge(id, principal string, issued time.Time) *domain.ContactChallenge {
	return &domain.ContactChallenge{
		ID:            id,
		PrincipalID:   principal,
		ContactType:   domain.ContactEmail,
		MaskedContact: "te***@example.com",
		CodeHash:      "$2a$04$hash",
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(10 * time.Minute),
		MaxAttempts:   3,
	}
}

func TestChallenge_CreateGetAndIssuedSince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, ago := range []time.Duration{20 * time.Minute, 8 * time.Minute, 2 * time.Minute} {
		c := newChallenge(string(rune('A'+i)), "p1", now.Add(-ago))
		if err := CreateChallenge(ctx, db, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := CreateChallenge(ctx, db, newChallenge("Z", "p2", now)); err != nil {
		t.Fatalf("create other principal: %v", err)
	}

	got, err := GetChallenge(ctx, db, "B")
	if err != nil || got.PrincipalID != "p1" || got.Attempts != 0 || got.ConsumedAt != nil {
		t.Fatalf("GetChallenge = (%+v, %v)", got, err)
	}
	if _, err := GetChallenge(ctx, db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ts, err := IssuedSince(ctx, db, "p1", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("IssuedSince: %v", err)
	}
	if len(ts) != 2 || !ts[0].Before(ts[1]) {
		t.Fatalf("expected 2 in-window timestamps oldest first, got %v", ts)
	}
}

func TestChallenge_ReserveAttempt_CapsAtMax(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := CreateChallenge(ctx, db, newChallenge("C1", "p1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 1; i <= 3; i++ {
		c, err := ReserveAttempt(ctx, db, "C1", now)
		if err != nil || c == nil {
			t.Fatalf("attempt %d: (%v, %v); want a reservation", i, c, err)
		}
		if c.Attempts != i {
			t.Fatalf("attempt %d reserved count %d", i, c.Attempts)
		}
	}
	if c, _ := ReserveAttempt(ctx, db, "C1", now); c != nil {
		t.Fatalf("4th reservation must fail")
	}
	got, _ := GetChallenge(ctx, db, "C1")
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d; want 3", got.Attempts)
	}
}

func TestChallenge_ReserveAttempt_ExpiredOrConsumed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newChallenge("OLD", "p1", now.Add(-time.Hour))
	if err := CreateChallenge(ctx, db, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c, _ := ReserveAttempt(ctx, db, "OLD", now); c != nil {
		t.Fatalf("expired challenge must not accept attempts")
	}

	if err := CreateChallenge(ctx, db, newChallenge("USED", "p1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := ConsumeChallenge(ctx, db, "USED", now); err != nil || !ok {
		t.Fatalf("first consume = (%v, %v)", ok, err)
	}
	if ok, _ := ConsumeChallenge(ctx, db, "USED", now); ok {
		t.Fatalf("second consume must report false")
	}
	if c, _ := ReserveAttempt(ctx, db, "USED", now); c != nil {
		t.Fatalf("consumed challenge must not accept attempts")
	}
	if c, _ := ReserveAttempt(ctx, db, "missing", now); c != nil {
		t.Fatalf("unknown challenge must not accept attempts")
	}
}

func TestChallenge_ReserveAttempt_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	c := newChallenge("RACE", "p1", now)
	c.MaxAttempts = 5
	if err := CreateChallenge(ctx, db, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := ReserveAttempt(ctx, db, "RACE", now)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if c != nil {
				mu.Lock()
				seen[c.Attempts]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Each winner sees its own increment: 1..5, once each.
	if len(seen) != 5 {
		t.Fatalf("reserved counts = %v; want 1..5 once each", seen)
	}
	for n := 1; n <= 5; n++ {
		if seen[n] != 1 {
			t.Fatalf("reserved counts = %v; want 1..5 once each", seen)
		}
	}
	got, _ := GetChallenge(ctx, db, "RACE")
	if got.Attempts != 5 {
		t.Fatalf("attempts = %d; want 5", got.Attempts)
	}
}

func TestChallenge_ListAndDeleteExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = CreateChallenge(ctx, db, newChallenge("A", "p1", now.Add(-2*time.Hour)))
	_ = CreateChallenge(ctx, db, newChallenge("B", "p1", now))

	list, err := ListChallengesByPrincipal(ctx, db, "p1")
	if err != nil || len(list) != 2 || list[0].ID != "B" {
		t.Fatalf("ListChallengesByPrincipal = (%v, %v)", list, err)
	}

	n, err := DeleteExpiredChallenges(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredChallenges = (%d, %v); want (1, nil)", n, err)
	}
	if _, err := GetChallenge(ctx, db, "A"); err != ErrNotFound {
		t.Fatalf("expired challenge should be gone, got %v", err)
	}
}

func TestChallenge_ReapKeepsRateWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	otp := config.OTPConfig{TTL: 2 * time.Minute, RateWindow: time.Hour}

	// Expired 28 minutes ago but still inside the one-hour issuance window.
	recent := newChallenge("RECENT", "p1", now.Add(-30*time.Minute))
	recent.ExpiresAt = recent.IssuedAt.Add(otp.TTL)
	old := newChallenge("OLD", "p1", now.Add(-2*time.Hour))
	old.ExpiresAt = old.IssuedAt.Add(otp.TTL)
	for _, c := range []*domain.ContactChallenge{recent, old} {
		if err := CreateChallenge(ctx, db, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := DeleteExpiredChallenges(ctx, db, otp.ChallengeCutoff(now, 0))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredChallenges = (%d, %v); want (1, nil)", n, err)
	}
	issued, _ := IssuedSince(ctx, db, "p1", now.Add(-otp.RateWindow))
	if len(issued) != 1 {
		t.Fatalf("window lost its issuance: %v", issued)
	}
}
