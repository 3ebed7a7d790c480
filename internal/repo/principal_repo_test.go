package repo

import (
	"context"
	"testing"
	"time"
)

func TestTouchPrincipal_InsertThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	first := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	later := first.Add(3 * time.Hour)

	if err := TouchPrincipal(ctx, db, "visitor-1", first); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	if err := TouchPrincipal(ctx, db, "visitor-1", later); err != nil {
		t.Fatalf("second touch: %v", err)
	}

	p, err := GetPrincipal(ctx, db, "visitor-1")
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if !p.CreatedAt.Equal(first) {
		t.Fatalf("CreatedAt = %v; want %v", p.CreatedAt, first)
	}
	if !p.LastSeenAt.Equal(later) {
		t.Fatalf("LastSeenAt = %v; want %v", p.LastSeenAt, later)
	}

	if _, err := GetPrincipal(ctx, db, "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGrantPrincipal_SetsAndRotates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	if err := TouchPrincipal(ctx, db, "visitor-1", now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	p, _ := GetPrincipal(ctx, db, "visitor-1")
	if p.VerifiedAt != nil || p.AccessTokenHash != nil {
		t.Fatalf("fresh principal must be unverified: %+v", p)
	}

	later := now.Add(time.Minute)
	if err := GrantPrincipal(ctx, db, "visitor-1", "hash-a", later, later.Add(time.Hour)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := GrantPrincipal(ctx, db, "visitor-1", "hash-b", later, later.Add(2*time.Hour)); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	p, _ = GetPrincipal(ctx, db, "visitor-1")
	if p.VerifiedAt == nil || !p.VerifiedAt.Equal(later) {
		t.Fatalf("VerifiedAt = %v", p.VerifiedAt)
	}
	if p.AccessTokenHash == nil || *p.AccessTokenHash != "hash-b" || !p.AccessExpiresAt.Equal(later.Add(2*time.Hour)) {
		t.Fatalf("token not rotated: %+v", p)
	}
	if !p.CreatedAt.Equal(now) {
		t.Fatalf("grant must keep CreatedAt, got %v", p.CreatedAt)
	}

	// A principal without a row is created verified.
	if err := GrantPrincipal(ctx, db, "reaped", "hash-c", later, later.Add(time.Hour)); err != nil {
		t.Fatalf("grant missing: %v", err)
	}
	if p, err := GetPrincipal(ctx, db, "reaped"); err != nil || p.VerifiedAt == nil {
		t.Fatalf("reaped principal = (%+v, %v)", p, err)
	}
}
