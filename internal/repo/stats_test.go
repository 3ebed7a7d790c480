package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

func TestSessionsStats_CountError_NoTable(t *testing.T) {
	db := newBareDB(t)
	_, _, err := SessionsStats(context.Background(), db, "p1")
	if err == nil {
		t.Fatalf("expected error due to missing form_sessions table")
	}
}

func TestSessionsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t)
	count, maxAt, err := SessionsStats(context.Background(), db, "p1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestSessionsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t)

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for p1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other principal

	rows := []domain.FormSession{
		{ID: "s1", PrincipalID: "p1", SessionType: "q", TokenHash: "h1", Status: domain.SessionActive, UpdatedAt: t1, ExpiresAt: t1},
		{ID: "s2", PrincipalID: "p1", SessionType: "q", TokenHash: "h2", Status: domain.SessionActive, UpdatedAt: t2, ExpiresAt: t2},
		{ID: "s3", PrincipalID: "p2", SessionType: "q", TokenHash: "h3", Status: domain.SessionActive, UpdatedAt: t3, ExpiresAt: t3},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxAt, err := SessionsStats(context.Background(), db, "p1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d; want 2", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("maxUpdatedAt = %v; want %v", maxAt, t2)
	}
}

func TestProfileUpdatedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	got, err := ProfileUpdatedAt(ctx, db, "p1")
	if err != nil || got != nil {
		t.Fatalf("no profile: got (%v, %v); want (nil, nil)", got, err)
	}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Create(&domain.UserProfile{PrincipalID: "p1", CreatedAt: ts, UpdatedAt: ts}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err = ProfileUpdatedAt(ctx, db, "p1")
	if err != nil || got == nil || !got.Equal(ts) {
		t.Fatalf("got (%v, %v); want %v", got, err, ts)
	}
}
