package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

func strp(s string) *string { return &s }

func TestUpsertProfile_OnlySuppliedColumnsChange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dob := time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC)
	first := &domain.UserProfile{
		PrincipalID: "p1",
		DateOfBirth: &dob,
		City:        strp("Bern"),
		Canton:      strp("BE"),
	}
	if err := UpsertProfile(ctx, db, first, []string{"date_of_birth", "city", "canton"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := &domain.UserProfile{
		PrincipalID:       "p1",
		PreferredLanguage: strp("fr"),
	}
	if err := UpsertProfile(ctx, db, second, []string{"preferred_language"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := GetProfile(ctx, db, "p1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.City == nil || *got.City != "Bern" || got.Canton == nil || *got.Canton != "BE" {
		t.Fatalf("unsupplied columns were overwritten: %+v", got)
	}
	if got.PreferredLanguage == nil || *got.PreferredLanguage != "fr" {
		t.Fatalf("preferred_language not updated: %+v", got)
	}
	if got.DateOfBirth == nil || !got.DateOfBirth.Equal(dob) {
		t.Fatalf("date_of_birth = %v; want %v", got.DateOfBirth, dob)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetProfile(context.Background(), db, "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
