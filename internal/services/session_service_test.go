package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
	"github.com/tbourn/go-eligibility-backend/internal/repo"
)

func newSessions(t *testing.T) (*SessionService, *clock) {
	t.Helper()
	clk := newClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return &SessionService{
		DB:     newSvcDB(t),
		TTL:    time.Hour,
		Policy: eligibility.DefaultPolicy(),
		Now:    clk.Now,
	}, clk
}

func formData(t *testing.T, s *SessionService, id string) map[string]map[string]any {
	t.Helper()
	sess, err := repo.GetSession(context.Background(), s.DB, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	out := map[string]map[string]any{}
	if err := json.Unmarshal(sess.FormData, &out); err != nil {
		t.Fatalf("decode form_data: %v", err)
	}
	return out
}

func TestSession_Create(t *testing.T) {
	s, clk := newSessions(t)
	ctx := context.Background()

	cs, err := s.Create(ctx, "p1", map[string]any{"age": 40}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(cs.SessionToken) != 64 || cs.SessionID == "" {
		t.Fatalf("unexpected created session: %+v", cs)
	}
	if !cs.ExpiresAt.Equal(clk.Now().Add(time.Hour)) {
		t.Fatalf("expires_at = %v", cs.ExpiresAt)
	}

	sess, _ := repo.GetSession(ctx, s.DB, cs.SessionID)
	if sess.SessionType != domain.DefaultSessionType || sess.Status != domain.SessionActive {
		t.Fatalf("stored session wrong: %+v", sess)
	}
	if sess.TokenHash == cs.SessionToken || sess.TokenHash != hashToken(cs.SessionToken) {
		t.Fatalf("only the token hash may be stored")
	}
	if fd := formData(t, s, cs.SessionID); fd["0"]["age"] != float64(40) {
		t.Fatalf("initial data not stored as step 0: %v", fd)
	}

	if _, err := s.Create(ctx, "", nil, ""); err == nil {
		t.Fatalf("empty principal must be rejected")
	}
}

func TestSession_SaveProgress_MergesPerStep(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", map[string]any{"age": 40}, "")

	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, map[string]any{"insured": true}, "p1"); err != nil {
		t.Fatalf("save step 1: %v", err)
	}
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, map[string]any{"family_history": true}, ""); err != nil {
		t.Fatalf("save step 1 again: %v", err)
	}

	fd := formData(t, s, cs.SessionID)
	if fd["0"]["age"] != float64(40) {
		t.Fatalf("step 0 lost: %v", fd)
	}
	if fd["1"]["insured"] != true || fd["1"]["family_history"] != true {
		t.Fatalf("step 1 not merged: %v", fd)
	}
	sess, _ := repo.GetSession(ctx, s.DB, cs.SessionID)
	if sess.CurrentStep != 1 {
		t.Fatalf("current_step = %d", sess.CurrentStep)
	}
}

func TestSession_SaveProgress_OrderIndependent(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	step1 := map[string]any{"insured": true, "age": 52}
	step3 := map[string]any{"symptoms": []any{"chest_pain"}, "family_history": false}

	save := func(order ...int) map[string]map[string]any {
		cs, err := s.Create(ctx, "p1", map[string]any{"consent": true}, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		for _, step := range order {
			data := step1
			if step == 3 {
				data = step3
			}
			if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, step, data, ""); err != nil {
				t.Fatalf("save step %d: %v", step, err)
			}
		}
		return formData(t, s, cs.SessionID)
	}

	forward := save(1, 3)
	backward := save(3, 1)
	if !reflect.DeepEqual(forward, backward) {
		t.Fatalf("form data depends on save order:\n1 then 3: %v\n3 then 1: %v", forward, backward)
	}
	if len(forward) != 3 || forward["0"]["consent"] != true || forward["3"]["family_history"] != false {
		t.Fatalf("unexpected form data: %v", forward)
	}
}

func TestSession_SaveProgress_Errors(t *testing.T) {
	s, clk := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", nil, "")

	var ve *ValidationError
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, -1, nil, ""); !errors.As(err, &ve) {
		t.Fatalf("negative step: %v", err)
	}
	if err := s.SaveProgress(ctx, cs.SessionID, "bad-token", 1, nil, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong token: %v", err)
	}
	if err := s.SaveProgress(ctx, "no-such-session", cs.SessionToken, 1, nil, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown session: %v", err)
	}
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, nil, "someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign principal: %v", err)
	}

	clk.Advance(time.Hour + time.Second)
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, nil, ""); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expired session: %v", err)
	}
}

func TestSession_SaveProgress_SlidesExpiry(t *testing.T) {
	s, clk := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", nil, "")

	clk.Advance(50 * time.Minute)
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, map[string]any{"a": 1}, ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	clk.Advance(50 * time.Minute)
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 2, map[string]any{"b": 2}, ""); err != nil {
		t.Fatalf("save after slide: %v", err)
	}
}

func TestSession_SaveProgress_ConcurrentStepsAllKept(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", nil, "")

	const steps = 8
	var wg sync.WaitGroup
	for i := 1; i <= steps; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			data := map[string]any{"answer": step}
			if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, step, data, ""); err != nil {
				t.Errorf("step %d: %v", step, err)
			}
		}(i)
	}
	wg.Wait()

	fd := formData(t, s, cs.SessionID)
	for i := 1; i <= steps; i++ {
		if fd[fmt.Sprint(i)]["answer"] != float64(i) {
			t.Fatalf("step %d lost: %v", i, fd)
		}
	}
}

func TestSession_GetAndAbandon(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", nil, "")

	got, err := s.Get(ctx, cs.SessionID, cs.SessionToken)
	if err != nil || got.ID != cs.SessionID {
		t.Fatalf("Get = (%v, %v)", got, err)
	}
	if _, err := s.Get(ctx, cs.SessionID, "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Get wrong token: %v", err)
	}

	if err := s.Abandon(ctx, cs.SessionID, cs.SessionToken); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := s.Get(ctx, cs.SessionID, cs.SessionToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Get abandoned: %v", err)
	}
	if err := s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, nil, ""); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("save to abandoned: %v", err)
	}
}

func TestSession_Complete_ScoresFlattenedSteps(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", map[string]any{"age": 67, "insured": false}, "")
	_ = s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 1, map[string]any{"insured": true}, "")
	_ = s.SaveProgress(ctx, cs.SessionID, cs.SessionToken, 2, map[string]any{
		"symptoms":       []string{"chest_pain", "palpitations"},
		"family_history": true,
	}, "")

	res, err := s.Complete(ctx, cs.SessionID, cs.SessionToken)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// 30 + 15 + 20 (family) + 20 (65+) = 85, insured ⇒ GP required.
	if res.Score != 85 || res.Pathway != eligibility.PathwayInsuranceGPRequired || res.Urgency != eligibility.UrgencyEmergency {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, err := s.Get(ctx, cs.SessionID, cs.SessionToken)
	if err != nil || got.Status != domain.SessionCompleted || got.Score == nil || *got.Score != 85 {
		t.Fatalf("completed session not readable or wrong: (%+v, %v)", got, err)
	}

	if _, err := s.Complete(ctx, cs.SessionID, cs.SessionToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("second Complete: %v", err)
	}
}

func TestSession_Complete_AgeFromProfile(t *testing.T) {
	s, clk := newSessions(t)
	ctx := context.Background()

	profiles := &ProfileService{DB: s.DB, Now: clk.Now}
	dob := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := grantAccess(t, s.DB, "p1", clk.Now())
	if _, err := profiles.Upsert(ctx, "p1", tok, ProfileInput{DateOfBirth: &dob}); err != nil {
		t.Fatalf("profile: %v", err)
	}

	cs, _ := s.Create(ctx, "p1", map[string]any{"insured": true}, "")
	res, err := s.Complete(ctx, cs.SessionID, cs.SessionToken)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// 65 years old on 2025-03-01 ⇒ 20 points, nothing else.
	if res.Score != 20 || res.Pathway != eligibility.PathwayInsuranceDirect {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSession_Complete_BadAnswerTypes(t *testing.T) {
	s, _ := newSessions(t)
	ctx := context.Background()
	cs, _ := s.Create(ctx, "p1", map[string]any{"age": "forty"}, "")

	var ve *ValidationError
	if _, err := s.Complete(ctx, cs.SessionID, cs.SessionToken); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, _ := repo.GetSession(ctx, s.DB, cs.SessionID)
	if got.Status != domain.SessionActive {
		t.Fatalf("failed completion must leave the session active, got %s", got.Status)
	}
}

func TestAgeAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		dob  time.Time
		want int
	}{
		{time.Date(2007, 6, 15, 0, 0, 0, 0, time.UTC), 18},
		{time.Date(2007, 6, 16, 0, 0, 0, 0, time.UTC), 17},
		{time.Date(1960, 12, 31, 0, 0, 0, 0, time.UTC), 64},
	}
	for _, tc := range cases {
		if got := ageAt(tc.dob, now); got != tc.want {
			t.Fatalf("ageAt(%v) = %d; want %d", tc.dob, got, tc.want)
		}
	}
}
