// Package services – SessionService
//
// SessionService owns resumable questionnaire sessions. A session is
// addressed by its id and authenticated by a bearer token whose SHA-256 is
// the only thing stored. Progress is saved per step and merged so that a
// later save never drops earlier steps, even under concurrent saves.

package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
	"github.com/tbourn/go-eligibility-backend/internal/observability"
	"github.com/tbourn/go-eligibility-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSessionTTL = 72 * time.Hour
	maxSessionTypeLen = 64
	maxStep           = 1000
)

// CreatedSession is returned once at creation; the token is not recoverable
// afterwards.
type CreatedSession struct {
	SessionID    string    `json:"session_id"    example:"3f1c2a8e-8b7d-4c1e-9f6a-2d3b4c5d6e7f"`
	SessionToken string    `json:"session_token" example:"9b1d...e4"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionService manages questionnaire sessions.
type SessionService struct {
	DB     *gorm.DB
	TTL    time.Duration
	Policy eligibility.Policy

	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL <= 0 {
		return defaultSessionTTL
	}
	return s.TTL
}

func (s *SessionService) policy() eligibility.Policy {
	if s.Policy.SymptomWeights == nil {
		return eligibility.DefaultPolicy()
	}
	return s.Policy
}

// Create opens a session for principalID. initialData, if any, is stored as
// step 0.
func (s *SessionService) Create(ctx context.Context, principalID string, initialData map[string]any, sessionType string) (*CreatedSession, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("principal.id", principalID)),
	)
	defer span.End()

	if err := validPrincipal(principalID); err != nil {
		return nil, err
	}
	if sessionType == "" {
		sessionType = domain.DefaultSessionType
	}
	if len(sessionType) > maxSessionTypeLen {
		return nil, invalid("session_type", "too long")
	}

	data := map[string]any{}
	if len(initialData) > 0 {
		data["0"] = initialData
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, invalid("initial_data", "not serializable")
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &domain.FormSession{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		SessionType: sessionType,
		TokenHash:   hashToken(token),
		Status:      domain.SessionActive,
		FormData:    datatypes.JSON(raw),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.ttl()),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchPrincipal(ctx, tx, principalID, now); err != nil {
			return err
		}
		return repo.CreateSession(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	observability.SessionsCreated.Inc()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	return &CreatedSession{SessionID: sess.ID, SessionToken: token, ExpiresAt: sess.ExpiresAt}, nil
}

// SaveProgress shallow-merges stepData into the stored answers for step,
// sets the current step, and slides the expiry. When principalID is not
// empty it must own the session.
func (s *SessionService) SaveProgress(ctx context.Context, sessionID, token string, step int, stepData map[string]any, principalID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "SaveProgress",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("step", step),
		),
	)
	defer span.End()

	if step < 0 || step > maxStep {
		return invalid("step", "must be between 0 and 1000")
	}

	now := s.now()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := s.lockActive(ctx, tx, sessionID, token, now)
		if err != nil {
			return err
		}
		if principalID != "" && sess.PrincipalID != principalID {
			return ErrUnauthorized
		}

		data, err := decodeFormData(sess.FormData)
		if err != nil {
			return err
		}
		key := strconv.Itoa(step)
		merged, _ := data[key].(map[string]any)
		if merged == nil {
			merged = make(map[string]any, len(stepData))
		}
		for k, v := range stepData {
			merged[k] = v
		}
		data[key] = merged

		raw, err := json.Marshal(data)
		if err != nil {
			return invalid("step_data", "not serializable")
		}
		return repo.SaveSessionData(ctx, tx, sessionID, datatypes.JSON(raw), step, now.Add(s.ttl()), now)
	})
}

// Get returns a session for resuming. Completed sessions are readable so the
// caller can show the result; abandoned or expired ones are not.
func (s *SessionService) Get(ctx context.Context, sessionID, token string) (*domain.FormSession, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := s.authenticate(ctx, sessionID, token)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case domain.SessionCompleted:
		return sess, nil
	case domain.SessionActive:
		if sess.ExpiresAt.After(s.now()) {
			return sess, nil
		}
	}
	return nil, ErrSessionExpired
}

// Abandon closes an active session without scoring it.
func (s *SessionService) Abandon(ctx context.Context, sessionID, token string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Abandon", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	now := s.now()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockActive(ctx, tx, sessionID, token, now); err != nil {
			return err
		}
		return repo.SetSessionStatus(ctx, tx, sessionID, domain.SessionAbandoned, now)
	})
}

// Complete scores the collected answers and closes the session. Steps are
// flattened in ascending order, later steps overriding earlier keys. A
// missing age is derived from the principal's profile date of birth.
func (s *SessionService) Complete(ctx context.Context, sessionID, token string) (*eligibility.Result, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Complete", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	now := s.now()
	var res eligibility.Result
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := s.lockActive(ctx, tx, sessionID, token, now)
		if err != nil {
			return err
		}
		answers, err := answersFromFormData(sess.FormData)
		if err != nil {
			return err
		}
		if answers.Age == 0 {
			p, err := repo.GetProfile(ctx, tx, sess.PrincipalID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if p != nil && p.DateOfBirth != nil {
				answers.Age = ageAt(*p.DateOfBirth, now)
			}
		}
		if err := answers.Validate(); err != nil {
			return invalid("answers", err.Error())
		}

		res = s.policy().Score(answers)
		ok, err := repo.CompleteSession(ctx, tx, sessionID, res.Score, string(res.Pathway), res.EstimatedCost, string(res.Urgency), now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.EligibilityScored.WithLabelValues(string(res.Pathway)).Inc()
	span.SetAttributes(
		attribute.Int("eligibility.score", res.Score),
		attribute.String("eligibility.pathway", string(res.Pathway)),
	)
	return &res, nil
}

// lockActive takes the session's write lock, checks the token, and requires
// the session to be active and unexpired.
func (s *SessionService) lockActive(ctx context.Context, tx *gorm.DB, sessionID, token string, now time.Time) (*domain.FormSession, error) {
	if sessionID == "" || token == "" {
		return nil, ErrUnauthorized
	}
	ok, err := repo.LockSession(ctx, tx, sessionID, hashToken(token), now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	sess, err := repo.GetSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionActive || !sess.ExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// authenticate loads a session and compares token hashes in constant time.
func (s *SessionService) authenticate(ctx context.Context, sessionID, token string) (*domain.FormSession, error) {
	if sessionID == "" || token == "" {
		return nil, ErrUnauthorized
	}
	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(sess.TokenHash)) != 1 {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func decodeFormData(raw datatypes.JSON) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// answersFromFormData merges step objects in ascending step order and
// decodes the result into eligibility answers.
func answersFromFormData(raw datatypes.JSON) (eligibility.Answers, error) {
	var a eligibility.Answers
	data, err := decodeFormData(raw)
	if err != nil {
		return a, err
	}

	steps := make([]int, 0, len(data))
	for k := range data {
		if n, err := strconv.Atoi(k); err == nil {
			steps = append(steps, n)
		}
	}
	sort.Ints(steps)

	flat := map[string]any{}
	for _, n := range steps {
		obj, _ := data[strconv.Itoa(n)].(map[string]any)
		for k, v := range obj {
			flat[k] = v
		}
	}

	b, err := json.Marshal(flat)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, invalid("answers", "unexpected value types")
	}
	return a, nil
}

// ageAt returns the completed years between dob and now.
func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}
