package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-eligibility-backend/internal/notify"
	"github.com/tbourn/go-eligibility-backend/internal/repo"
)

// newSvcDB opens a migrated file-backed SQLite database so that concurrent
// tests see real locking.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// grantAccess marks principalID verified at now and returns its access token.
func grantAccess(t *testing.T, db *gorm.DB, principalID string, now time.Time) string {
	t.Helper()
	tok, err := newToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if err := repo.GrantPrincipal(context.Background(), db, principalID, hashToken(tok), now, now.Add(24*time.Hour)); err != nil {
		t.Fatalf("grant %s: %v", principalID, err)
	}
	return tok
}

// captureSender records delivered messages.
type captureSender struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, m notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return c.err
}

func (c *captureSender) last(t *testing.T) notify.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		t.Fatalf("no message delivered")
	}
	return c.msgs[len(c.msgs)-1]
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
