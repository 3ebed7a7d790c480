package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is gorm.ErrRecordNotFound under the repo name, so callers can
// test with errors.Is without importing gorm.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate reports a unique-constraint violation.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate recognizes unique violations from drivers that do not
// translate them to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{
		"unique constraint failed", // sqlite
		"constraint failed: unique",
		"duplicate key value", // postgres
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
