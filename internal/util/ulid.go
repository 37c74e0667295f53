package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID generates a fresh ULID used to correlate one published request
// with its poll results.
func NewSessionID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidSessionID reports whether id looks like something NewSessionID or the
// original companion page (UUIDs) could have produced.
func ValidSessionID(id string) bool {
	if _, err := ulid.ParseStrict(id); err == nil {
		return true
	}
	return uuidRe.MatchString(id)
}
