package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrResultExists = errors.New("result already submitted")

// SessionStore is the relay mailbox: preconnect payloads go in from the
// requesting side, results go in from the companion. Entries expire after ttl.
type SessionStore interface {
	PutPreconnect(ctx context.Context, id, token string, ttl time.Duration) error
	GetPreconnect(ctx context.Context, id string) (token string, ok bool, err error)
	// PutResult stores the first result for id and returns ErrResultExists
	// for any later one.
	PutResult(ctx context.Context, id string, data json.RawMessage, ttl time.Duration) error
	GetResult(ctx context.Context, id string) (data json.RawMessage, ok bool, err error)
}
