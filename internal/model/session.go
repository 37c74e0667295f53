package model

import "time"

type SessionStage string

const (
	StagePreconnected SessionStage = "preconnected"
	StageCompleted    SessionStage = "completed"
)

func (s SessionStage) String() string {
	return string(s)
}

func (s SessionStage) Valid() bool {
	return s == StagePreconnected || s == StageCompleted
}

// SessionRecord is the audit row persisted in relay_sessions.
type SessionRecord struct {
	ID        string       `db:"id"`
	Kind      string       `db:"kind"`   // connect|sign|send|unknown
	Origin    string       `db:"origin"` // requesting site, may be empty
	Stage     SessionStage `db:"stage"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// SessionEvent is published to Kafka whenever the relay sees a session move.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	Stage     SessionStage `json:"stage"`
	Kind      string       `json:"kind,omitempty"`
	Origin    string       `json:"origin,omitempty"`
	At        time.Time    `json:"at"`
}
