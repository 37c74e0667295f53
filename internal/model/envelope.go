package model

import "encoding/json"

// Envelope is the tagged request record carried to the companion signer.
// The short JSON keys are what the companion page reads.
type Envelope struct {
	Kind      Kind            `json:"t"`
	SessionID string          `json:"i"`
	Origin    string          `json:"o,omitempty"`
	Chain     Chain           `json:"c"`
	Data      json.RawMessage `json:"d"`
	Redirect  *string         `json:"r"`
}

// PreconnectRef replaces the full envelope in the companion URL once the
// payload has been posted ahead of time.
type PreconnectRef struct {
	SessionID    string `json:"i"`
	Preconnected int    `json:"p"`
}
