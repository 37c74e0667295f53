package model

import "encoding/json"

// PollResult is the outcome of one GET /result/{id} attempt.
type PollResult struct {
	Present bool
	Data    json.RawMessage
}

// ResultBody is the JSON body served by the result endpoint and posted by the
// companion. Data is null until the remote operation completes.
type ResultBody struct {
	Data json.RawMessage `json:"data"`
}

// PreconnectBody is the JSON body of POST /preconnect/{id}.
type PreconnectBody struct {
	Data string `json:"data"`
}
