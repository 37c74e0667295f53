// Package envelope builds the tagged request records published to the
// companion signer and converts them to and from URL tokens.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/oob-signer/internal/base58"
	"github.com/jmehdipour/oob-signer/internal/model"
)

var (
	ErrEmptyToken    = errors.New("envelope: empty token")
	ErrMissingKind   = errors.New("envelope: missing kind")
	ErrPreconnectRef = errors.New("envelope: token references a preconnected session")
)

// tokenHead tells full envelopes from preconnect references.
type tokenHead struct {
	Kind         *model.Kind `json:"t"`
	Preconnected *int        `json:"p"`
}

// Connect builds a kind=0 envelope. The companion page reads the requesting
// origin from the data field of a connect request.
func Connect(chain model.Chain, sessionID, origin, redirect string) model.Envelope {
	return model.Envelope{
		Kind:      model.KindConnect,
		SessionID: sessionID,
		Origin:    origin,
		Chain:     chain,
		Data:      mustRaw(origin),
		Redirect:  optional(redirect),
	}
}

// Sign builds a kind=1 envelope carrying the message bytes as base58.
func Sign(chain model.Chain, message []byte, sessionID, origin, redirect string) model.Envelope {
	return model.Envelope{
		Kind:      model.KindSign,
		SessionID: sessionID,
		Origin:    origin,
		Chain:     chain,
		Data:      mustRaw(base58.Encode(message)),
		Redirect:  optional(redirect),
	}
}

// Send builds a kind=2 envelope carrying txs in order.
func Send(chain model.Chain, txs []model.TaggedBlob, sessionID, origin, redirect string) model.Envelope {
	if txs == nil {
		txs = []model.TaggedBlob{}
	}
	return model.Envelope{
		Kind:      model.KindSend,
		SessionID: sessionID,
		Origin:    origin,
		Chain:     chain,
		Data:      mustRaw(txs),
		Redirect:  optional(redirect),
	}
}

// Blobs tags each transaction with its kind and base58-encodes the bytes.
func Blobs(txs []model.Transaction) []model.TaggedBlob {
	out := make([]model.TaggedBlob, 0, len(txs))
	for _, tx := range txs {
		out = append(out, model.TaggedBlob{Kind: tx.Kind, Data: base58.Encode(tx.Raw)})
	}
	return out
}

// Preconnected returns the minimal reference used in place of a posted envelope.
func Preconnected(sessionID string) model.PreconnectRef {
	return model.PreconnectRef{SessionID: sessionID, Preconnected: 1}
}

// Encode returns base58(JSON(v)).
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base58.Encode(b), nil
}

// Decode parses a token produced by Encode back into an envelope. A
// preconnect reference is not an envelope and fails with ErrPreconnectRef.
func Decode(token string) (model.Envelope, error) {
	var env model.Envelope
	raw, err := tokenBytes(token)
	if err != nil {
		return env, err
	}

	var head tokenHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if head.Preconnected != nil {
		return env, ErrPreconnectRef
	}
	if head.Kind == nil {
		return env, ErrMissingKind
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !env.Kind.Valid() {
		return env, fmt.Errorf("unknown envelope kind %d", env.Kind)
	}
	return env, nil
}

// DecodeRef parses a {i,p:1} preconnect reference token.
func DecodeRef(token string) (model.PreconnectRef, error) {
	var ref model.PreconnectRef
	raw, err := tokenBytes(token)
	if err != nil {
		return ref, err
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ref, fmt.Errorf("unmarshal reference: %w", err)
	}
	if ref.Preconnected != 1 || ref.SessionID == "" {
		return ref, errors.New("envelope: not a preconnect reference")
	}
	return ref, nil
}

func tokenBytes(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	raw, err := base58.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return raw, nil
}

// Message returns the message bytes of a sign envelope.
func Message(env model.Envelope) ([]byte, error) {
	if env.Kind != model.KindSign {
		return nil, fmt.Errorf("envelope kind %s carries no message", env.Kind)
	}
	var s string
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return base58.Decode(s)
}

// Transactions returns the blobs of a send envelope in order.
func Transactions(env model.Envelope) ([]model.TaggedBlob, error) {
	if env.Kind != model.KindSend {
		return nil, fmt.Errorf("envelope kind %s carries no transactions", env.Kind)
	}
	var txs []model.TaggedBlob
	if err := json.Unmarshal(env.Data, &txs); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	return txs, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// mustRaw only sees strings and blob slices, which always marshal.
func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
