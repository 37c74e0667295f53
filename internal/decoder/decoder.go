// Package decoder turns raw poll payloads into transactions, signatures or
// account addresses. Every failure here is the remote side's fault and is
// reported as a *ResponseDecodingError.
package decoder

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/oob-signer/internal/base58"
	"github.com/jmehdipour/oob-signer/internal/model"
)

const PublicKeyLen = 32

var ErrEmpty = errors.New("empty payload")

type ResponseDecodingError struct {
	Field string
	Err   error
}

func (e *ResponseDecodingError) Error() string {
	return fmt.Sprintf("decode response %s: %v", e.Field, e.Err)
}

func (e *ResponseDecodingError) Unwrap() error { return e.Err }

// wireBlob is a response blob; nil fields were absent on the wire.
type wireBlob struct {
	Kind *model.BlobKind `json:"t"`
	Data *string         `json:"d"`
}

func fail(field string, err error) error {
	return &ResponseDecodingError{Field: field, Err: err}
}

// Transactions decodes a list of tagged blobs. The companion sometimes sends
// the list as a JSON string holding JSON, so one level of quoting is peeled.
func Transactions(raw json.RawMessage) ([]model.Transaction, error) {
	body, err := unquote(raw)
	if err != nil {
		return nil, fail("transactions", err)
	}

	var blobs []wireBlob
	if err := json.Unmarshal(body, &blobs); err != nil {
		return nil, fail("transactions", err)
	}

	txs := make([]model.Transaction, 0, len(blobs))
	for i, b := range blobs {
		field := fmt.Sprintf("transactions[%d]", i)
		if b.Kind == nil {
			return nil, fail(field, errors.New("missing kind"))
		}
		if !b.Kind.Valid() {
			return nil, fail(field, fmt.Errorf("unknown blob kind %d", *b.Kind))
		}
		if b.Data == nil {
			return nil, fail(field, errors.New("missing data"))
		}
		data, err := decodeBase64(*b.Data)
		if err != nil {
			return nil, fail(field, err)
		}
		txs = append(txs, model.Transaction{Kind: *b.Kind, Raw: data})
	}
	return txs, nil
}

// Signature returns the signMessage result unchanged. A JSON string is
// unquoted; any other JSON value is returned as its literal text.
func Signature(raw json.RawMessage) (string, error) {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 {
		return "", fail("signature", ErrEmpty)
	}
	if s[0] == '"' {
		var out string
		if err := json.Unmarshal(s, &out); err != nil {
			return "", fail("signature", err)
		}
		return out, nil
	}
	if !json.Valid(s) {
		return "", fail("signature", errors.New("invalid JSON"))
	}
	return string(s), nil
}

// Address decodes the connect result: the base58 address of a 32-byte
// public key.
func Address(raw json.RawMessage) (string, []byte, error) {
	var addr string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &addr); err != nil {
		return "", nil, fail("address", err)
	}
	if addr == "" {
		return "", nil, fail("address", ErrEmpty)
	}
	key, err := base58.Decode(addr)
	if err != nil {
		return "", nil, fail("address", err)
	}
	if len(key) != PublicKeyLen {
		return "", nil, fail("address", fmt.Errorf("public key is %d bytes, want %d", len(key), PublicKeyLen))
	}
	return addr, key, nil
}

func unquote(raw json.RawMessage) ([]byte, error) {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 {
		return nil, ErrEmpty
	}
	if s[0] != '"' {
		return s, nil
	}
	var inner string
	if err := json.Unmarshal(s, &inner); err != nil {
		return nil, err
	}
	return []byte(inner), nil
}

// decodeBase64 accepts padded or unpadded input in the standard or URL-safe
// alphabet.
func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
