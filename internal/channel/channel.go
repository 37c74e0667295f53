// Package channel publishes requests to the companion signer's relay and
// fetches poll results from it over HTTP.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmehdipour/oob-signer/internal/envelope"
	"github.com/jmehdipour/oob-signer/internal/model"
)

const maxResultBytes = 8 << 20

var ErrBreakerOpen = errors.New("relay breaker open")

// Poller is the part of a channel the polling state machine depends on.
type Poller interface {
	Poll(ctx context.Context, sessionID string) (model.PollResult, error)
}

// TransientError is a single failed poll. It never ends an operation.
type TransientError struct {
	SessionID string
	Status    int // 0 when no response was received
	Err       error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("poll session=%s status=%d", e.SessionID, e.Status)
	}
	return fmt.Sprintf("poll session=%s: %v", e.SessionID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err came from a recoverable poll failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type HTTPChannel struct {
	baseURL   string
	actionURL string
	client    *http.Client
	br        *MicroBreaker
}

func NewHTTPChannel(
	baseURL, actionURL string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPChannel {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	if failThreshold <= 0 {
		failThreshold = 5
	}

	if openForMs <= 0 {
		openForMs = 2000
	}

	return &HTTPChannel{
		baseURL:   strings.TrimRight(baseURL, "/"),
		actionURL: actionURL,
		client:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:        NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (c *HTTPChannel) BreakerState() string { return c.br.State() }

// CompanionURL is the address the companion device opens for a token.
func (c *HTTPChannel) CompanionURL(token, sessionID string) string {
	return c.actionURL + token + "&uuid=" + url.QueryEscape(sessionID)
}

// Publish turns env into a companion URL. With preconnect the full envelope
// is posted first and the URL only references the session, which keeps QR
// codes small for multi-transaction payloads.
func (c *HTTPChannel) Publish(ctx context.Context, env model.Envelope, preconnect bool) (string, error) {
	token, err := envelope.Encode(env)
	if err != nil {
		return "", err
	}

	if preconnect {
		if err := c.Preconnect(ctx, env.SessionID, token); err != nil {
			return "", err
		}
		token, err = envelope.Encode(envelope.Preconnected(env.SessionID))
		if err != nil {
			return "", err
		}
	}

	return c.CompanionURL(token, env.SessionID), nil
}

// Preconnect posts a full envelope token ahead of the companion URL. It
// shares the relay breaker with Poll, so an open breaker fails it fast.
func (c *HTTPChannel) Preconnect(ctx context.Context, sessionID, token string) error {
	b, _ := json.Marshal(model.PreconnectBody{Data: token})
	endpoint := c.baseURL + "/preconnect/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}

	if !c.br.TryAcquire() {
		return fmt.Errorf("preconnect session=%s: %w", sessionID, ErrBreakerOpen)
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		c.br.OnFailure()
		return fmt.Errorf("preconnect session=%s: %w", sessionID, err)
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResultBytes))

	if res.StatusCode/100 != 2 {
		c.br.OnFailure()
		return fmt.Errorf("preconnect session=%s status=%d", sessionID, res.StatusCode)
	}

	c.br.OnSuccess()

	return nil
}

// Poll asks the relay whether the companion has answered. A body whose data
// field is absent or null means "not yet". Every failure is a *TransientError.
func (c *HTTPChannel) Poll(ctx context.Context, sessionID string) (model.PollResult, error) {
	if !c.br.TryAcquire() {
		return model.PollResult{}, &TransientError{SessionID: sessionID, Err: ErrBreakerOpen}
	}

	res, err := c.get(ctx, sessionID)
	if err != nil {
		c.br.OnFailure()
		return model.PollResult{}, err
	}

	c.br.OnSuccess()

	return res, nil
}

func (c *HTTPChannel) get(ctx context.Context, sessionID string) (model.PollResult, error) {
	endpoint := c.baseURL + "/result/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.PollResult{}, &TransientError{SessionID: sessionID, Err: err}
	}

	res, err := c.client.Do(req)
	if err != nil {
		return model.PollResult{}, &TransientError{SessionID: sessionID, Err: err}
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResultBytes))
		return model.PollResult{}, &TransientError{SessionID: sessionID, Status: res.StatusCode}
	}

	var body model.ResultBody
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResultBytes)).Decode(&body); err != nil {
		return model.PollResult{}, &TransientError{SessionID: sessionID, Err: fmt.Errorf("decode result body: %w", err)}
	}

	if isNull(body.Data) {
		return model.PollResult{}, nil
	}

	return model.PollResult{Present: true, Data: body.Data}, nil
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}
