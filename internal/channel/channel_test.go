package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/oob-signer/internal/base58"
	"github.com/jmehdipour/oob-signer/internal/envelope"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const actionURL = "https://companion.example/qr.html?token="

func TestPollReportsAbsentAndPresentData(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/result/sid-1", r.URL.Path)
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"data":null}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":"sig"}`)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL+"/", actionURL, 1000, 3, 1000)

	res, err := ch.Poll(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.False(t, res.Present)

	res, err = ch.Poll(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.True(t, res.Present)
	assert.JSONEq(t, `"sig"`, string(res.Data))
}

func TestPollMissingDataFieldIsNotYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	res, err := NewHTTPChannel(srv.URL, actionURL, 1000, 3, 1000).Poll(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, res.Present)
}

func TestPollFailuresAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad-json") {
			_, _ = io.WriteString(w, `<html>`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 10, 1000)

	_, err := ch.Poll(context.Background(), "sid")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.Status)

	_, err = ch.Poll(context.Background(), "bad-json")
	assert.True(t, IsTransient(err))

	dead := NewHTTPChannel("http://127.0.0.1:1", actionURL, 200, 10, 1000)
	_, err = dead.Poll(context.Background(), "sid")
	assert.True(t, IsTransient(err))
}

func TestPollSkipsCallsWhileBreakerOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 2, 60_000)
	for i := 0; i < 5; i++ {
		_, err := ch.Poll(context.Background(), "sid")
		require.True(t, IsTransient(err))
	}

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "open", ch.BreakerState())

	_, err := ch.Poll(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestPreconnectPostsToken(t *testing.T) {
	var got model.PreconnectBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/preconnect/sid-7", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 3, 1000)
	require.NoError(t, ch.Preconnect(context.Background(), "sid-7", "abc"))
	assert.Equal(t, "abc", got.Data)
}

func TestPreconnectRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	err := NewHTTPChannel(srv.URL, actionURL, 1000, 3, 1000).Preconnect(context.Background(), "s", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=413")
}

func TestPreconnectSkippedWhileBreakerOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 1, 60_000)
	ch.br.OnFailure()
	require.Equal(t, "open", ch.BreakerState())

	err := ch.Preconnect(context.Background(), "sid", "t")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.EqualValues(t, 0, calls.Load())
}

func TestPreconnectWaitsWhileHalfOpenCallInFlight(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 1, 1000)
	ch.br.now = func() time.Time { return now }
	ch.br.OnFailure()

	now = now.Add(2 * time.Second)
	require.True(t, ch.br.TryAcquire(), "poll takes the half-open slot")

	err := ch.Preconnect(context.Background(), "sid", "t")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.EqualValues(t, 0, calls.Load())
	assert.Equal(t, "half-open", ch.BreakerState())
}

func TestPublishWithoutPreconnectEmbedsEnvelope(t *testing.T) {
	ch := NewHTTPChannel("http://unused", actionURL, 1000, 3, 1000)
	env := envelope.Connect(model.SolanaMainnet, "sid-1", "https://dapp.example", "")

	link, err := ch.Publish(context.Background(), env, false)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, actionURL))

	token, uuid := splitCompanionURL(t, link)
	assert.Equal(t, "sid-1", uuid)

	back, err := envelope.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, env.Kind, back.Kind)
	assert.Equal(t, env.SessionID, back.SessionID)
}

func TestPublishWithPreconnectEmbedsReference(t *testing.T) {
	var posted model.PreconnectBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&posted)
	}))
	defer srv.Close()

	ch := NewHTTPChannel(srv.URL, actionURL, 1000, 3, 1000)
	txs := []model.Transaction{{Kind: model.BlobLegacy, Raw: []byte{1}}, {Kind: model.BlobVersioned, Raw: []byte{2}}}
	env := envelope.Send(model.SolanaMainnet, envelope.Blobs(txs), "sid-2", "o", "")

	link, err := ch.Publish(context.Background(), env, true)
	require.NoError(t, err)

	full, err := envelope.Decode(posted.Data)
	require.NoError(t, err)
	assert.Equal(t, model.KindSend, full.Kind)

	token, uuid := splitCompanionURL(t, link)
	assert.Equal(t, "sid-2", uuid)
	raw, err := base58.Decode(token)
	require.NoError(t, err)
	assert.JSONEq(t, `{"i":"sid-2","p":1}`, string(raw))
}

func splitCompanionURL(t *testing.T, link string) (token, uuid string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	return q.Get("token"), q.Get("uuid")
}
