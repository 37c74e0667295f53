package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/oob-signer/internal/base58"
	"github.com/jmehdipour/oob-signer/internal/decoder"
	"github.com/jmehdipour/oob-signer/internal/envelope"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/poller"
	"github.com/jmehdipour/oob-signer/internal/presenter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel answers the first poll of every session with whatever reply
// returns for the published envelope.
type fakeChannel struct {
	mu         sync.Mutex
	published  []model.Envelope
	preconnect []bool
	reply      func(env model.Envelope) json.RawMessage
	publishErr error
}

func (f *fakeChannel) Publish(_ context.Context, env model.Envelope, preconnect bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, env)
	f.preconnect = append(f.preconnect, preconnect)
	token, err := envelope.Encode(env)
	return "https://companion/qr?token=" + token + "&uuid=" + env.SessionID, err
}

func (f *fakeChannel) Poll(_ context.Context, sessionID string) (model.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.published {
		if env.SessionID == sessionID {
			data := f.reply(env)
			if data == nil {
				return model.PollResult{}, nil
			}
			return model.PollResult{Present: true, Data: data}, nil
		}
	}
	return model.PollResult{}, errors.New("unknown session")
}

func testKey() (string, []byte) {
	key := make([]byte, decoder.PublicKeyLen)
	for i := range key {
		key[i] = byte(200 - i)
	}
	return base58.Encode(key), key
}

func newAdapter(ch *fakeChannel, pres presenter.Presenter) *Adapter {
	p := poller.New(ch, poller.Config{Interval: time.Millisecond, MaxAttempts: 3}, nil)
	return New(Config{Chain: model.SolanaMainnet, Origin: "https://dapp.example", Preconnect: true}, ch, p, pres, nil)
}

func opened() presenter.Presenter {
	return presenter.Func(func(context.Context, string) (presenter.Handle, error) { return presenter.Opened, nil })
}

func TestConnectStoresWallet(t *testing.T) {
	addr, key := testKey()
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage {
		return json.RawMessage(strconv.Quote(addr))
	}}
	a := newAdapter(ch, opened())

	var events []EventType
	a.OnEvent = func(e Event) { events = append(events, e.Type) }

	w, rc, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, rc.OK())
	require.NotNil(t, w)
	assert.Equal(t, addr, w.Address)
	assert.Equal(t, key, w.PublicKey)
	assert.True(t, w.Connected)
	assert.Equal(t, rc.SessionID, w.SessionID)
	assert.True(t, a.Connected())
	assert.Equal(t, []EventType{EventConnect}, events)

	require.Len(t, ch.published, 1)
	assert.Equal(t, model.KindConnect, ch.published[0].Kind)
	assert.False(t, ch.preconnect[0], "connect is never preconnected")
}

func TestConnectWithoutAnswerDisconnects(t *testing.T) {
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return nil }}
	a := newAdapter(ch, opened())

	var events []EventType
	a.OnEvent = func(e Event) { events = append(events, e.Type) }

	w, rc, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Equal(t, poller.TimedOut, rc.State)
	assert.Equal(t, 3, rc.Attempts)
	assert.False(t, a.Connected())
	assert.Equal(t, []EventType{EventDisconnect}, events)
}

func TestConnectBlockedPresentationIsNoResult(t *testing.T) {
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return json.RawMessage(`"x"`) }}
	a := newAdapter(ch, presenter.Blocked)

	w, rc, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Equal(t, poller.Cancelled, rc.State)
}

func TestConnectBadAddress(t *testing.T) {
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return json.RawMessage(`"0OIl"`) }}
	a := newAdapter(ch, opened())

	var gotErr error
	a.OnEvent = func(e Event) {
		if e.Type == EventError {
			gotErr = e.Err
		}
	}

	_, _, err := a.Connect(context.Background())
	require.ErrorIs(t, err, ErrPublicKey)
	var rde *decoder.ResponseDecodingError
	assert.ErrorAs(t, err, &rde)
	assert.Equal(t, err, gotErr)
	assert.False(t, a.Connected())
}

func TestConnectPublishFailure(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("relay down")}
	_, _, err := newAdapter(ch, opened()).Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSignRequiresConnection(t *testing.T) {
	a := newAdapter(&fakeChannel{}, opened())

	_, _, err := a.SignMessage(context.Background(), []byte("hi"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, _, err = a.SignAllTransactions(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, _, err = a.SignTransaction(context.Background(), model.Transaction{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSignMessage(t *testing.T) {
	addr, _ := testKey()
	ch := &fakeChannel{reply: func(env model.Envelope) json.RawMessage {
		msg, err := envelope.Message(env)
		if err != nil {
			return nil
		}
		return json.RawMessage(strconv.Quote("sig:" + string(msg)))
	}}
	a := newAdapter(ch, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)

	sig, rc, err := a.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.True(t, rc.OK())
	assert.Equal(t, "sig:hello", sig)
	assert.Equal(t, model.KindSign, rc.Kind)
	assert.True(t, ch.preconnect[0])
}

func TestEveryOperationMintsANewSession(t *testing.T) {
	addr, _ := testKey()
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return json.RawMessage(`"s"`) }}
	a := newAdapter(ch, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)

	_, rc1, err := a.SignMessage(context.Background(), []byte("a"))
	require.NoError(t, err)
	_, rc2, err := a.SignMessage(context.Background(), []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, rc1.SessionID, rc2.SessionID)
}

func TestSignAllTransactionsPreservesOrder(t *testing.T) {
	addr, _ := testKey()
	ch := &fakeChannel{reply: func(env model.Envelope) json.RawMessage {
		blobs, err := envelope.Transactions(env)
		if err != nil {
			return nil
		}
		out := make([]model.TaggedBlob, 0, len(blobs))
		for _, b := range blobs {
			raw, _ := base58.Decode(b.Data)
			out = append(out, model.TaggedBlob{Kind: b.Kind, Data: base64.StdEncoding.EncodeToString(append(raw, 0xAA))})
		}
		inner, _ := json.Marshal(out)
		return json.RawMessage(strconv.Quote(string(inner)))
	}}
	a := newAdapter(ch, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)

	txs := []model.Transaction{
		{Kind: model.BlobLegacy, Raw: []byte{1}},
		{Kind: model.BlobVersioned, Raw: []byte{2}},
	}
	signed, rc, err := a.SignAllTransactions(context.Background(), txs)
	require.NoError(t, err)
	assert.True(t, rc.OK())
	require.Len(t, signed, 2)
	assert.Equal(t, model.Transaction{Kind: model.BlobLegacy, Raw: []byte{1, 0xAA}}, signed[0])
	assert.Equal(t, model.Transaction{Kind: model.BlobVersioned, Raw: []byte{2, 0xAA}}, signed[1])

	one, _, err := a.SignTransaction(context.Background(), txs[1])
	require.NoError(t, err)
	assert.Equal(t, model.BlobVersioned, one.Kind)
}

func TestSignAllTransactionsDecodingError(t *testing.T) {
	addr, _ := testKey()
	ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return json.RawMessage(`[{"t":9,"d":""}]`) }}
	a := newAdapter(ch, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)

	_, _, err = a.SignAllTransactions(context.Background(), []model.Transaction{{Kind: model.BlobLegacy, Raw: []byte{1}}})
	require.ErrorIs(t, err, ErrSignTransaction)
	var rde *decoder.ResponseDecodingError
	assert.ErrorAs(t, err, &rde)
}

func TestSignTransactionRejectsIncompleteAnswers(t *testing.T) {
	addr, _ := testKey()
	for _, answer := range []string{`[]`, `[{"t":1}]`, `[{"d":"AAE="}]`} {
		ch := &fakeChannel{reply: func(model.Envelope) json.RawMessage { return json.RawMessage(answer) }}
		a := newAdapter(ch, opened())
		_, err := a.Resume(addr)
		require.NoError(t, err)

		tx, rc, err := a.SignTransaction(context.Background(), model.Transaction{Kind: model.BlobVersioned, Raw: []byte{1}})
		require.ErrorIs(t, err, ErrSignTransaction, answer)
		var rde *decoder.ResponseDecodingError
		assert.ErrorAs(t, err, &rde, answer)
		assert.True(t, rc.OK(), "the poll itself completed")
		assert.Equal(t, model.Transaction{}, tx)
	}
}

func TestSignTransactionTimeoutIsNotAnError(t *testing.T) {
	addr, _ := testKey()
	a := newAdapter(&fakeChannel{reply: func(model.Envelope) json.RawMessage { return nil }}, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)

	_, rc, err := a.SignTransaction(context.Background(), model.Transaction{Kind: model.BlobLegacy, Raw: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, poller.TimedOut, rc.State)
}

func TestResumeRejectsBadAddress(t *testing.T) {
	a := newAdapter(&fakeChannel{}, opened())
	_, err := a.Resume("abc")
	assert.ErrorIs(t, err, ErrPublicKey)
	assert.Nil(t, a.Wallet())
}

func TestDisconnectClearsWallet(t *testing.T) {
	addr, _ := testKey()
	a := newAdapter(&fakeChannel{}, opened())
	_, err := a.Resume(addr)
	require.NoError(t, err)
	require.NotNil(t, a.Wallet())

	a.Disconnect()
	assert.Nil(t, a.Wallet())
	assert.False(t, a.Connected())
}
