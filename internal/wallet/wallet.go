// Package wallet exposes connect and signing operations backed by an
// out-of-band companion signer.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/oob-signer/internal/channel"
	"github.com/jmehdipour/oob-signer/internal/decoder"
	"github.com/jmehdipour/oob-signer/internal/envelope"
	"github.com/jmehdipour/oob-signer/internal/metrics"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/poller"
	"github.com/jmehdipour/oob-signer/internal/presenter"
	"github.com/jmehdipour/oob-signer/internal/util"
	"go.uber.org/zap"
)

var (
	ErrNotConnected    = errors.New("wallet not connected")
	ErrConnection      = errors.New("wallet connection failed")
	ErrPublicKey       = errors.New("invalid wallet public key")
	ErrSignMessage     = errors.New("sign message failed")
	ErrSignTransaction = errors.New("sign transaction failed")
)

// Channel publishes envelopes and polls their results.
type Channel interface {
	Publish(ctx context.Context, env model.Envelope, preconnect bool) (string, error)
	channel.Poller
}

type Config struct {
	Chain    model.Chain
	Origin   string
	Redirect string
	// Preconnect posts sign/send payloads ahead of the companion URL.
	// Connect requests are always embedded in full.
	Preconnect bool
}

// Receipt describes the request/poll cycle behind one operation. Every
// operation mints its own session id.
type Receipt struct {
	SessionID string
	Kind      model.Kind
	State     poller.State
	Attempts  int
}

// OK is false for timeouts, a missing presentation surface and cancellation.
func (r Receipt) OK() bool { return r.State == poller.Completed }

type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventError      EventType = "error"
)

type Event struct {
	Type      EventType
	PublicKey []byte
	Err       error
}

type Adapter struct {
	cfg   Config
	ch    Channel
	poll  *poller.Poller
	pres  presenter.Presenter
	log   *zap.Logger
	newID func() string

	// OnEvent receives connect, disconnect and error notifications.
	OnEvent func(Event)

	mu     sync.Mutex
	wallet *model.Wallet
}

func New(cfg Config, ch Channel, p *poller.Poller, pres presenter.Presenter, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if pres == nil {
		pres = presenter.Log{L: log}
	}
	return &Adapter{
		cfg:   cfg,
		ch:    ch,
		poll:  p,
		pres:  pres,
		log:   log,
		newID: util.NewSessionID,
	}
}

// Wallet returns a copy of the connected wallet, or nil.
func (a *Adapter) Wallet() *model.Wallet {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wallet == nil {
		return nil
	}
	w := *a.wallet
	return &w
}

func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wallet != nil && a.wallet.Connected
}

// Connect asks the companion for its account. When nothing comes back the
// adapter disconnects and returns a nil wallet without an error.
func (a *Adapter) Connect(ctx context.Context) (*model.Wallet, Receipt, error) {
	sid := a.newID()
	env := envelope.Connect(a.cfg.Chain, sid, a.cfg.Origin, a.cfg.Redirect)

	out, rc, err := a.run(ctx, env, false)
	if err != nil {
		return nil, rc, a.fail(fmt.Errorf("%w: %w", ErrConnection, err))
	}
	if !out.OK() {
		a.Disconnect()
		return nil, rc, nil
	}

	addr, key, err := decoder.Address(out.Data)
	if err != nil {
		return nil, rc, a.fail(fmt.Errorf("%w: %w", ErrPublicKey, err))
	}

	w := a.setWallet(addr, key, sid)
	a.log.Info("wallet connected", zap.String("address", addr), zap.String("session_id", sid))
	a.emit(Event{Type: EventConnect, PublicKey: key})
	return w, rc, nil
}

// Resume restores a wallet whose address is already known, without a
// companion round trip.
func (a *Adapter) Resume(address string) (*model.Wallet, error) {
	quoted, _ := json.Marshal(address)
	_, key, err := decoder.Address(quoted)
	if err != nil {
		return nil, a.fail(fmt.Errorf("%w: %w", ErrPublicKey, err))
	}
	w := a.setWallet(address, key, "")
	a.emit(Event{Type: EventConnect, PublicKey: key})
	return w, nil
}

func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.wallet = nil
	a.mu.Unlock()
	a.emit(Event{Type: EventDisconnect})
}

// SignMessage returns the companion's signature unchanged.
func (a *Adapter) SignMessage(ctx context.Context, message []byte) (string, Receipt, error) {
	if !a.Connected() {
		return "", Receipt{}, a.fail(ErrNotConnected)
	}

	env := envelope.Sign(a.cfg.Chain, message, a.newID(), a.cfg.Origin, a.cfg.Redirect)
	out, rc, err := a.run(ctx, env, a.cfg.Preconnect)
	if err != nil {
		return "", rc, a.fail(fmt.Errorf("%w: %w", ErrSignMessage, err))
	}
	if !out.OK() {
		return "", rc, nil
	}

	sig, err := decoder.Signature(out.Data)
	if err != nil {
		return "", rc, a.fail(fmt.Errorf("%w: %w", ErrSignMessage, err))
	}
	return sig, rc, nil
}

// SignTransaction signs one transaction. If the companion returns several,
// the last one wins.
func (a *Adapter) SignTransaction(ctx context.Context, tx model.Transaction) (model.Transaction, Receipt, error) {
	txs, rc, err := a.SignAllTransactions(ctx, []model.Transaction{tx})
	if err != nil || !rc.OK() {
		return model.Transaction{}, rc, err
	}
	if len(txs) == 0 {
		return model.Transaction{}, rc, a.fail(fmt.Errorf("%w: %w", ErrSignTransaction,
			&decoder.ResponseDecodingError{Field: "transactions", Err: decoder.ErrEmpty}))
	}
	return txs[len(txs)-1], rc, nil
}

// SignAllTransactions sends txs in one request and returns the signed
// transactions in the order the companion sent them.
func (a *Adapter) SignAllTransactions(ctx context.Context, txs []model.Transaction) ([]model.Transaction, Receipt, error) {
	if !a.Connected() {
		return nil, Receipt{}, a.fail(ErrNotConnected)
	}

	env := envelope.Send(a.cfg.Chain, envelope.Blobs(txs), a.newID(), a.cfg.Origin, a.cfg.Redirect)
	out, rc, err := a.run(ctx, env, a.cfg.Preconnect)
	if err != nil {
		return nil, rc, a.fail(fmt.Errorf("%w: %w", ErrSignTransaction, err))
	}
	if !out.OK() {
		return nil, rc, nil
	}

	signed, err := decoder.Transactions(out.Data)
	if err != nil {
		return nil, rc, a.fail(fmt.Errorf("%w: %w", ErrSignTransaction, err))
	}
	return signed, rc, nil
}

func (a *Adapter) run(ctx context.Context, env model.Envelope, preconnect bool) (poller.Outcome, Receipt, error) {
	rc := Receipt{SessionID: env.SessionID, Kind: env.Kind, State: poller.Idle}
	log := a.log.With(zap.String("session_id", env.SessionID), zap.String("kind", env.Kind.String()))

	link, err := a.ch.Publish(ctx, env, preconnect)
	if err != nil {
		return poller.Outcome{}, rc, err
	}

	h, err := a.pres.Present(ctx, link)
	if err != nil {
		log.Warn("presentation failed", zap.Error(err))
		h = nil
	}
	if h != nil {
		defer func() { _ = h.Close() }()
	}

	out := a.poll.Run(ctx, env.SessionID, h != nil)
	rc.State = out.State
	rc.Attempts = out.Attempts
	metrics.OperationsTotal.WithLabelValues(env.Kind.String(), out.State.String()).Inc()

	if !out.OK() {
		log.Info("no result from companion", zap.String("state", out.State.String()), zap.Int("attempts", out.Attempts))
	}
	return out, rc, nil
}

func (a *Adapter) setWallet(addr string, key []byte, sid string) *model.Wallet {
	w := &model.Wallet{
		Address:     addr,
		PublicKey:   key,
		Connected:   true,
		Chain:       a.cfg.Chain,
		Origin:      a.cfg.Origin,
		SessionID:   sid,
		ConnectedAt: time.Now(),
	}
	a.mu.Lock()
	a.wallet = w
	a.mu.Unlock()

	cp := *w
	return &cp
}

func (a *Adapter) fail(err error) error {
	a.emit(Event{Type: EventError, Err: err})
	return err
}

func (a *Adapter) emit(e Event) {
	if a.OnEvent != nil {
		a.OnEvent(e)
	}
}
