package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/oob-signer/internal/envelope"
	"github.com/jmehdipour/oob-signer/internal/metrics"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/util"
	"go.uber.org/zap"
)

var (
	ErrInvalidSession = errors.New("invalid session id")
	ErrEmptyPayload   = errors.New("empty payload")
)

// Publisher announces session transitions to the audit pipeline.
type Publisher interface {
	Publish(ctx context.Context, ev model.SessionEvent) error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.SessionEvent) error { return nil }

// Service is the companion mailbox: requesters park payloads under a session
// id, companions fetch them and hand results back under the same id.
type Service struct {
	store repository.SessionStore
	pub   Publisher
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

func New(store repository.SessionStore, pub Publisher, ttl time.Duration, log *zap.Logger) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{store: store, pub: pub, ttl: ttl, log: log, now: time.Now}
}

// Preconnect stores token for the companion to fetch. Tokens that are not
// envelopes are kept as-is; they only lose their audit kind and origin.
func (s *Service) Preconnect(ctx context.Context, id, token string) error {
	if !util.ValidSessionID(id) {
		return ErrInvalidSession
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyPayload
	}

	if err := s.store.PutPreconnect(ctx, id, token, s.ttl); err != nil {
		return fmt.Errorf("store preconnect: %w", err)
	}

	ev := model.SessionEvent{SessionID: id, Stage: model.StagePreconnected, Kind: "unknown", At: s.now().UTC()}
	if env, err := envelope.Decode(token); err != nil {
		s.log.Warn("preconnect payload is not an envelope", zap.String("session_id", id), zap.Error(err))
	} else {
		ev.Kind = env.Kind.String()
		ev.Origin = util.NormalizeOrigin(env.Origin)
	}

	s.announce(ctx, ev)
	return nil
}

func (s *Service) PreconnectPayload(ctx context.Context, id string) (string, bool, error) {
	if !util.ValidSessionID(id) {
		return "", false, ErrInvalidSession
	}
	return s.store.GetPreconnect(ctx, id)
}

// SubmitResult records the companion's answer. Only the first answer counts;
// a second one fails with repository.ErrResultExists.
func (s *Service) SubmitResult(ctx context.Context, id string, data json.RawMessage) error {
	if !util.ValidSessionID(id) {
		return ErrInvalidSession
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyPayload
	}

	if err := s.store.PutResult(ctx, id, trimmed, s.ttl); err != nil {
		if errors.Is(err, repository.ErrResultExists) {
			return err
		}
		return fmt.Errorf("store result: %w", err)
	}

	s.announce(ctx, model.SessionEvent{SessionID: id, Stage: model.StageCompleted, At: s.now().UTC()})
	return nil
}

func (s *Service) Result(ctx context.Context, id string) (json.RawMessage, bool, error) {
	if !util.ValidSessionID(id) {
		return nil, false, ErrInvalidSession
	}
	return s.store.GetResult(ctx, id)
}

// announce never fails the request: the mailbox has already accepted the
// payload and the audit trail is best effort.
func (s *Service) announce(ctx context.Context, ev model.SessionEvent) {
	metrics.RelaySessionsTotal.WithLabelValues(ev.Stage.String()).Inc()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publish session event failed",
			zap.String("session_id", ev.SessionID),
			zap.String("stage", ev.Stage.String()),
			zap.Error(err),
		)
	}
}
