package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/oob-signer/internal/kafka"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (s *chanSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *chanSource) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

type memAudit struct {
	mu   sync.Mutex
	rows []model.SessionRecord
}

func (r *memAudit) UpsertBatch(_ context.Context, _ *sqlx.Tx, rows []model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *memAudit) Get(context.Context, string) (*model.SessionRecord, error) { return nil, nil }

func msg(t *testing.T, offset int64, ev model.SessionEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(ev.SessionID), Value: b}
}

func TestFoldMergesPerSession(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.SessionEvent{
		{SessionID: "b", Stage: model.StageCompleted, At: t0.Add(2 * time.Second)},
		{SessionID: "b", Stage: model.StagePreconnected, Kind: "send", Origin: "https://x.example", At: t0},
		{SessionID: "a", Stage: model.StagePreconnected, Kind: "unknown", At: t0},
	}

	rows := Fold(events)
	require.Len(t, rows, 2)

	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "unknown", rows[0].Kind)

	b := rows[1]
	assert.Equal(t, model.StageCompleted, b.Stage)
	assert.Equal(t, "send", b.Kind)
	assert.Equal(t, "https://x.example", b.Origin)
	assert.Equal(t, t0, b.CreatedAt)
	assert.Equal(t, t0.Add(2*time.Second), b.UpdatedAt)
}

func TestFoldCompletedWinsTie(t *testing.T) {
	at := time.Now()
	rows := Fold([]model.SessionEvent{
		{SessionID: "s", Stage: model.StageCompleted, At: at},
		{SessionID: "s", Stage: model.StagePreconnected, At: at},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, model.StageCompleted, rows[0].Stage)
}

func TestAuditRunWritesAndCommits(t *testing.T) {
	src := &chanSource{in: make(chan kafka.Message, 8)}
	repo := &memAudit{}
	w := NewAudit(src, repo, nil)
	w.BatchSize = 3
	w.BatchWait = 20 * time.Millisecond

	sid := util.NewSessionID()
	now := time.Now().UTC()
	src.in <- msg(t, 1, model.SessionEvent{SessionID: sid, Stage: model.StagePreconnected, Kind: "sign", At: now})
	src.in <- kafka.Message{Offset: 2, Value: []byte("{not json")}
	src.in <- msg(t, 3, model.SessionEvent{SessionID: sid, Stage: model.StageCompleted, At: now.Add(time.Second)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return src.commits() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.NotEmpty(t, repo.rows)
	last := repo.rows[len(repo.rows)-1]
	assert.Equal(t, sid, last.ID)
}

func TestAuditCommitsEachPartitionInOffsetOrder(t *testing.T) {
	const perPartition = 25
	src := &chanSource{in: make(chan kafka.Message, 2*perPartition)}
	w := NewAudit(src, &memAudit{}, nil)
	w.Workers = 4
	w.BatchSize = 1

	now := time.Now().UTC()
	for i := int64(1); i <= perPartition; i++ {
		for _, p := range []int{0, 5} {
			m := msg(t, i, model.SessionEvent{SessionID: util.NewSessionID(), Stage: model.StageCompleted, At: now})
			m.Partition = p
			src.in <- m
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return src.commits() == 2*perPartition }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	src.mu.Lock()
	defer src.mu.Unlock()
	last := map[int]int64{}
	for _, m := range src.committed {
		assert.Greater(t, m.Offset, last[m.Partition], "partition %d", m.Partition)
		last[m.Partition] = m.Offset
	}
}

func TestLaneOf(t *testing.T) {
	assert.Equal(t, 1, laneOf(5, 4))
	assert.Equal(t, 0, laneOf(0, 4))
	assert.Equal(t, 3, laneOf(-3, 4))
}

func TestAuditRunNeedsDependencies(t *testing.T) {
	assert.Error(t, (&Audit{}).Run(context.Background()))
}
