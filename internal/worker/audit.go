package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/oob-signer/internal/kafka"
	"github.com/jmehdipour/oob-signer/internal/metrics"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/util"
	"go.uber.org/zap"
)

// Audit:
// - fetches session events from Kafka,
// - folds them per session,
// - upserts relay_sessions in batches and commits offsets once written.
type Audit struct {
	// Dependencies
	Source kafka.Source
	Repo   repository.AuditRepository
	Log    *zap.Logger

	// Behavior
	Workers   int           // goroutines decoding messages
	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewAudit(src kafka.Source, repo repository.AuditRepository, log *zap.Logger) *Audit {
	if log == nil {
		log = zap.NewNop()
	}
	return &Audit{
		Source:    src,
		Repo:      repo,
		Log:       log,
		Workers:   4,
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

type auditItem struct {
	ev  model.SessionEvent
	msg kafka.Message
	ok  bool // false for poison messages; committed but not written
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Audit) Run(ctx context.Context) error {
	if w.Source == nil || w.Repo == nil {
		return errors.New("audit: missing source or repository")
	}
	if w.Workers <= 0 {
		w.Workers = 4
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}

	// One decoder per partition slot keeps offsets of a partition in fetch
	// order all the way into the batch writer.
	lanes := make([]chan kafka.Message, w.Workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 2)
	}
	items := make(chan auditItem, w.BatchSize*2)
	done := make(chan struct{})

	go func() {
		defer close(done)
		w.runBatchWriter(ctx, items)
	}()

	// Fetcher goroutine
	go func() {
		defer func() {
			for _, l := range lanes {
				close(l)
			}
		}()
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("audit: kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case lanes[laneOf(m.Partition, len(lanes))] <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for _, l := range lanes {
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				items <- w.decode(m)
			}
		}(l)
	}
	wg.Wait()
	close(items)
	<-done
	return nil
}

func laneOf(partition, lanes int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % lanes
}

func (w *Audit) decode(m kafka.Message) auditItem {
	var ev model.SessionEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		w.Log.Warn("audit: bad event json", zap.Int64("offset", m.Offset), zap.Error(err))
		return auditItem{msg: m}
	}
	if !util.ValidSessionID(ev.SessionID) || !ev.Stage.Valid() {
		w.Log.Warn("audit: invalid event", zap.Int64("offset", m.Offset), zap.String("session_id", ev.SessionID))
		return auditItem{msg: m}
	}
	if ev.At.IsZero() {
		ev.At = m.Time
	}
	return auditItem{ev: ev, msg: m, ok: true}
}

// runBatchWriter does size/time-based flushes. Offsets are committed only
// after the rows are written. Each partition arrives in offset order, so a
// commit never skips an unwritten event and a crash replays from the last
// flushed batch.
func (w *Audit) runBatchWriter(ctx context.Context, in <-chan auditItem) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var batch []auditItem

	flush := func() {
		if len(batch) == 0 {
			return
		}

		events := make([]model.SessionEvent, 0, len(batch))
		msgs := make([]kafka.Message, 0, len(batch))
		for _, it := range batch {
			if it.ok {
				events = append(events, it.ev)
			}
			msgs = append(msgs, it.msg)
		}
		rows := Fold(events)

		// ctx may already be cancelled on shutdown; the last flush still runs.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := w.Repo.UpsertBatch(wctx, nil, rows); err != nil {
			w.Log.Error("audit: upsert batch failed", zap.Int("rows", len(rows)), zap.Error(err))
			if len(batch) < w.BatchSize*4 {
				return // keep the batch, retry on next tick
			}
			w.Log.Error("audit: dropping batch", zap.Int("events", len(batch)))
			batch = batch[:0]
			return
		}
		if err := w.Source.Commit(wctx, msgs...); err != nil {
			w.Log.Warn("audit: commit failed", zap.Error(err))
		}

		metrics.AuditFlushedTotal.Add(float64(len(rows)))
		w.Log.Debug("audit: flushed", zap.Int("events", len(events)), zap.Int("rows", len(rows)))
		batch = batch[:0]
	}

	for {
		select {
		case it, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, it)
			if len(batch) >= w.BatchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}

// Fold collapses events into one row per session, ordered by id. The latest
// event decides the stage; later empty kind or origin values never erase
// earlier ones.
func Fold(events []model.SessionEvent) []model.SessionRecord {
	byID := make(map[string]*model.SessionRecord, len(events))
	for _, ev := range events {
		r, ok := byID[ev.SessionID]
		if !ok {
			byID[ev.SessionID] = &model.SessionRecord{
				ID:        ev.SessionID,
				Kind:      ev.Kind,
				Origin:    ev.Origin,
				Stage:     ev.Stage,
				CreatedAt: ev.At,
				UpdatedAt: ev.At,
			}
			continue
		}
		if ev.Kind != "" && (r.Kind == "" || r.Kind == "unknown") {
			r.Kind = ev.Kind
		}
		if ev.Origin != "" && r.Origin == "" {
			r.Origin = ev.Origin
		}
		if ev.At.Before(r.CreatedAt) {
			r.CreatedAt = ev.At
		}
		if ev.At.After(r.UpdatedAt) || (ev.At.Equal(r.UpdatedAt) && ev.Stage == model.StageCompleted) {
			r.UpdatedAt = ev.At
			r.Stage = ev.Stage
		}
	}

	out := make([]model.SessionRecord, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
