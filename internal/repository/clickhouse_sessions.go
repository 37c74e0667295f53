package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHSessionsRepository lists audited sessions from ClickHouse (final view).
type CHSessionsRepository interface {
	ListRecent(ctx context.Context, filter SessionFilter, limit, offset int) ([]model.SessionRecord, error)
}

type SessionFilter struct {
	Kind   string
	Stage  model.SessionStage
	Origin string
}

type chSessionsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHSessionsRepository(ch *sqlx.DB) CHSessionsRepository {
	return &chSessionsRepository{ch: ch}
}

// buildListQuery is split out so the query shape can be tested without a server.
func buildListQuery(f SessionFilter, limit, offset int) (string, []any) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, kind, origin, stage, created_at, updated_at
		FROM oobsign.relay_sessions_latest
		WHERE 1 = 1
	`
	var args []any

	if f.Kind != "" {
		q += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Stage != "" {
		q += " AND stage = ?"
		args = append(args, f.Stage.String())
	}
	if f.Origin != "" {
		q += " AND origin = ?"
		args = append(args, f.Origin)
	}

	q += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return q, args
}

func (r *chSessionsRepository) ListRecent(ctx context.Context, f SessionFilter, limit, offset int) ([]model.SessionRecord, error) {
	q, args := buildListQuery(f, limit, offset)

	var rows []model.SessionRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
