package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmoiron/sqlx"
)

// AuditRepository persists relay session transitions in relay_sessions.
type AuditRepository interface {
	UpsertBatch(ctx context.Context, tx *sqlx.Tx, rows []model.SessionRecord) error
	Get(ctx context.Context, id string) (*model.SessionRecord, error)
}

type AuditRepositoryImpl struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepositoryImpl {
	return &AuditRepositoryImpl{db: db}
}

var _ AuditRepository = (*AuditRepositoryImpl)(nil)

func (r *AuditRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// UpsertBatch writes many rows with one statement. A later stage overwrites
// an earlier one, but an empty kind or origin never erases a known value.
func (r *AuditRepositoryImpl) UpsertBatch(ctx context.Context, tx *sqlx.Tx, rows []model.SessionRecord) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*6)

	sb.WriteString(`INSERT INTO relay_sessions (id, kind, origin, stage, created_at, updated_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, rw.ID, rw.Kind, rw.Origin, rw.Stage.String(), rw.CreatedAt, rw.UpdatedAt)
	}
	sb.WriteString(`
		ON DUPLICATE KEY UPDATE
		    kind       = IF(VALUES(kind) = '', kind, VALUES(kind)),
		    origin     = IF(VALUES(origin) = '', origin, VALUES(origin)),
		    stage      = IF(VALUES(updated_at) >= updated_at, VALUES(stage), stage),
		    updated_at = GREATEST(updated_at, VALUES(updated_at))
	`)

	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	})
}

func (r *AuditRepositoryImpl) Get(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT id, kind, origin, stage, created_at, updated_at
		  FROM relay_sessions
		 WHERE id = ? LIMIT 1
	`, id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
