package pgsafety

import (
	"context"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const recordColumns = `contact_id, channel, notice, address, attempted_at, outcome, failure_reason, message_id, transient`

// insertRecords writes recs under the given key prefix. Records are
// append-only and keyed by position, so rows written by an earlier update
// are skipped by ON CONFLICT.
func insertRecords(ctx context.Context, tx pgx.Tx, query string, key []any, recs []models.NotificationRecord) error {
	for i, r := range recs {
		args := make([]any, 0, len(key)+10)
		args = append(args, key...)
		args = append(args, i,
			r.ContactID, string(r.Channel), string(r.Notice), r.Address, r.AttemptedAt,
			string(r.Outcome), r.FailureReason, r.MessageID, r.Transient)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Wrap(err, "insert notification record")
		}
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]models.NotificationRecord, error) {
	defer rows.Close()
	out := make([]models.NotificationRecord, 0)
	for rows.Next() {
		var r models.NotificationRecord
		if err := rows.Scan(
			&r.ContactID, &r.Channel, &r.Notice, &r.Address, &r.AttemptedAt,
			&r.Outcome, &r.FailureReason, &r.MessageID, &r.Transient,
		); err != nil {
			return nil, errors.Wrap(err, "scan notification record")
		}
		r.AttemptedAt = r.AttemptedAt.UTC()
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// versionMiss tells a stale version apart from a missing row after an
// UPDATE ... WHERE version = $n matched nothing.
func versionMiss(ctx context.Context, tx pgx.Tx, table, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check existence")
	}
	if !exists {
		return errors.Wrapf(models.ErrNotFound, "%s %s", table, id)
	}
	return errors.Wrapf(models.ErrConflict, "%s %s", table, id)
}
