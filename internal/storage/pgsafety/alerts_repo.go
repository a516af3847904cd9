package pgsafety

import (
	"context"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	phaseTrigger    = "trigger"
	phaseResolution = "resolution"
)

const insertAlertRecord = `
INSERT INTO alert_notifications (alert_id, phase, seq, ` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (alert_id, phase, seq) DO NOTHING`

func (s *Storage) CreateAlert(ctx context.Context, a *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO alerts (id, user_id, lat, lon, status, created_at, resolved_at, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,1)
`, a.ID, a.UserID, a.Location.Lat, a.Location.Lon, string(a.Status), a.CreatedAt, a.ResolvedAt)
	if err != nil {
		return errors.Wrap(err, "insert alert")
	}
	if err := s.writeAlertRecords(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	a.Version = 1
	return nil
}

func (s *Storage) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return loadAlert(ctx, s.db, id)
}

// UpdateAlert writes a if its version is still current and bumps it.
func (s *Storage) UpdateAlert(ctx context.Context, a *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE alerts
SET status = $3, resolved_at = $4, version = version + 1
WHERE id = $1 AND version = $2
`, a.ID, a.Version, string(a.Status), a.ResolvedAt)
	if err != nil {
		return errors.Wrap(err, "update alert")
	}
	if tag.RowsAffected() == 0 {
		return versionMiss(ctx, tx, "alerts", a.ID)
	}
	if err := s.writeAlertRecords(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	a.Version++
	return nil
}

func (s *Storage) ListActiveAlerts(ctx context.Context, userID string) ([]*models.Alert, error) {
	rows, err := s.db.Query(ctx, `
SELECT id FROM alerts
WHERE user_id = $1 AND status = $2
ORDER BY created_at DESC
`, userID, string(models.AlertStatusActive))
	if err != nil {
		return nil, errors.Wrap(err, "select active alerts")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect alert ids")
	}

	out := make([]*models.Alert, 0, len(ids))
	for _, id := range ids {
		a, err := loadAlert(ctx, s.db, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Storage) writeAlertRecords(ctx context.Context, tx pgx.Tx, a *models.Alert) error {
	if err := insertRecords(ctx, tx, insertAlertRecord, []any{a.ID, phaseTrigger}, a.Notifications); err != nil {
		return err
	}
	return insertRecords(ctx, tx, insertAlertRecord, []any{a.ID, phaseResolution}, a.ResolutionNotices)
}

func loadAlert(ctx context.Context, q querier, id string) (*models.Alert, error) {
	var a models.Alert
	var resolvedAt *time.Time
	err := q.QueryRow(ctx, `
SELECT id, user_id, lat, lon, status, created_at, resolved_at, version
FROM alerts WHERE id = $1
`, id).Scan(&a.ID, &a.UserID, &a.Location.Lat, &a.Location.Lon, &a.Status, &a.CreatedAt, &resolvedAt, &a.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "alert %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select alert")
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		a.ResolvedAt = &t
	}

	for _, phase := range []string{phaseTrigger, phaseResolution} {
		rows, err := q.Query(ctx, `
SELECT `+recordColumns+`
FROM alert_notifications
WHERE alert_id = $1 AND phase = $2
ORDER BY seq
`, id, phase)
		if err != nil {
			return nil, errors.Wrap(err, "select alert notifications")
		}
		recs, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		if phase == phaseTrigger {
			a.Notifications = recs
		} else if len(recs) > 0 {
			a.ResolutionNotices = recs
		}
	}
	return &a, nil
}
