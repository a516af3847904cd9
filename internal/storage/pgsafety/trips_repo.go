package pgsafety

import (
	"context"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const insertTripRecord = `
INSERT INTO trip_notifications (trip_id, seq, ` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (trip_id, seq) DO NOTHING`

func (s *Storage) CreateTrip(ctx context.Context, t *models.Trip) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	curLat, curLon, curAt := currentColumns(t)
	_, err = tx.Exec(ctx, `
INSERT INTO trips (
  id, user_id, start_lat, start_lon, end_lat, end_lon,
  current_lat, current_lon, current_updated_at,
  start_time, expected_end_time, actual_end_time, status, version
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)
`, t.ID, t.UserID, t.StartLocation.Lat, t.StartLocation.Lon, t.EndLocation.Lat, t.EndLocation.Lon,
		curLat, curLon, curAt,
		t.StartTime, t.ExpectedEndTime, t.ActualEndTime, string(t.Status))
	if err != nil {
		return errors.Wrap(err, "insert trip")
	}
	if err := writeTripChildren(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	t.Version = 1
	return nil
}

func (s *Storage) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	return loadTrip(ctx, s.db, id)
}

// UpdateTrip writes t if its version is still current and bumps it.
// Events and notification records are append-only.
func (s *Storage) UpdateTrip(ctx context.Context, t *models.Trip) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	curLat, curLon, curAt := currentColumns(t)
	tag, err := tx.Exec(ctx, `
UPDATE trips
SET current_lat = $3, current_lon = $4, current_updated_at = $5,
    actual_end_time = $6, status = $7, version = version + 1
WHERE id = $1 AND version = $2
`, t.ID, t.Version, curLat, curLon, curAt, t.ActualEndTime, string(t.Status))
	if err != nil {
		return errors.Wrap(err, "update trip")
	}
	if tag.RowsAffected() == 0 {
		return versionMiss(ctx, tx, "trips", t.ID)
	}
	if err := writeTripChildren(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	t.Version++
	return nil
}

func (s *Storage) FindActiveTrip(ctx context.Context, userID string) (*models.Trip, error) {
	var id string
	err := s.db.QueryRow(ctx, `
SELECT id FROM trips
WHERE user_id = $1 AND status IN ($2, $3)
ORDER BY start_time DESC
LIMIT 1
`, userID, string(models.TripStatusOngoing), string(models.TripStatusDelayed)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "active trip for user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active trip")
	}
	return loadTrip(ctx, s.db, id)
}

// ListOverdueTrips returns ongoing trips whose expected end is before now,
// oldest deadline first.
func (s *Storage) ListOverdueTrips(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id FROM trips
WHERE status = $1 AND expected_end_time < $2
ORDER BY expected_end_time
LIMIT $3
`, string(models.TripStatusOngoing), now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select overdue trips")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect trip ids")
	}

	out := make([]*models.Trip, 0, len(ids))
	for _, id := range ids {
		t, err := loadTrip(ctx, s.db, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func currentColumns(t *models.Trip) (lat, lon *float64, at *time.Time) {
	if t.CurrentLocation == nil {
		return nil, nil, nil
	}
	la, lo, ts := t.CurrentLocation.Lat, t.CurrentLocation.Lon, t.CurrentLocation.UpdatedAt
	return &la, &lo, &ts
}

func writeTripChildren(ctx context.Context, tx pgx.Tx, t *models.Trip) error {
	for i, e := range t.Events {
		_, err := tx.Exec(ctx, `
INSERT INTO trip_events (trip_id, seq, kind, ts, message)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (trip_id, seq) DO NOTHING
`, t.ID, i, string(e.Kind), e.Timestamp, e.Message)
		if err != nil {
			return errors.Wrap(err, "insert trip event")
		}
	}
	return insertRecords(ctx, tx, insertTripRecord, []any{t.ID}, t.Notifications)
}

func loadTrip(ctx context.Context, q querier, id string) (*models.Trip, error) {
	var (
		t                  models.Trip
		curLat, curLon     *float64
		curAt, actualEndAt *time.Time
	)
	err := q.QueryRow(ctx, `
SELECT
  id, user_id, start_lat, start_lon, end_lat, end_lon,
  current_lat, current_lon, current_updated_at,
  start_time, expected_end_time, actual_end_time, status, version
FROM trips WHERE id = $1
`, id).Scan(
		&t.ID, &t.UserID, &t.StartLocation.Lat, &t.StartLocation.Lon, &t.EndLocation.Lat, &t.EndLocation.Lon,
		&curLat, &curLon, &curAt,
		&t.StartTime, &t.ExpectedEndTime, &actualEndAt, &t.Status, &t.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "trip %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select trip")
	}
	t.StartTime = t.StartTime.UTC()
	t.ExpectedEndTime = t.ExpectedEndTime.UTC()
	if curLat != nil && curLon != nil && curAt != nil {
		t.CurrentLocation = &models.TrackedLocation{
			Location:  models.Location{Lat: *curLat, Lon: *curLon},
			UpdatedAt: curAt.UTC(),
		}
	}
	if actualEndAt != nil {
		at := actualEndAt.UTC()
		t.ActualEndTime = &at
	}

	rows, err := q.Query(ctx, `
SELECT kind, ts, message FROM trip_events
WHERE trip_id = $1
ORDER BY seq
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select trip events")
	}
	defer rows.Close()
	t.Events = make([]models.TripEvent, 0)
	for rows.Next() {
		var e models.TripEvent
		if err := rows.Scan(&e.Kind, &e.Timestamp, &e.Message); err != nil {
			return nil, errors.Wrap(err, "scan trip event")
		}
		e.Timestamp = e.Timestamp.UTC()
		t.Events = append(t.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "trip event rows")
	}

	recRows, err := q.Query(ctx, `
SELECT `+recordColumns+`
FROM trip_notifications
WHERE trip_id = $1
ORDER BY seq
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select trip notifications")
	}
	recs, err := scanRecords(recRows)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		t.Notifications = recs
	}
	return &t, nil
}
