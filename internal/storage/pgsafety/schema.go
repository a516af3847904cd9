package pgsafety

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lon DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  resolved_at TIMESTAMPTZ NULL,
  version BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user_status ON alerts(user_id, status, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS alert_notifications (
  alert_id TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
  phase TEXT NOT NULL,
  seq INT NOT NULL,
  contact_id TEXT NOT NULL,
  channel TEXT NOT NULL,
  notice TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  attempted_at TIMESTAMPTZ NOT NULL,
  outcome TEXT NOT NULL,
  failure_reason TEXT NOT NULL DEFAULT '',
  message_id TEXT NOT NULL DEFAULT '',
  transient BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (alert_id, phase, seq)
)`,
		`
CREATE TABLE IF NOT EXISTS trips (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  start_lat DOUBLE PRECISION NOT NULL,
  start_lon DOUBLE PRECISION NOT NULL,
  end_lat DOUBLE PRECISION NOT NULL,
  end_lon DOUBLE PRECISION NOT NULL,
  current_lat DOUBLE PRECISION NULL,
  current_lon DOUBLE PRECISION NULL,
  current_updated_at TIMESTAMPTZ NULL,
  start_time TIMESTAMPTZ NOT NULL,
  expected_end_time TIMESTAMPTZ NOT NULL,
  actual_end_time TIMESTAMPTZ NULL,
  status TEXT NOT NULL,
  version BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_status_expected_end ON trips(status, expected_end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_user_status ON trips(user_id, status, start_time DESC)`,
		`
CREATE TABLE IF NOT EXISTS trip_events (
  trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
  seq INT NOT NULL,
  kind TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (trip_id, seq)
)`,
		`
CREATE TABLE IF NOT EXISTS trip_notifications (
  trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
  seq INT NOT NULL,
  contact_id TEXT NOT NULL,
  channel TEXT NOT NULL,
  notice TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  attempted_at TIMESTAMPTZ NOT NULL,
  outcome TEXT NOT NULL,
  failure_reason TEXT NOT NULL DEFAULT '',
  message_id TEXT NOT NULL DEFAULT '',
  transient BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (trip_id, seq)
)`,
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS emergency_contacts (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  position INT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
