package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SafeZone/config"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/BearBump/SafeZone/internal/services/sweeper"
	"github.com/BearBump/SafeZone/internal/services/trips"
	"github.com/BearBump/SafeZone/internal/storage/memstore"
	"github.com/BearBump/SafeZone/internal/storage/mongosafety"
	"github.com/BearBump/SafeZone/internal/storage/pgsafety"
	"github.com/pkg/errors"
)

// Backend is what every storage driver provides: alert and trip
// persistence, the overdue query and the user profiles.
type Backend interface {
	alerts.Store
	trips.Store
	sweeper.Repository
	ListContacts(ctx context.Context, userID string) ([]models.Contact, error)
	DisplayName(ctx context.Context, userID string) (string, error)
	UpsertUser(ctx context.Context, userID, name string, contacts []models.Contact) error
	Ping(ctx context.Context) error
}

func PostgresDSN(db config.DatabaseConfig) string {
	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.DBName, sslMode)
}

// OpenBackend opens the driver named by safezone.storage_driver. Postgres is
// the default and is retried for up to wait while the database comes up.
func OpenBackend(ctx context.Context, cfg *config.Config, wait time.Duration) (Backend, func(), error) {
	switch cfg.SafeZone.StorageDriver {
	case "memory":
		slog.Warn("using in-memory storage, data is lost on restart")
		return memstore.New(), func() {}, nil
	case "mongo":
		st, err := mongosafety.New(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "", "postgres":
		st, err := openPostgresWithRetry(ctx, PostgresDSN(cfg.Database), wait)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", cfg.SafeZone.StorageDriver)
	}
}

func openPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgsafety.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgsafety.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

// SeedUsers writes the users listed in config into the backend, so the
// store-backed registry has profiles in demo setups.
func SeedUsers(ctx context.Context, b Backend, users map[string]config.StaticUser) error {
	for id, u := range users {
		if err := b.UpsertUser(ctx, id, u.Name, toContacts(u.Contacts)); err != nil {
			return errors.Wrapf(err, "seed user %s", id)
		}
	}
	return nil
}

func toContacts(in []config.StaticContact) []models.Contact {
	out := make([]models.Contact, 0, len(in))
	for _, c := range in {
		out = append(out, models.Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email})
	}
	return out
}
