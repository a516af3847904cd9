package pgsafety

import (
	"context"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertUser replaces the user's name and emergency contact list.
func (s *Storage) UpsertUser(ctx context.Context, userID, name string, contacts []models.Contact) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO users (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
`, userID, name); err != nil {
		return errors.Wrap(err, "upsert user")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM emergency_contacts WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "delete contacts")
	}
	for i, c := range contacts {
		if _, err := tx.Exec(ctx, `
INSERT INTO emergency_contacts (user_id, id, position, name, phone, email)
VALUES ($1,$2,$3,$4,$5,$6)
`, userID, c.ID, i, c.Name, c.Phone, c.Email); err != nil {
			return errors.Wrap(err, "insert contact")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	if _, err := s.DisplayName(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
SELECT id, name, phone, email
FROM emergency_contacts
WHERE user_id = $1
ORDER BY position
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select contacts")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Contact, error) {
		var c models.Contact
		err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan contacts")
	}
	return out, nil
}

func (s *Storage) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return "", errors.Wrap(err, "select user")
	}
	return name, nil
}
