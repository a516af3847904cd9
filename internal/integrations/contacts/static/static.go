package static

import (
	"context"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

type User struct {
	Name     string           `yaml:"name"`
	Contacts []models.Contact `yaml:"contacts"`
}

// Registry serves contacts from configuration. Meant for demos and local runs.
type Registry struct {
	users map[string]User
}

func New(users map[string]User) *Registry {
	cp := make(map[string]User, len(users))
	for id, u := range users {
		u.Contacts = append([]models.Contact(nil), u.Contacts...)
		cp[id] = u
	}
	return &Registry{users: cp}
}

func (r *Registry) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	u, ok := r.users[userID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	return append([]models.Contact(nil), u.Contacts...), nil
}

func (r *Registry) DisplayName(ctx context.Context, userID string) (string, error) {
	u, ok := r.users[userID]
	if !ok {
		return "", errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	return u.Name, nil
}
