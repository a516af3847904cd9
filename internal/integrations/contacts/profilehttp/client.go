package profilehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

// Client reads emergency contacts from the user profile service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type contactDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type profileResp struct {
	Name     string       `json:"name"`
	Contacts []contactDTO `json:"contacts"`
}

func (c *Client) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	p, err := c.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Contact, 0, len(p.Contacts))
	for i, dto := range p.Contacts {
		id := dto.ID
		if id == "" {
			// Older profiles have no contact ids; position is stable per snapshot.
			id = fmt.Sprintf("%s-%d", userID, i)
		}
		out = append(out, models.Contact{ID: id, Name: dto.Name, Phone: dto.Phone, Email: dto.Email})
	}
	return out, nil
}

func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	p, err := c.fetch(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (c *Client) fetch(ctx context.Context, userID string) (*profileResp, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath("v1", "users", userID, "emergency-contacts")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("profile service http %d", resp.StatusCode)
	}

	var p profileResp
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &p, nil
}
