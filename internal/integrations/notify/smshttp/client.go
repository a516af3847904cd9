package smshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

// Client posts text messages to an HTTP SMS provider.
type Client struct {
	baseURL string
	apiKey  string
	sender  string
	httpc   *http.Client
}

func New(baseURL, apiKey, sender string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sender:  sender,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResp struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) Channel() models.Channel { return models.ChannelSMS }

func (c *Client) Send(ctx context.Context, address, subject, body string) (string, error) {
	if address == "" {
		return "", notify.Permanent(errors.New("empty phone number"))
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", notify.Permanent(errors.Wrap(err, "parse base url"))
	}
	u.Path = "/v1/messages"

	text := subject
	if body != "" {
		text = subject + "\n" + body
	}
	payload, err := json.Marshal(sendReq{From: c.sender, To: address, Text: text})
	if err != nil {
		return "", notify.Permanent(errors.Wrap(err, "marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return "", notify.Permanent(errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", notify.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return "", notify.Transient(fmt.Errorf("sms provider http %d", resp.StatusCode))
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", notify.Permanent(fmt.Errorf("sms provider http %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	var rb sendResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return "", notify.Transient(errors.Wrap(err, "decode"))
	}
	if rb.Error != "" {
		return "", notify.Permanent(fmt.Errorf("sms provider: %s", rb.Error))
	}
	return rb.MessageID, nil
}
