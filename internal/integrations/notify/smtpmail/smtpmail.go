package smtpmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"
)

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	InsecureTLS bool
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Client delivers notices as high-priority HTML e-mails.
type Client struct {
	from     string
	fromName string
	domain   string
	sender   mailSender
}

func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureTLS {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host}
	}
	return newWithSender(cfg, d)
}

func newWithSender(cfg Config, s mailSender) *Client {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	name := cfg.FromName
	if name == "" {
		name = "SafeZone Emergency Alert"
	}
	domain := "safezone.local"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return &Client{from: from, fromName: name, domain: domain, sender: s}
}

func (c *Client) Channel() models.Channel { return models.ChannelEmail }

func (c *Client) Send(ctx context.Context, address, subject, body string) (string, error) {
	if address == "" {
		return "", notify.Permanent(errors.New("empty recipient"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", c.from, c.fromName)
	m.SetHeader("To", address)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", id)
	m.SetHeader("X-Priority", "1")
	m.SetHeader("Importance", "high")
	m.SetBody("text/html", body)

	if err := c.sender.DialAndSend(m); err != nil {
		return "", classify(err)
	}
	return id, nil
}

// classify maps SMTP reply codes onto the gateway taxonomy: 5xx replies are
// permanent, everything else (4xx, dial and TLS errors) is transient.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return notify.Permanent(errors.Wrap(err, "smtp send"))
	}
	return notify.Transient(errors.Wrap(err, "smtp send"))
}
