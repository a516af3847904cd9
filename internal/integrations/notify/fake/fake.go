package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

// Gateway is a local stand-in for a mail/SMS provider. Delivery is
// deterministic: any address containing "fail" is rejected permanently.
type Gateway struct {
	channel models.Channel

	mu   sync.Mutex
	sent []Sent
}

type Sent struct {
	MessageID string
	Address   string
	Subject   string
	Body      string
}

func New(ch models.Channel) *Gateway {
	if ch == "" {
		ch = models.ChannelEmail
	}
	return &Gateway{channel: ch}
}

func (g *Gateway) Channel() models.Channel { return g.channel }

func (g *Gateway) Send(ctx context.Context, address, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if address == "" || strings.Contains(address, "fail") {
		return "", notify.Permanent(errors.Errorf("fake gateway rejected %q", address))
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(subject))

	g.mu.Lock()
	id := fmt.Sprintf("fake-%08x-%d", h.Sum32(), len(g.sent)+1)
	g.sent = append(g.sent, Sent{MessageID: id, Address: address, Subject: subject, Body: body})
	g.mu.Unlock()

	slog.Debug("fake notification sent", "channel", g.channel, "to", address, "subject", subject)
	return id, nil
}

func (g *Gateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sent(nil), g.sent...)
}
