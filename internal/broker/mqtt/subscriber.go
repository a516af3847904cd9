package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const DefaultLocationTopic = "safezone/trips/+/location"

type LocationHandler interface {
	HandleLocation(ctx context.Context, upd messages.LocationUpdate) error
}

type Subscriber struct {
	opts           *paho.ClientOptions
	topic          string
	qos            byte
	handler        LocationHandler
	handleTimeout  time.Duration
	connectTimeout time.Duration

	newClient func(o *paho.ClientOptions) paho.Client
}

func NewSubscriber(brokerURL, clientID string, h LocationHandler) *Subscriber {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetConnectTimeout(10 * time.Second)
	return &Subscriber{
		opts:           opts,
		topic:          DefaultLocationTopic,
		qos:            1,
		handler:        h,
		handleTimeout:  5 * time.Second,
		connectTimeout: 10 * time.Second,
		newClient:      paho.NewClient,
	}
}

func (s *Subscriber) WithCredentials(username, password string) *Subscriber {
	if username != "" {
		s.opts.SetUsername(username).SetPassword(password)
	}
	return s
}

func (s *Subscriber) WithTopic(topic string, qos byte) *Subscriber {
	if topic != "" {
		s.topic = topic
	}
	if qos <= 2 {
		s.qos = qos
	}
	return s
}

// Run connects and subscribes, re-subscribing after every reconnect, and
// blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	s.opts.SetOnConnectHandler(func(c paho.Client) {
		tok := c.Subscribe(s.topic, s.qos, func(_ paho.Client, m paho.Message) {
			s.handleMessage(ctx, m)
		})
		if !tok.WaitTimeout(s.connectTimeout) {
			slog.Error("mqtt subscribe timed out", "topic", s.topic)
			return
		}
		if err := tok.Error(); err != nil {
			slog.Error("mqtt subscribe failed", "topic", s.topic, "error", err.Error())
			return
		}
		slog.Info("mqtt subscribed", "topic", s.topic, "qos", s.qos)
	})
	s.opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err.Error())
	})

	client := s.newClient(s.opts)
	tok := client.Connect()
	if !tok.WaitTimeout(s.connectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return errors.Wrap(err, "mqtt connect")
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	return ctx.Err()
}

func (s *Subscriber) handleMessage(ctx context.Context, m paho.Message) {
	var upd messages.LocationUpdate
	if err := json.Unmarshal(m.Payload(), &upd); err != nil {
		slog.Warn("mqtt location dropped: bad payload", "topic", m.Topic(), "error", err.Error())
		return
	}
	if upd.TripID == "" {
		upd.TripID = tripIDFromTopic(m.Topic())
	}

	hctx, cancel := context.WithTimeout(ctx, s.handleTimeout)
	defer cancel()
	if err := s.handler.HandleLocation(hctx, upd); err != nil {
		slog.Error("mqtt location not applied", "topic", m.Topic(), "trip_id", upd.TripID, "error", err.Error())
	}
}

// tripIDFromTopic reads the id out of safezone/trips/{id}/location.
func tripIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "trips" && parts[i+2] == "location" {
			return parts[i+1]
		}
	}
	return ""
}
