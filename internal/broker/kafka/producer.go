package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const DefaultSafetyEventsTopic = "safety.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w     messageWriter
	topic string
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, topic: DefaultSafetyEventsTopic}
}

// WithTopic sets the topic used by PublishSafetyEvent.
func (p *Producer) WithTopic(topic string) *Producer {
	if topic != "" {
		p.topic = topic
	}
	return p
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishSafetyEvent keys the message by entity id so every event of one
// alert or trip lands on the same partition in commit order.
func (p *Producer) PublishSafetyEvent(ctx context.Context, ev messages.SafetyEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal safety event")
	}
	return p.Publish(ctx, p.topic, []byte(ev.EntityID), body)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
