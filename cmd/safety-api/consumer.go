package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultConsumerMinBackoff = 500 * time.Millisecond
	defaultConsumerMaxBackoff = 30 * time.Second
)

// locationConsumer restarts Consume with capped exponential backoff until
// ctx is done. A failed message was never committed, so the next run reads
// it again.
type locationConsumer struct {
	c       kafkaConsumer
	handler func(ctx context.Context, key, value []byte) error
	topic   string

	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time

	mu           sync.Mutex
	lastErr      error
	runningSince time.Time
	runs         int
}

func newLocationConsumer(c kafkaConsumer, handler func(ctx context.Context, key, value []byte) error, topic string) *locationConsumer {
	return &locationConsumer{
		c:          c,
		handler:    handler,
		topic:      topic,
		minBackoff: defaultConsumerMinBackoff,
		maxBackoff: defaultConsumerMaxBackoff,
		now:        time.Now,
	}
}

func (l *locationConsumer) withBackoff(minBackoff, maxBackoff time.Duration) *locationConsumer {
	if minBackoff > 0 {
		l.minBackoff = minBackoff
	}
	if maxBackoff >= l.minBackoff {
		l.maxBackoff = maxBackoff
	}
	return l
}

func (l *locationConsumer) run(ctx context.Context) {
	backoff := l.minBackoff
	for {
		started := l.started()
		err := l.c.Consume(ctx, l.handle)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("consumer returned without error")
		}
		// a run that stayed up longer than the cap starts the backoff over
		if l.now().Sub(started) > l.maxBackoff {
			backoff = l.minBackoff
		}
		l.stopped(err)
		slog.Error("kafka consumer stopped, restarting",
			"topic", l.topic, "backoff", backoff.String(), "error", err.Error())

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

func (l *locationConsumer) handle(ctx context.Context, key, value []byte) error {
	err := l.handler(ctx, key, value)
	if err == nil {
		l.mu.Lock()
		l.lastErr = nil
		l.mu.Unlock()
	}
	return err
}

func (l *locationConsumer) started() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs++
	l.runningSince = l.now()
	return l.runningSince
}

func (l *locationConsumer) stopped(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = err
	l.runningSince = time.Time{}
}

// Ping reports the last failure until a message is handled again or the
// restarted consumer has stayed up for maxBackoff.
func (l *locationConsumer) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastErr == nil {
		return nil
	}
	if !l.runningSince.IsZero() && l.now().Sub(l.runningSince) >= l.maxBackoff {
		return nil
	}
	return errors.Wrapf(l.lastErr, "kafka consumer on %s", l.topic)
}

func (l *locationConsumer) Runs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}
