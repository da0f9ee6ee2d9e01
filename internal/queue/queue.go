package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/call-memento/pkg/logger"
)

// Handler processes one delivered job. A non-nil error is logged; the job is
// still committed, because retries in this system are expressed as freshly
// enqueued jobs with a new scheduled time, never as redelivery loops.
type Handler func(ctx context.Context, job Job) error

// Client is the durable job queue: Kafka topics as queues, JSON job
// envelopes, delayed execution via the scheduled_at stamp honored on the
// consumer side. Constructed once at process start and injected.
type Client struct {
	kafka  *Kafka
	logger *logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewClient builds a queue client on the shared Kafka helper.
func NewClient(k *Kafka, lg *logger.Logger) *Client {
	return &Client{
		kafka:   k,
		logger:  lg.Named("queue"),
		writers: make(map[string]*kafka.Writer),
	}
}

// Enqueue places a job on the named queue. A non-zero notBefore delays
// execution until that instant ("not before" semantics).
func (c *Client) Enqueue(ctx context.Context, queueName string, kind JobKind, payload any, notBefore time.Time) (uuid.UUID, error) {
	job, err := newJob(kind, payload, notBefore)
	if err != nil {
		return uuid.Nil, err
	}

	value, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: marshal job: %w", err)
	}

	record := kafka.Message{
		Key:   job.ID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := c.writer(queueName).WriteMessages(ctx, record); err != nil {
		return uuid.Nil, fmt.Errorf("queue %s: write job: %w", queueName, err)
	}
	return job.ID, nil
}

// Work consumes the named queue until the context is cancelled, invoking the
// handler once per delivered job. Delivery is at-least-once.
func (c *Client) Work(ctx context.Context, queueName, groupID string, handler Handler) error {
	reader := c.kafka.NewReader(queueName, groupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("fetch message", zap.String("queue", queueName), zap.Error(err))
			continue
		}

		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			c.logger.Error("unmarshal job", zap.String("queue", queueName), zap.Error(err))
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		if err := sleepUntil(ctx, job.ScheduledAt); err != nil {
			// Shutdown mid-wait: leave the job uncommitted so another
			// worker picks it up.
			return err
		}

		if err := handler(ctx, job); err != nil {
			c.logger.Error("job handler",
				zap.String("queue", queueName),
				zap.String("job_id", job.ID.String()),
				zap.String("kind", string(job.Kind)),
				zap.Error(err))
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("commit job", zap.String("queue", queueName), zap.Error(err))
		}
	}
}

// EnsureQueues idempotently creates the named queues.
func (c *Client) EnsureQueues(ctx context.Context, names ...string) error {
	return c.kafka.EnsureQueues(ctx, names)
}

// Close releases all writers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for _, w := range c.writers {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.writers = make(map[string]*kafka.Writer)
	return err
}

func (c *Client) writer(queueName string) *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[queueName]
	if !ok {
		w = c.kafka.NewWriter(queueName)
		c.writers[queueName] = w
	}
	return w
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
