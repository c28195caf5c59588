package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// DefaultVisibility is how long a dequeued job stays invisible to other
	// workers before the queue redelivers it. It must exceed the job deadline
	// so a live worker always reports an outcome before redelivery fires.
	DefaultVisibility = 16 * time.Minute

	// DefaultPoll bounds how long a single Dequeue call blocks.
	DefaultPoll = 5 * time.Second
)

// QueueConfig describes a durable job queue backed by a JetStream work-queue
// stream and a shared pull consumer.
type QueueConfig struct {
	Stream     string
	Subject    string
	Durable    string
	Visibility time.Duration
	Poll       time.Duration

	// MaxDeliver caps total deliveries of one message, including redeliveries
	// after visibility timeouts. Keep it one above the scheduler's attempt
	// ceiling so crash redeliveries cannot outlive the retry budget.
	MaxDeliver int
}

// Validate fills defaults and rejects unusable configurations.
func (c *QueueConfig) Validate() error {
	if c.Stream == "" {
		return errors.New("queue stream name is required")
	}
	if c.Subject == "" {
		return errors.New("queue subject is required")
	}
	if c.Durable == "" {
		return errors.New("queue durable consumer name is required")
	}
	if c.Visibility <= 0 {
		c.Visibility = DefaultVisibility
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 4
	}
	return nil
}

// jobEnvelope is the wire shape of a queued job. The job record itself lives
// in the database; the queue carries only the identity.
type jobEnvelope struct {
	JobID string `json:"job_id"`
}

// Queue is the durable, at-least-once job queue shared by all workers.
type Queue struct {
	bus *Bus
	cfg QueueConfig
	sub *nats.Subscription
}

// NewQueue ensures the backing stream exists and binds a durable pull
// consumer to it. Multiple workers binding the same durable share delivery.
func NewQueue(bus *Bus, cfg QueueConfig) (*Queue, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := bus.EnsureStream(cfg.Stream, cfg.Subject); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	sub, err := bus.js.PullSubscribe(cfg.Subject, cfg.Durable,
		nats.AckExplicit(),
		nats.AckWait(cfg.Visibility),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("bind pull consumer %s: %w", cfg.Durable, err)
	}

	return &Queue{bus: bus, cfg: cfg, sub: sub}, nil
}

// Publisher enqueues jobs without binding a consumer. Submission-only
// processes must use it: a work-queue stream allows a single consumer per
// subject, and that consumer belongs to the workers.
type Publisher struct {
	bus     *Bus
	subject string
}

// NewPublisher ensures the backing stream exists and returns a
// publish-only handle on its subject.
func NewPublisher(b *Bus, stream, subject string) (*Publisher, error) {
	if stream == "" {
		return nil, errors.New("queue stream name is required")
	}
	if subject == "" {
		return nil, errors.New("queue subject is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if err := b.EnsureStream(stream, subject); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &Publisher{bus: b, subject: subject}, nil
}

// Enqueue publishes a job id onto the queue.
func (p *Publisher) Enqueue(ctx context.Context, jobID string) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if jobID == "" {
		return errors.New("job id is required")
	}
	return p.bus.Publish(ctx, p.subject, jobEnvelope{JobID: jobID})
}

// Enqueue publishes a job id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if q == nil {
		return errors.New("nil queue")
	}
	if jobID == "" {
		return errors.New("job id is required")
	}
	return q.bus.Publish(ctx, q.cfg.Subject, jobEnvelope{JobID: jobID})
}

// Delivery is one dequeued job. Exactly one of Ack, Nack, or Bury must be
// called before the visibility timeout elapses, otherwise the queue
// redelivers the job to another worker.
type Delivery struct {
	JobID string
	msg   *nats.Msg
}

// Ack removes the job from the queue permanently.
func (d *Delivery) Ack() error {
	if d == nil || d.msg == nil {
		return errors.New("nil delivery")
	}
	return d.msg.Ack()
}

// Nack makes the job immediately visible again for redelivery.
func (d *Delivery) Nack() error {
	if d == nil || d.msg == nil {
		return errors.New("nil delivery")
	}
	return d.msg.Nak()
}

// Bury tells the queue this job must never be redelivered. Used for dead and
// terminally failed jobs.
func (d *Delivery) Bury() error {
	if d == nil || d.msg == nil {
		return errors.New("nil delivery")
	}
	return d.msg.Term()
}

// Dequeue blocks up to the configured poll interval for the next job.
// It returns (nil, nil) when no job arrived within the window.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	if q == nil || q.sub == nil {
		return nil, errors.New("queue is closed")
	}

	msgs, err := q.sub.Fetch(1, nats.MaxWait(q.cfg.Poll))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	msg := msgs[0]
	var env jobEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.JobID == "" {
		// Malformed envelopes can never become runnable jobs.
		_ = msg.Term()
		return nil, fmt.Errorf("discard malformed job envelope: %w", err)
	}

	return &Delivery{JobID: env.JobID, msg: msg}, nil
}

// Close releases the local consumer binding. Unsubscribe would delete the
// shared durable consumer, so the binding is dropped and left for the
// connection drain to clean up.
func (q *Queue) Close() error {
	if q == nil || q.sub == nil {
		return nil
	}
	q.sub = nil
	return nil
}
