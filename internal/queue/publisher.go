// Package queue moves provisioning jobs through RabbitMQ. Publishing
// and consuming share one durable queue so jobs survive broker and
// worker restarts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roost-sh/roost/internal/events"
	"github.com/roost-sh/roost/models"
)

// ProvisionQueue is the single work queue for instance provisioning.
const ProvisionQueue = "instance.provision"

// Publisher enqueues provisioning jobs. The job is registered in the
// event store before it is published, so a client can start polling
// the moment the enqueue call returns.
type Publisher struct {
	url   string
	store events.Store

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, store events.Store) *Publisher {
	return &Publisher{url: url, store: store}
}

// Enqueue creates a job for the tenant and publishes it. The returned
// job carries the generated ID clients use to follow progress.
func (p *Publisher) Enqueue(ctx context.Context, tenant, version string) (models.Job, error) {
	job := models.Job{
		ID:      uuid.New().String(),
		Tenant:  tenant,
		Version: version,
		Created: time.Now().UTC(),
	}

	if err := p.store.Register(ctx, job); err != nil {
		return models.Job{}, fmt.Errorf("failed to register job: %w", err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to encode job: %w", err)
	}

	if err := p.publish(ctx, body); err != nil {
		// The channel may have died since the last publish. Reset and
		// try once more before giving up.
		p.reset()
		if err = p.publish(ctx, body); err != nil {
			p.abort(ctx, job.ID)
			return models.Job{}, fmt.Errorf("failed to publish job: %w", err)
		}
	}

	return job, nil
}

// abort records a terminal error for a job that was registered but
// never reached the queue, so it does not linger as pending until the
// TTL expires. Best effort: the caller already has the publish error.
func (p *Publisher) abort(ctx context.Context, jobID string) {
	ev := models.Event{
		Status:  models.StageError,
		Message: "could not enqueue job: broker unavailable",
		Time:    time.Now().UTC(),
	}
	if _, err := p.store.Append(ctx, jobID, ev); err != nil {
		log.Printf("Publisher: job %s: failed to record enqueue failure: %v", jobID, err)
	}
	if err := p.store.MarkTerminal(ctx, jobID); err != nil {
		log.Printf("Publisher: job %s: failed to expire: %v", jobID, err)
	}
}

func (p *Publisher) publish(ctx context.Context, body []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", ProvisionQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := declareQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.reset()
}

func declareQueue(ch *amqp.Channel) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(ProvisionQueue, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", ProvisionQueue, err)
	}
	return q, nil
}

// Depth returns the current number of ready messages in the queue.
func (p *Publisher) Depth() (int, error) {
	ch, err := p.channel()
	if err != nil {
		return 0, err
	}
	q, err := ch.QueueDeclarePassive(ProvisionQueue, true, false, false, false, nil)
	if err != nil {
		p.reset()
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, nil
}
