package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roost-sh/roost/models"
)

// JobRunner executes a provisioning job to a terminal state. Run must
// not return before the job is complete or failed; the worker acks the
// message as soon as it returns.
type JobRunner interface {
	Run(ctx context.Context, job models.Job)
}

// Worker consumes provisioning jobs one at a time. Prefetch is pinned
// to 1 so a single host never pulls more work than it is executing,
// and unacked jobs are redelivered if the worker dies mid-run.
type Worker struct {
	url    string
	runner JobRunner

	// reconnect backoff bounds, overridable in tests
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewWorker(url string, runner JobRunner) *Worker {
	return &Worker{
		url:        url,
		runner:     runner,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Start consumes jobs until ctx is cancelled. Connection loss is
// handled by reconnecting with exponential backoff; Start only returns
// when the context ends.
func (w *Worker) Start(ctx context.Context) error {
	var backoff time.Duration
	for {
		established, err := w.consume(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		backoff = w.nextDelay(backoff, established)
		if err != nil {
			log.Printf("Worker: connection lost: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// nextDelay returns the wait before the next connection attempt. A
// session that had a live consumer starts the progression over; dial
// failures keep doubling up to the cap.
func (w *Worker) nextDelay(previous time.Duration, established bool) time.Duration {
	if established || previous < w.minBackoff {
		return w.minBackoff
	}
	next := previous * 2
	if next > w.maxBackoff {
		next = w.maxBackoff
	}
	return next
}

// consume reports whether a consumer was established before the
// session ended.
func (w *Worker) consume(ctx context.Context) (bool, error) {
	conn, err := amqp.Dial(w.url)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, err
	}
	defer ch.Close()

	if _, err := declareQueue(ch); err != nil {
		return false, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return false, err
	}

	deliveries, err := ch.Consume(ProvisionQueue, "", false, false, false, false, nil)
	if err != nil {
		return false, err
	}

	log.Printf("Worker: consuming from %s", ProvisionQueue)
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return true, amqp.ErrClosed
			}
			w.process(ctx, d)
		}
	}
}

// process runs one delivery to completion and acks it. Both success
// and failure are terminal: the job's outcome lives in the event
// store, and requeueing a failed job would just fail it again.
func (w *Worker) process(ctx context.Context, d amqp.Delivery) {
	var job models.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("Worker: dropping malformed message: %v", err)
		if err := d.Ack(false); err != nil {
			log.Printf("Worker: failed to ack malformed message: %v", err)
		}
		return
	}

	log.Printf("Worker: job %s: provisioning %s (version %s)", job.ID, job.Tenant, job.Version)
	w.runner.Run(ctx, job)

	if err := d.Ack(false); err != nil {
		log.Printf("Worker: job %s: failed to ack: %v", job.ID, err)
	}
}
