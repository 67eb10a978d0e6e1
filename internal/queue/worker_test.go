package queue

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-sh/roost/models"
)

type recordingRunner struct {
	jobs []models.Job
}

func (r *recordingRunner) Run(ctx context.Context, job models.Job) {
	r.jobs = append(r.jobs, job)
}

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	rejected bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { f.rejected = true; return nil }

func TestProcessRunsJobAndAcks(t *testing.T) {
	runner := &recordingRunner{}
	w := NewWorker("amqp://localhost", runner)

	job := models.Job{ID: "j1", Tenant: "acme", Version: "1.0.0"}
	body, err := json.Marshal(job)
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	w.process(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	require.Len(t, runner.jobs, 1)
	assert.Equal(t, "j1", runner.jobs[0].ID)
	assert.Equal(t, "acme", runner.jobs[0].Tenant)
	assert.True(t, ack.acked, "job must be acked after the runner returns")
	assert.False(t, ack.nacked)
}

func TestProcessDropsMalformedMessage(t *testing.T) {
	runner := &recordingRunner{}
	w := NewWorker("amqp://localhost", runner)

	ack := &fakeAcknowledger{}
	w.process(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("not json")})

	assert.Empty(t, runner.jobs, "malformed messages must not reach the runner")
	assert.True(t, ack.acked, "malformed messages are acked so they do not redeliver forever")
	assert.False(t, ack.rejected)
}

func TestNextDelayDoublesAndClamps(t *testing.T) {
	w := NewWorker("amqp://localhost", &recordingRunner{})

	d := w.nextDelay(0, false)
	assert.Equal(t, w.minBackoff, d, "first retry waits the minimum")

	d = w.nextDelay(d, false)
	assert.Equal(t, 2*w.minBackoff, d)

	for i := 0; i < 10; i++ {
		d = w.nextDelay(d, false)
	}
	assert.Equal(t, w.maxBackoff, d, "delay must clamp at the maximum")
}

func TestNextDelayResetsAfterEstablishedSession(t *testing.T) {
	w := NewWorker("amqp://localhost", &recordingRunner{})

	// A consumer that ran for hours and then lost its connection must
	// not inherit the backoff accumulated before it came up.
	d := w.nextDelay(w.maxBackoff, true)
	assert.Equal(t, w.minBackoff, d)
}

func TestProcessAcksFailedJobs(t *testing.T) {
	// A runner that does nothing stands in for a run that ended in an
	// error event; the ack decision is the same either way.
	runner := &recordingRunner{}
	w := NewWorker("amqp://localhost", runner)

	body, _ := json.Marshal(models.Job{ID: "j2", Tenant: "beta", Version: "latest"})
	ack := &fakeAcknowledger{}
	w.process(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	assert.True(t, ack.acked)
}
