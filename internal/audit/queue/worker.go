package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/synckairos/synckairos/internal/session"
)

// Writer is the audit database write path the worker pool drains into.
type Writer interface {
	RecordEvent(ctx context.Context, s *session.Session, eventType, participantID string, timeRemainingMs int64, occurredAt time.Time) error
}

// AlertSink receives jobs that exhausted their retry budget, carrying
// the session id, event type, attempt count and last error. Jobs have
// no id of their own, so no job id is passed.
type AlertSink interface {
	Alert(job Job, lastErr error)
}

// LogAlertSink is the default AlertSink: it logs at error level. Real
// deployments wire a paging integration in its place.
type LogAlertSink struct {
	Log *zap.SugaredLogger
}

func (s *LogAlertSink) Alert(job Job, lastErr error) {
	s.Log.Errorw("audit job exhausted retry budget",
		"session_id", job.SessionID, "event_type", job.EventType,
		"attempt", job.Attempt, "last_error", lastErr)
}

// WorkerPool drains the jobs topic with bounded concurrency, retrying
// retryable failures with exponential backoff and routing exhausted
// jobs to a DLQ producer. Non-retryable failures are logged and
// committed as complete; they are not sent to the DLQ.
type WorkerPool struct {
	consumer    *kafka.Consumer
	writer      Writer
	dlq         *Producer
	alertSink   AlertSink
	log         *zap.SugaredLogger
	concurrency int
	maxAttempts int
	baseBackoff int
	maxBackoff  int

	running atomic.Bool
}

// Running reports whether Run is currently polling, for the audit
// worker's GET /health.
func (w *WorkerPool) Running() bool {
	return w.running.Load()
}

type WorkerPoolConfig struct {
	Brokers         string
	Topic           string
	ConsumerGroupID string
	Concurrency     int
	MaxAttempts     int
	BaseBackoffMs   int
	MaxBackoffMs    int
}

func NewWorkerPool(cfg WorkerPoolConfig, writer Writer, dlq *Producer, alertSink AlertSink, log *zap.SugaredLogger) (*WorkerPool, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        cfg.Brokers,
		"group.id":                 cfg.ConsumerGroupID,
		"enable.auto.commit":       false,
		"auto.offset.reset":        "earliest",
		"partition.assignment.strategy": "cooperative-sticky",
	})
	if err != nil {
		return nil, err
	}
	if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		return nil, err
	}

	return &WorkerPool{
		consumer:    c,
		writer:      writer,
		dlq:         dlq,
		alertSink:   alertSink,
		log:         log,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoffMs,
		maxBackoff:  cfg.MaxBackoffMs,
	}, nil
}

// Run polls the jobs topic and dispatches messages across a fixed
// worker pool until ctx is cancelled.
func (w *WorkerPool) Run(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	jobs := make(chan *kafka.Message, w.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				w.handle(ctx, m)
			}
		}()
	}

	defer func() {
		close(jobs)
		wg.Wait()
		w.consumer.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev := w.consumer.Poll(200)
		switch e := ev.(type) {
		case *kafka.Message:
			jobs <- e
		case kafka.Error:
			w.log.Warnw("audit worker: kafka error event", "err", e)
		}
	}
}

func (w *WorkerPool) handle(ctx context.Context, m *kafka.Message) {
	var job Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		w.log.Errorw("audit worker: malformed job, dropping", "err", err)
		w.commit(m)
		return
	}

	var s session.Session
	if err := json.Unmarshal(job.StateJSON, &s); err != nil {
		w.log.Errorw("audit worker: malformed state_json, dropping", "session_id", job.SessionID, "err", err)
		w.commit(m)
		return
	}

	job.Attempt++
	err := w.writer.RecordEvent(ctx, &s, job.EventType, job.ParticipantID, job.TimeRemainingMs, job.EnqueuedAt)
	if err == nil {
		w.commit(m)
		return
	}

	if !isRetryable(err) {
		w.log.Warnw("audit worker: non-retryable failure, treating as complete", "session_id", job.SessionID, "err", err)
		w.commit(m)
		return
	}

	if job.Attempt >= w.maxAttempts {
		w.escalate(job, err)
		w.commit(m)
		return
	}

	delay := Backoff(job.Attempt, w.baseBackoff, w.maxBackoff)
	time.Sleep(delay)
	w.retry(ctx, job)
	w.commit(m)
}

// retry re-runs the write inline rather than re-publishing, since the
// worker already owns the in-flight attempt count; a re-publish would
// reset Attempt to zero on replay and break the backoff schedule.
func (w *WorkerPool) retry(ctx context.Context, job Job) {
	var s session.Session
	if err := json.Unmarshal(job.StateJSON, &s); err != nil {
		return
	}
	for job.Attempt < w.maxAttempts {
		err := w.writer.RecordEvent(ctx, &s, job.EventType, job.ParticipantID, job.TimeRemainingMs, job.EnqueuedAt)
		if err == nil {
			return
		}
		if !isRetryable(err) {
			w.log.Warnw("audit worker: non-retryable failure on retry, treating as complete", "session_id", job.SessionID, "err", err)
			return
		}
		job.Attempt++
		if job.Attempt >= w.maxAttempts {
			w.escalate(job, err)
			return
		}
		time.Sleep(Backoff(job.Attempt, w.baseBackoff, w.maxBackoff))
	}
}

func (w *WorkerPool) escalate(job Job, lastErr error) {
	if w.alertSink != nil {
		w.alertSink.Alert(job, lastErr)
	}
	if w.dlq == nil {
		return
	}
	env := DLQEnvelope{Job: job, LastError: lastErr.Error(), FailedAt: time.Now()}
	b, mErr := json.Marshal(env)
	if mErr != nil {
		w.log.Errorw("audit worker: failed to marshal DLQ envelope", "err", mErr)
		return
	}
	if pErr := w.dlq.Publish(Job{SessionID: job.SessionID, StateJSON: b}); pErr != nil {
		w.log.Errorw("audit worker: failed to publish to DLQ", "session_id", job.SessionID, "err", pErr)
	}
}

func (w *WorkerPool) commit(m *kafka.Message) {
	if _, err := w.consumer.CommitMessage(m); err != nil {
		w.log.Warnw("audit worker: commit failed", "err", err)
	}
}

// nonRetryableSubstrings recognizes the MySQL driver's constraint-violation
// wording: unique-key, foreign-key and check-constraint failures never
// succeed on retry and should be swallowed as complete.
var nonRetryableSubstrings = []string{
	"Duplicate entry",
	"foreign key constraint",
	"Check constraint",
	"constraint failed",
	"Data too long",
}

// isRetryable separates transport, timeout and transient-deadlock/
// pool-exhaustion failures (retried) from unique-key, foreign-key and
// check-constraint violations (not retried).
func isRetryable(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	msg := err.Error()
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
