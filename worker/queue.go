package worker

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"mailtrigger/models"
	"mailtrigger/utils"
)

var ErrQueueNotRunning = errors.New("delivery queue is not running")

// MailSender is the external transport collaborator. The queue only
// governs timing and retries around it.
type MailSender interface {
	Send(mail utils.OutboundMail) (*utils.SendResult, error)
}

// QueueConfig tunes the delivery queue
type QueueConfig struct {
	// Concurrency bounds the worker pool. Default: 5.
	Concurrency int

	// BackoffBase is the exponential retry backoff unit. Default: 60s.
	BackoffBase time.Duration
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency: 5,
		BackoffBase: 60 * time.Second,
	}
}

type queueEntry struct {
	jobID    uint
	due      time.Time
	priority int
}

type entryHeap []queueEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(queueEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// DeliveryQueue holds materialized jobs until their due time and drives
// them through a bounded worker pool. The durable state lives in the job
// store; the queue itself only carries ids, so losing it loses nothing the
// poller cannot re-promote.
type DeliveryQueue struct {
	store  Store
	mailer MailSender
	clock  Clock
	config QueueConfig
	logger *logrus.Entry

	mu       sync.Mutex
	pending  entryHeap
	inflight map[uint]struct{}
	running  bool

	ready  chan uint
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeliveryQueue(store Store, mailer MailSender, clock Clock, config QueueConfig) *DeliveryQueue {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultQueueConfig().Concurrency
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultQueueConfig().BackoffBase
	}
	return &DeliveryQueue{
		store:    store,
		mailer:   mailer,
		clock:    clock,
		config:   config,
		logger:   logrus.WithField("component", "delivery_queue"),
		inflight: make(map[uint]struct{}),
		ready:    make(chan uint),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the dispatcher and the worker pool
func (q *DeliveryQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.dispatchLoop()

	for i := 0; i < q.config.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop()
	}

	q.logger.WithField("concurrency", q.config.Concurrency).Info("delivery queue started")
}

// Stop drains the dispatcher and workers
func (q *DeliveryQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("delivery queue stopped")
}

// Enqueue accepts a job id with its due time and priority. Ids already
// queued or mid-delivery are dropped; the claim transition makes duplicate
// submissions harmless anyway.
func (q *DeliveryQueue) Enqueue(jobID uint, due time.Time, priority string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return ErrQueueNotRunning
	}
	if _, dup := q.inflight[jobID]; dup {
		return nil
	}

	q.inflight[jobID] = struct{}{}
	heap.Push(&q.pending, queueEntry{
		jobID:    jobID,
		due:      due,
		priority: models.PriorityRank(priority),
	})

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// dispatchLoop promotes due entries to the ready channel, preferring
// higher priority among eligible jobs, ties broken by earliest due time.
func (q *DeliveryQueue) dispatchLoop() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, next := q.takeDue()

		sort.SliceStable(due, func(i, j int) bool {
			if due[i].priority != due[j].priority {
				return due[i].priority > due[j].priority
			}
			return due[i].due.Before(due[j].due)
		})

		for _, entry := range due {
			select {
			case q.ready <- entry.jobID:
			case <-q.ctx.Done():
				return
			}
		}

		wait := time.Minute
		if next != nil {
			wait = next.Sub(q.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// takeDue pops every entry whose due time has elapsed and reports the due
// time of the next waiting entry, if any.
func (q *DeliveryQueue) takeDue() ([]queueEntry, *time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var due []queueEntry
	for q.pending.Len() > 0 && !q.pending[0].due.After(now) {
		due = append(due, heap.Pop(&q.pending).(queueEntry))
	}

	var next *time.Time
	if q.pending.Len() > 0 {
		next = utils.Pointer(q.pending[0].due)
	}
	return due, next
}

func (q *DeliveryQueue) workerLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case jobID := <-q.ready:
			// Drop the dedup entry before processing so a retry can
			// re-enqueue itself.
			q.mu.Lock()
			delete(q.inflight, jobID)
			q.mu.Unlock()
			q.processJob(jobID)
		}
	}
}

// processJob is one worker unit: reload, claim, render, send, settle.
// Every failure is settled on the job row; nothing here may panic the pool
// or block a sibling job.
func (q *DeliveryQueue) processJob(jobID uint) {
	log := q.logger.WithField("job_id", jobID)

	job, err := q.store.GetJob(jobID)
	if err != nil {
		log.WithError(err).Error("failed to load job")
		return
	}

	if job.Status != models.JobPending {
		log.WithField("status", job.Status).Debug("job no longer pending, skipping")
		return
	}

	claimed, err := q.store.ClaimJob(jobID, q.clock.Now())
	if err != nil {
		log.WithError(err).Error("failed to claim job")
		return
	}
	if !claimed {
		// Another worker got there first.
		log.Debug("claim lost, skipping")
		return
	}

	subject := utils.RenderTemplate(job.Template.Subject, job.Variables)
	html := utils.RenderTemplate(job.Template.HTMLContent, job.Variables)
	text := ""
	if job.Template.TextContent != "" {
		text = utils.RenderTemplate(job.Template.TextContent, job.Variables)
	}

	result, err := q.mailer.Send(utils.OutboundMail{
		To:      job.RecipientEmail,
		ToName:  job.RecipientName,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		q.settleFailure(job, err)
		return
	}

	q.settleSuccess(job, result)
}

func (q *DeliveryQueue) settleSuccess(job *models.EmailJob, result *utils.SendResult) {
	log := q.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"recipient": job.RecipientEmail,
	})

	applied, err := q.store.MarkSent(job.ID, q.clock.Now(), result.MessageID, map[string]string{
		"provider":   "smtp",
		"message_id": result.MessageID,
		"response":   result.Response,
	})
	if err != nil {
		log.WithError(err).Error("failed to record sent status")
		return
	}
	if !applied {
		// The job was cancelled while the send was in flight; the terminal
		// state wins and the outcome is dropped.
		log.Warn("job no longer processing, dropping sent outcome")
		return
	}

	if err := q.store.IncrementStepSuccess(job.StepID); err != nil {
		log.WithError(err).Error("failed to increment step success counter")
	}
	if err := q.store.IncrementSequenceSuccess(job.SequenceID); err != nil {
		log.WithError(err).Error("failed to increment sequence success counter")
	}

	log.WithField("message_id", result.MessageID).Info("email sent")
}

func (q *DeliveryQueue) settleFailure(job *models.EmailJob, sendErr error) {
	attempts := job.Attempts + 1
	log := q.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"attempts": attempts,
	})

	if attempts >= models.MaxAttempts {
		applied, err := q.store.MarkFailed(job.ID, attempts, sendErr.Error())
		if err != nil {
			log.WithError(err).Error("failed to record failed status")
			return
		}
		if !applied {
			log.Warn("job no longer processing, dropping failed outcome")
			return
		}
		if err := q.store.IncrementStepFailure(job.StepID); err != nil {
			log.WithError(err).Error("failed to increment step failure counter")
		}
		sentry.CaptureException(fmt.Errorf("email job %d permanently failed: %w", job.ID, sendErr))
		log.WithError(sendErr).Error("email permanently failed")
		return
	}

	nextAt := q.clock.Now().Add(q.backoff(attempts))
	applied, err := q.store.MarkRetry(job.ID, attempts, nextAt, sendErr.Error())
	if err != nil {
		log.WithError(err).Error("failed to record retry")
		return
	}
	if !applied {
		log.Warn("job no longer processing, dropping retry outcome")
		return
	}

	// Fast-path re-enqueue; the poller would also pick the job back up.
	if err := q.Enqueue(job.ID, nextAt, job.Priority); err != nil {
		log.WithError(err).Warn("could not re-enqueue retry, poller will promote it")
	}

	log.WithError(sendErr).WithField("next_at", nextAt).Info("email delivery retried")
}

// backoff returns 2^attempts * base
func (q *DeliveryQueue) backoff(attempts int) time.Duration {
	return time.Duration(1<<uint(attempts)) * q.config.BackoffBase
}
