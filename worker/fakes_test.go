package worker

import (
	"errors"
	"sync"
	"time"

	"mailtrigger/models"
	"mailtrigger/utils"
)

// fakeClock hands out a controllable instant
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeMailer scripts send outcomes and records outbound mail
type fakeMailer struct {
	mu     sync.Mutex
	errs   []error // consumed one per Send; nil entry means success
	sent   []utils.OutboundMail
	nextID int
}

func (m *fakeMailer) failNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

func (m *fakeMailer) Send(mail utils.OutboundMail) (*utils.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	m.nextID++
	m.sent = append(m.sent, mail)
	return &utils.SendResult{
		MessageID: "msg-" + time.Now().Format("150405") + "-" + string(rune('a'+m.nextID%26)),
		Response:  "250 accepted",
	}, nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeStore is an in-memory Store with the same transition semantics as
// the relational implementation
type fakeStore struct {
	mu sync.Mutex

	nextID    uint
	jobs      map[uint]*models.EmailJob
	steps     map[uint][]models.SequenceStep // keyed by sequence id
	templates map[uint]models.Template

	sequenceExecutions map[uint]int
	sequenceSuccesses  map[uint]int
	lastExecution      map[uint]time.Time
	stepExecutions     map[uint]int
	stepSuccesses      map[uint]int
	stepFailures       map[uint]int

	createJobErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:               make(map[uint]*models.EmailJob),
		steps:              make(map[uint][]models.SequenceStep),
		templates:          make(map[uint]models.Template),
		sequenceExecutions: make(map[uint]int),
		sequenceSuccesses:  make(map[uint]int),
		lastExecution:      make(map[uint]time.Time),
		stepExecutions:     make(map[uint]int),
		stepSuccesses:      make(map[uint]int),
		stepFailures:       make(map[uint]int),
	}
}

func (s *fakeStore) addStep(step models.SequenceStep, template models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.Template = template
	s.steps[step.SequenceID] = append(s.steps[step.SequenceID], step)
	s.templates[step.TemplateID] = template
}

func (s *fakeStore) addJob(job *models.EmailJob) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job.ID = s.nextID
	if job.Status == "" {
		job.Status = models.JobPending
	}
	s.jobs[job.ID] = job
	return job.ID
}

func (s *fakeStore) job(jobID uint) models.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

func (s *fakeStore) ActiveSteps(sequenceID uint) ([]models.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SequenceStep
	for _, step := range s.steps[sequenceID] {
		if step.Active && step.Template.Active {
			out = append(out, step)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateJob(job *models.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createJobErr != nil {
		return s.createJobErr
	}
	s.nextID++
	job.ID = s.nextID
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *fakeStore) GetJob(jobID uint) (*models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	copied.Template = s.templates[job.TemplateID]
	return &copied, nil
}

func (s *fakeStore) ClaimJob(jobID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobPending {
		return false, nil
	}
	job.Status = models.JobProcessing
	job.ProcessedAt = &at
	return true, nil
}

func (s *fakeStore) MarkSent(jobID uint, at time.Time, messageID string, deliveryInfo map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobProcessing {
		return false, nil
	}
	job.Status = models.JobSent
	job.SentAt = &at
	job.MessageID = messageID
	job.DeliveryInfo = deliveryInfo
	return true, nil
}

func (s *fakeStore) MarkRetry(jobID uint, attempts int, nextAt time.Time, errorMessage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobProcessing {
		return false, nil
	}
	job.Status = models.JobPending
	job.Attempts = attempts
	job.ScheduledAt = nextAt
	job.ErrorMessage = errorMessage
	return true, nil
}

func (s *fakeStore) MarkFailed(jobID uint, attempts int, errorMessage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobProcessing {
		return false, nil
	}
	job.Status = models.JobFailed
	job.Attempts = attempts
	job.ErrorMessage = errorMessage
	return true, nil
}

func (s *fakeStore) FailPending(jobID uint, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == models.JobPending {
		job.Status = models.JobFailed
		job.ErrorMessage = errorMessage
	}
	return nil
}

func (s *fakeStore) CancelJob(jobID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.Status != models.JobPending && job.Status != models.JobProcessing {
		return false, nil
	}
	job.Status = models.JobCancelled
	return true, nil
}

func (s *fakeStore) CancelSequenceJobs(sequenceID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled int64
	for _, job := range s.jobs {
		if job.SequenceID != sequenceID {
			continue
		}
		if job.Status == models.JobPending || job.Status == models.JobProcessing {
			job.Status = models.JobCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *fakeStore) DueJobs(now time.Time, limit int) ([]models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.EmailJob
	for _, job := range s.jobs {
		if job.Status == models.JobPending && !job.ScheduledAt.After(now) {
			due = append(due, *job)
			if len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (s *fakeStore) PurgeTerminalJobs(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, job := range s.jobs {
		terminal := job.Status == models.JobSent || job.Status == models.JobFailed || job.Status == models.JobCancelled
		if terminal && job.CreatedAt.Before(before) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (s *fakeStore) IncrementStepExecution(stepID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepExecutions[stepID]++
	return nil
}

func (s *fakeStore) IncrementStepSuccess(stepID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepSuccesses[stepID]++
	return nil
}

func (s *fakeStore) IncrementStepFailure(stepID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepFailures[stepID]++
	return nil
}

func (s *fakeStore) RecordSequenceExecution(sequenceID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequenceExecutions[sequenceID]++
	s.lastExecution[sequenceID] = at
	return nil
}

func (s *fakeStore) IncrementSequenceSuccess(sequenceID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequenceSuccesses[sequenceID]++
	return nil
}

func (s *fakeStore) JobCountsByStatus(sequenceID uint) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int64{
		models.JobPending:    0,
		models.JobProcessing: 0,
		models.JobSent:       0,
		models.JobFailed:     0,
		models.JobCancelled:  0,
	}
	for _, job := range s.jobs {
		if job.SequenceID == sequenceID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (s *fakeStore) QueueCounts() (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *fakeStore) StepStats(sequenceID uint) ([]StepStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats []StepStat
	for _, step := range s.steps[sequenceID] {
		stats = append(stats, StepStat{
			StepID:          step.ID,
			StepOrder:       step.StepOrder,
			TemplateName:    step.Template.Name,
			TemplateSubject: step.Template.Subject,
			ExecutionCount:  s.stepExecutions[step.ID],
			SuccessCount:    s.stepSuccesses[step.ID],
			FailureCount:    s.stepFailures[step.ID],
		})
	}
	return stats, nil
}

var errSMTPUnavailable = errors.New("smtp: connection refused")

var fakeSendResult = utils.SendResult{MessageID: "msg-test", Response: "250 accepted"}
