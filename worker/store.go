package worker

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"mailtrigger/models"
)

var ErrJobNotFound = errors.New("email job not found")

// StepStat is one row of the per-step statistics rollup
type StepStat struct {
	StepID          uint   `json:"step_id"`
	StepOrder       int    `json:"step_order"`
	TemplateName    string `json:"template_name"`
	TemplateSubject string `json:"template_subject"`
	ExecutionCount  int    `json:"execution_count"`
	SuccessCount    int    `json:"success_count"`
	FailureCount    int    `json:"failure_count"`
}

// Store is the persistence collaborator for the scheduling core. All
// status transitions are conditional updates so concurrent workers and
// cancellations never clobber each other.
type Store interface {
	ActiveSteps(sequenceID uint) ([]models.SequenceStep, error)

	CreateJob(job *models.EmailJob) error
	GetJob(jobID uint) (*models.EmailJob, error)

	// ClaimJob transitions pending -> processing. Exactly one concurrent
	// caller wins; the rest observe false.
	ClaimJob(jobID uint, at time.Time) (bool, error)

	// Outcome transitions apply only while the job is still processing, so
	// a cancellation that landed mid-flight is never overwritten.
	MarkSent(jobID uint, at time.Time, messageID string, deliveryInfo map[string]string) (bool, error)
	MarkRetry(jobID uint, attempts int, nextAt time.Time, errorMessage string) (bool, error)
	MarkFailed(jobID uint, attempts int, errorMessage string) (bool, error)

	// FailPending marks a job failed straight from pending, used when the
	// delivery queue rejects a freshly materialized job.
	FailPending(jobID uint, errorMessage string) error

	CancelJob(jobID uint) (bool, error)
	CancelSequenceJobs(sequenceID uint) (int64, error)

	DueJobs(now time.Time, limit int) ([]models.EmailJob, error)
	PurgeTerminalJobs(before time.Time) (int64, error)

	IncrementStepExecution(stepID uint) error
	IncrementStepSuccess(stepID uint) error
	IncrementStepFailure(stepID uint) error
	RecordSequenceExecution(sequenceID uint, at time.Time) error
	IncrementSequenceSuccess(sequenceID uint) error

	JobCountsByStatus(sequenceID uint) (map[string]int64, error)
	QueueCounts() (map[string]int64, error)
	StepStats(sequenceID uint) ([]StepStat, error)
}

// GormStore implements Store against the relational job store
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) ActiveSteps(sequenceID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.DB.
		Where("sequence_id = ? AND active = ?", sequenceID, true).
		Joins("Template", s.DB.Where(&models.Template{Active: true})).
		Order("step_order ASC").
		Find(&steps).Error
	return steps, err
}

func (s *GormStore) CreateJob(job *models.EmailJob) error {
	return s.DB.Create(job).Error
}

func (s *GormStore) GetJob(jobID uint) (*models.EmailJob, error) {
	var job models.EmailJob
	err := s.DB.Preload("Template").First(&job, jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) ClaimJob(jobID uint, at time.Time) (bool, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", jobID, models.JobPending).
		Updates(map[string]interface{}{
			"status":       models.JobProcessing,
			"processed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) MarkSent(jobID uint, at time.Time, messageID string, deliveryInfo map[string]string) (bool, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(models.EmailJob{
			Status:       models.JobSent,
			SentAt:       &at,
			MessageID:    messageID,
			DeliveryInfo: deliveryInfo,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) MarkRetry(jobID uint, attempts int, nextAt time.Time, errorMessage string) (bool, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobPending,
			"attempts":      attempts,
			"scheduled_at":  nextAt,
			"error_message": errorMessage,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) MarkFailed(jobID uint, attempts int, errorMessage string) (bool, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobFailed,
			"attempts":      attempts,
			"error_message": errorMessage,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) FailPending(jobID uint, errorMessage string) error {
	return s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", jobID, models.JobPending).
		Updates(map[string]interface{}{
			"status":        models.JobFailed,
			"error_message": errorMessage,
		}).Error
}

func (s *GormStore) CancelJob(jobID uint) (bool, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobPending, models.JobProcessing}).
		Update("status", models.JobCancelled)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) CancelSequenceJobs(sequenceID uint) (int64, error) {
	res := s.DB.Model(&models.EmailJob{}).
		Where("sequence_id = ? AND status IN ?", sequenceID, []string{models.JobPending, models.JobProcessing}).
		Update("status", models.JobCancelled)
	return res.RowsAffected, res.Error
}

func (s *GormStore) DueJobs(now time.Time, limit int) ([]models.EmailJob, error) {
	var jobs []models.EmailJob
	err := s.DB.
		Where("status = ? AND scheduled_at <= ?", models.JobPending, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *GormStore) PurgeTerminalJobs(before time.Time) (int64, error) {
	res := s.DB.Unscoped().
		Where("status IN ? AND created_at < ?", []string{models.JobSent, models.JobFailed, models.JobCancelled}, before).
		Delete(&models.EmailJob{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) IncrementStepExecution(stepID uint) error {
	return s.incrementStep(stepID, "execution_count")
}

func (s *GormStore) IncrementStepSuccess(stepID uint) error {
	return s.incrementStep(stepID, "success_count")
}

func (s *GormStore) IncrementStepFailure(stepID uint) error {
	return s.incrementStep(stepID, "failure_count")
}

func (s *GormStore) incrementStep(stepID uint, column string) error {
	return s.DB.Model(&models.SequenceStep{}).
		Where("id = ?", stepID).
		Update(column, gorm.Expr(column+" + ?", 1)).Error
}

func (s *GormStore) RecordSequenceExecution(sequenceID uint, at time.Time) error {
	return s.DB.Model(&models.Sequence{}).
		Where("id = ?", sequenceID).
		Updates(map[string]interface{}{
			"total_executions":  gorm.Expr("total_executions + ?", 1),
			"last_execution_at": at,
		}).Error
}

func (s *GormStore) IncrementSequenceSuccess(sequenceID uint) error {
	return s.DB.Model(&models.Sequence{}).
		Where("id = ?", sequenceID).
		Update("successful_executions", gorm.Expr("successful_executions + ?", 1)).Error
}

func (s *GormStore) JobCountsByStatus(sequenceID uint) (map[string]int64, error) {
	return s.countByStatus(s.DB.Model(&models.EmailJob{}).Where("sequence_id = ?", sequenceID))
}

func (s *GormStore) QueueCounts() (map[string]int64, error) {
	return s.countByStatus(s.DB.Model(&models.EmailJob{}))
}

func (s *GormStore) countByStatus(query *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := query.Select("status, COUNT(id) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.JobPending:    0,
		models.JobProcessing: 0,
		models.JobSent:       0,
		models.JobFailed:     0,
		models.JobCancelled:  0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *GormStore) StepStats(sequenceID uint) ([]StepStat, error) {
	var stats []StepStat
	err := s.DB.Model(&models.SequenceStep{}).
		Select(`sequence_steps.id as step_id,
			sequence_steps.step_order,
			templates.name as template_name,
			templates.subject as template_subject,
			sequence_steps.execution_count,
			sequence_steps.success_count,
			sequence_steps.failure_count`).
		Joins("LEFT JOIN templates ON templates.id = sequence_steps.template_id").
		Where("sequence_steps.sequence_id = ?", sequenceID).
		Order("sequence_steps.step_order ASC").
		Scan(&stats).Error
	return stats, err
}
