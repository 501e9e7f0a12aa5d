package worker

import (
	"fmt"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"

	"mailtrigger/models"
	"mailtrigger/utils"
)

// Event is the normalized inbound occurrence handed over by the webhook
// layer: an event name plus the flat variable map extracted from the
// platform payload.
type Event struct {
	TriggerEvent   string
	SourcePlatform string
	Variables      map[string]string
}

// SequenceProcessor decides whether a sequence fires for an event and
// expands a firing into one durable job per eligible step.
type SequenceProcessor struct {
	store  Store
	queue  *DeliveryQueue
	clock  Clock
	logger *logrus.Entry
}

func NewSequenceProcessor(store Store, queue *DeliveryQueue, clock Clock) *SequenceProcessor {
	return &SequenceProcessor{
		store:  store,
		queue:  queue,
		clock:  clock,
		logger: logrus.WithField("component", "sequence_processor"),
	}
}

// ShouldFire evaluates the sequence's trigger against the event. It is
// side-effect free: rejections are eligibility decisions, not errors.
func (p *SequenceProcessor) ShouldFire(sequence *models.Sequence, event Event) bool {
	log := p.logger.WithFields(logrus.Fields{
		"sequence_id": sequence.ID,
		"event":       event.TriggerEvent,
	})

	if !sequence.Active {
		log.Warn("sequence is inactive")
		return false
	}

	recipient := event.Variables[utils.VarCustomerEmail]
	if recipient == "" || checkmail.ValidateFormat(recipient) != nil {
		log.Warn("no usable recipient email in event")
		return false
	}

	if !sequence.TriggerConditions.Evaluate(conditionView(event)) {
		log.Info("trigger conditions not met")
		return false
	}

	return true
}

// Process materializes the firing sequence: one pending job per eligible
// active step, all anchored to a single base time captured here. The
// caller is expected to have checked ShouldFire already.
func (p *SequenceProcessor) Process(sequence *models.Sequence, event Event) error {
	log := p.logger.WithFields(logrus.Fields{
		"sequence_id": sequence.ID,
		"event":       event.TriggerEvent,
	})

	steps, err := p.store.ActiveSteps(sequence.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps for sequence %d: %w", sequence.ID, err)
	}
	if len(steps) == 0 {
		log.Warn("no active steps, nothing to materialize")
		return nil
	}

	baseTime := p.clock.Now()
	view := conditionView(event)
	materialized := 0

	for _, step := range steps {
		if !step.Conditions.Evaluate(view) {
			log.WithField("step_order", step.StepOrder).Info("step conditions not met, skipping")
			continue
		}

		scheduledAt := utils.ComputeSendTime(baseTime, step.DelayPolicy())

		job := &models.EmailJob{
			CompanyID:      sequence.CompanyID,
			SequenceID:     sequence.ID,
			StepID:         step.ID,
			TemplateID:     step.TemplateID,
			RecipientEmail: event.Variables[utils.VarCustomerEmail],
			RecipientName:  recipientName(event.Variables),
			Variables:      snapshotVariables(event),
			ScheduledAt:    scheduledAt,
			Status:         models.JobPending,
			Priority:       emailPriority(step.StepOrder, event.TriggerEvent),
		}

		if err := p.store.CreateJob(job); err != nil {
			// One step's failure must not block its siblings.
			log.WithError(err).WithField("step_order", step.StepOrder).Error("failed to create job")
			continue
		}

		log.WithFields(logrus.Fields{
			"job_id":       job.ID,
			"step_order":   step.StepOrder,
			"scheduled_at": scheduledAt,
			"priority":     job.Priority,
		}).Info("job materialized")

		if err := p.queue.Enqueue(job.ID, scheduledAt, job.Priority); err != nil {
			// Never leave a job pending with no path to promotion.
			log.WithError(err).WithField("job_id", job.ID).Error("failed to submit job to queue")
			if failErr := p.store.FailPending(job.ID, fmt.Sprintf("queue submission failed: %v", err)); failErr != nil {
				log.WithError(failErr).WithField("job_id", job.ID).Error("failed to mark job failed")
			}
		}

		if err := p.store.IncrementStepExecution(step.ID); err != nil {
			log.WithError(err).WithField("step_order", step.StepOrder).Error("failed to increment step execution counter")
		}
		materialized++
	}

	if materialized == 0 {
		log.Info("no eligible steps for this firing")
	}

	if err := p.store.RecordSequenceExecution(sequence.ID, baseTime); err != nil {
		return fmt.Errorf("failed to record sequence execution: %w", err)
	}

	return nil
}

// conditionView merges the event identity into the variable map so trigger
// and step predicates address everything through one interpreter.
func conditionView(event Event) map[string]string {
	view := make(map[string]string, len(event.Variables)+2)
	for k, v := range event.Variables {
		view[k] = v
	}
	view[utils.VarTriggerEvent] = event.TriggerEvent
	view[utils.VarSourcePlatform] = event.SourcePlatform
	return view
}

// snapshotVariables copies the event variables so later mutations of the
// source event can never leak into an already materialized job.
func snapshotVariables(event Event) map[string]string {
	snapshot := make(map[string]string, len(event.Variables)+2)
	for k, v := range event.Variables {
		snapshot[k] = v
	}
	snapshot[utils.VarTriggerEvent] = event.TriggerEvent
	snapshot[utils.VarSourcePlatform] = event.SourcePlatform
	return snapshot
}

func recipientName(variables map[string]string) string {
	if name := variables[utils.VarCustomerName]; name != "" {
		return name
	}
	return "Customer"
}

// emailPriority ranks a job for the delivery queue: the opening step and
// immediate firings jump the line, the first few steps stay normal, long
// tails go last.
func emailPriority(stepOrder int, triggerEvent string) string {
	switch {
	case stepOrder == 1 || triggerEvent == "immediate":
		return models.PriorityHigh
	case stepOrder <= 3:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}
