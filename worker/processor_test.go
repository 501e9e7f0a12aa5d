package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailtrigger/models"
	"mailtrigger/utils"
)

var processorTestBase = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func welcomeTemplate() models.Template {
	return models.Template{
		Name:        "welcome",
		Subject:     "Welcome {{customer_name}}",
		HTMLContent: "<p>Hello {{customer_name}}</p>",
		Active:      true,
	}
}

func purchaseEvent() Event {
	return Event{
		TriggerEvent:   "purchase_complete",
		SourcePlatform: "kiwify",
		Variables: map[string]string{
			utils.VarCustomerEmail: "maria@example.com",
			utils.VarCustomerName:  "Maria",
			"amount":               "150",
		},
	}
}

func activeSequence() *models.Sequence {
	return &models.Sequence{
		Model:         gorm.Model{ID: 1},
		CompanyID:     10,
		WebhookLinkID: 3,
		Name:          "post purchase",
		TriggerEvent:  "purchase_complete",
		Active:        true,
	}
}

func TestShouldFireRejectsInactiveSequence(t *testing.T) {
	p := NewSequenceProcessor(newFakeStore(), nil, newFakeClock(processorTestBase))

	sequence := activeSequence()
	sequence.Active = false

	assert.False(t, p.ShouldFire(sequence, purchaseEvent()))
}

func TestShouldFireRequiresUsableRecipient(t *testing.T) {
	p := NewSequenceProcessor(newFakeStore(), nil, newFakeClock(processorTestBase))
	sequence := activeSequence()

	event := purchaseEvent()
	delete(event.Variables, utils.VarCustomerEmail)
	assert.False(t, p.ShouldFire(sequence, event))

	event = purchaseEvent()
	event.Variables[utils.VarCustomerEmail] = "not-an-email"
	assert.False(t, p.ShouldFire(sequence, event))

	assert.True(t, p.ShouldFire(sequence, purchaseEvent()))
}

func TestShouldFireEvaluatesTriggerConditions(t *testing.T) {
	p := NewSequenceProcessor(newFakeStore(), nil, newFakeClock(processorTestBase))

	sequence := activeSequence()
	sequence.TriggerConditions = utils.ConditionSet{
		{Field: utils.VarTriggerEvent, Op: utils.OpEquals, Value: "purchase_complete"},
		{Field: "amount", Op: utils.OpMinAmount, Value: "100"},
	}

	assert.True(t, p.ShouldFire(sequence, purchaseEvent()))

	low := purchaseEvent()
	low.Variables["amount"] = "50"
	assert.False(t, p.ShouldFire(sequence, low))
}

func TestProcessMaterializesOneJobPerEligibleStep(t *testing.T) {
	store := newFakeStore()
	store.addStep(models.SequenceStep{
		Model:      gorm.Model{ID: 1},
		SequenceID: 1,
		TemplateID: 7,
		StepOrder:  1,
		DelayType:  utils.DelayImmediate,
		Active:     true,
	}, welcomeTemplate())
	store.addStep(models.SequenceStep{
		Model:        gorm.Model{ID: 2},
		SequenceID:   1,
		TemplateID:   7,
		StepOrder:    2,
		DelayType:    utils.DelayFixed,
		DelayMinutes: 1440,
		Active:       true,
	}, welcomeTemplate())

	clock := newFakeClock(processorTestBase)
	queue := newTestQueue(store, &fakeMailer{}, clock)
	p := NewSequenceProcessor(store, queue, clock)

	require.NoError(t, p.Process(activeSequence(), purchaseEvent()))

	first := store.job(1)
	assert.Equal(t, processorTestBase, first.ScheduledAt)
	assert.Equal(t, models.PriorityHigh, first.Priority)
	assert.Equal(t, models.JobPending, first.Status)
	assert.Equal(t, "maria@example.com", first.RecipientEmail)
	assert.Equal(t, "Maria", first.RecipientName)

	second := store.job(2)
	assert.Equal(t, processorTestBase.Add(24*time.Hour), second.ScheduledAt)
	assert.Equal(t, models.PriorityNormal, second.Priority)

	// Both jobs anchor to the same base instant
	assert.Equal(t, 1, store.sequenceExecutions[1])
	assert.Equal(t, processorTestBase, store.lastExecution[1])
	assert.Equal(t, 1, store.stepExecutions[1])
	assert.Equal(t, 1, store.stepExecutions[2])

	// Both entries landed in the delivery queue
	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Len(t, queue.inflight, 2)
}

func TestProcessSkipsStepsWhoseConditionsFail(t *testing.T) {
	store := newFakeStore()
	store.addStep(models.SequenceStep{
		Model:      gorm.Model{ID: 1},
		SequenceID: 1,
		TemplateID: 7,
		StepOrder:  1,
		DelayType:  utils.DelayImmediate,
		Active:     true,
		Conditions: utils.ConditionSet{
			{Field: "amount", Op: utils.OpMinAmount, Value: "1000"},
		},
	}, welcomeTemplate())

	clock := newFakeClock(processorTestBase)
	queue := newTestQueue(store, &fakeMailer{}, clock)
	p := NewSequenceProcessor(store, queue, clock)

	require.NoError(t, p.Process(activeSequence(), purchaseEvent()))

	assert.Empty(t, store.jobs)
	assert.Equal(t, 0, store.stepExecutions[1])
	// A firing with no eligible steps still counts as an execution
	assert.Equal(t, 1, store.sequenceExecutions[1])
}

func TestProcessSnapshotsVariablesPerJob(t *testing.T) {
	store := newFakeStore()
	store.addStep(models.SequenceStep{
		Model:      gorm.Model{ID: 1},
		SequenceID: 1,
		TemplateID: 7,
		StepOrder:  1,
		DelayType:  utils.DelayImmediate,
		Active:     true,
	}, welcomeTemplate())

	clock := newFakeClock(processorTestBase)
	queue := newTestQueue(store, &fakeMailer{}, clock)
	p := NewSequenceProcessor(store, queue, clock)

	event := purchaseEvent()
	require.NoError(t, p.Process(activeSequence(), event))

	// Later mutation of the source event must not leak into the job
	event.Variables[utils.VarCustomerName] = "Changed"

	job := store.job(1)
	assert.Equal(t, "Maria", job.Variables[utils.VarCustomerName])
	assert.Equal(t, "purchase_complete", job.Variables[utils.VarTriggerEvent])
	assert.Equal(t, "kiwify", job.Variables[utils.VarSourcePlatform])
}

func TestProcessFailsJobWhenQueueRejectsIt(t *testing.T) {
	store := newFakeStore()
	store.addStep(models.SequenceStep{
		Model:      gorm.Model{ID: 1},
		SequenceID: 1,
		TemplateID: 7,
		StepOrder:  1,
		DelayType:  utils.DelayImmediate,
		Active:     true,
	}, welcomeTemplate())

	clock := newFakeClock(processorTestBase)
	// Not started: every submission is rejected
	queue := NewDeliveryQueue(store, &fakeMailer{}, clock, QueueConfig{})
	p := NewSequenceProcessor(store, queue, clock)

	require.NoError(t, p.Process(activeSequence(), purchaseEvent()))

	job := store.job(1)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "queue submission failed")
}

func TestEmailPriority(t *testing.T) {
	assert.Equal(t, models.PriorityHigh, emailPriority(1, "purchase_complete"))
	assert.Equal(t, models.PriorityHigh, emailPriority(5, "immediate"))
	assert.Equal(t, models.PriorityNormal, emailPriority(2, "purchase_complete"))
	assert.Equal(t, models.PriorityNormal, emailPriority(3, "purchase_complete"))
	assert.Equal(t, models.PriorityLow, emailPriority(4, "purchase_complete"))
}

func TestRecipientNameDefaults(t *testing.T) {
	assert.Equal(t, "Maria", recipientName(map[string]string{utils.VarCustomerName: "Maria"}))
	assert.Equal(t, "Customer", recipientName(map[string]string{}))
}

func TestProcessSkipsInactiveSteps(t *testing.T) {
	store := newFakeStore()
	store.addStep(models.SequenceStep{
		Model:      gorm.Model{ID: 1},
		SequenceID: 1,
		TemplateID: 7,
		StepOrder:  1,
		DelayType:  utils.DelayImmediate,
		Active:     false,
	}, welcomeTemplate())

	clock := newFakeClock(processorTestBase)
	queue := newTestQueue(store, &fakeMailer{}, clock)
	p := NewSequenceProcessor(store, queue, clock)

	require.NoError(t, p.Process(activeSequence(), purchaseEvent()))
	assert.Empty(t, store.jobs)
}
