package tasks

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gov/external-domain-broker/internal/models"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
)

// fakeOpRepo is an in-memory OperationRepository.
type fakeOpRepo struct {
	items map[int64]*models.Operation
}

func (f *fakeOpRepo) Create(_ context.Context, op *models.Operation) error {
	f.items[op.ID] = op
	return nil
}

func (f *fakeOpRepo) GetByID(_ context.Context, id int64) (*models.Operation, error) {
	return f.items[id], nil
}

func (f *fakeOpRepo) GetForInstance(_ context.Context, _ string, id int64) (*models.Operation, error) {
	return f.items[id], nil
}

func (f *fakeOpRepo) HasActive(_ context.Context, _ string) (bool, error) { return false, nil }

func (f *fakeOpRepo) SetStep(_ context.Context, id int64, description string) error {
	f.items[id].StepDescription = description
	return nil
}

func (f *fakeOpRepo) SetState(_ context.Context, id int64, state models.OperationState, description string) error {
	f.items[id].State = state
	f.items[id].StepDescription = description
	return nil
}

func testHandler(ops *fakeOpRepo) *Handler {
	return NewHandler(nil, ops, slog.New(slog.DiscardHandler))
}

func testJob() *queue.Job {
	return &queue.Job{
		OperationID: 1,
		InstanceID:  "i-1",
		Steps:       DeprovisionSteps(models.KindALB),
	}
}

func TestExecuteDiscardsJobForMissingOperation(t *testing.T) {
	h := testHandler(&fakeOpRepo{items: map[int64]*models.Operation{}})

	err := h.Execute(context.Background(), testJob())
	assert.ErrorIs(t, err, queue.ErrDiscard)
}

func TestExecuteDiscardsJobForFinishedOperation(t *testing.T) {
	for _, state := range []models.OperationState{models.StateSucceeded, models.StateFailed} {
		ops := &fakeOpRepo{items: map[int64]*models.Operation{
			1: {ID: 1, InstanceID: "i-1", State: state},
		}}
		h := testHandler(ops)

		err := h.Execute(context.Background(), testJob())
		assert.ErrorIs(t, err, queue.ErrDiscard, "state %s", state)
		assert.Equal(t, state, ops.items[1].State, "a stale delivery must not rewrite the state")
	}
}

func TestAdvanceRecordsStepDescription(t *testing.T) {
	ops := &fakeOpRepo{items: map[int64]*models.Operation{
		1: {ID: 1, InstanceID: "i-1", State: models.StateInProgress},
	}}
	h := testHandler(ops)

	job := testJob()
	job.Step = 1
	require.NoError(t, h.Advance(context.Background(), job))
	assert.Equal(t, Description(StepRemoveTXTRecords), ops.items[1].StepDescription)
}

func TestCompleteAndFail(t *testing.T) {
	ops := &fakeOpRepo{items: map[int64]*models.Operation{
		1: {ID: 1, InstanceID: "i-1", State: models.StateInProgress},
	}}
	h := testHandler(ops)

	require.NoError(t, h.Complete(context.Background(), testJob()))
	assert.Equal(t, models.StateSucceeded, ops.items[1].State)
	assert.Equal(t, "Complete!", ops.items[1].StepDescription)

	ops.items[1].State = models.StateInProgress
	require.NoError(t, h.Fail(context.Background(), testJob(), assert.AnError))
	assert.Equal(t, models.StateFailed, ops.items[1].State)
	assert.Equal(t, "Removing DNS ALIAS records failed", ops.items[1].StepDescription)
}
