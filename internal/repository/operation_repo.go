package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloud-gov/external-domain-broker/internal/models"
)

const operationColumns = `
	id, instance_id, action, state, step_description, correlation_id,
	created_at, updated_at`

// OperationRepository defines the interface for operation data operations.
type OperationRepository interface {
	Create(ctx context.Context, op *models.Operation) error
	GetByID(ctx context.Context, id int64) (*models.Operation, error)
	// GetForInstance retrieves an operation only if it belongs to the given
	// instance.
	GetForInstance(ctx context.Context, instanceID string, id int64) (*models.Operation, error)
	// HasActive reports whether the instance has an in-progress operation.
	HasActive(ctx context.Context, instanceID string) (bool, error)
	// SetStep rewrites the tenant-visible step description.
	SetStep(ctx context.Context, id int64, description string) error
	// SetState transitions the operation state, recording a final
	// description alongside it.
	SetState(ctx context.Context, id int64, state models.OperationState, description string) error
}

type operationRepo struct {
	pool *pgxpool.Pool
}

// NewOperationRepository creates a new operation repository.
func NewOperationRepository(pool *pgxpool.Pool) OperationRepository {
	return &operationRepo{pool: pool}
}

// Create inserts a new operation row and fills in the generated id.
func (r *operationRepo) Create(ctx context.Context, op *models.Operation) error {
	query := `
		INSERT INTO operations (instance_id, action, state, step_description, correlation_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		op.InstanceID,
		op.Action,
		op.State,
		op.StepDescription,
		op.CorrelationID,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)
}

// GetByID retrieves an operation by id.
func (r *operationRepo) GetByID(ctx context.Context, id int64) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = $1`

	op, err := scanOperation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetForInstance retrieves an operation scoped to one instance.
func (r *operationRepo) GetForInstance(ctx context.Context, instanceID string, id int64) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = $1 AND instance_id = $2`

	op, err := scanOperation(r.pool.QueryRow(ctx, query, id, instanceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// HasActive reports whether any operation of the instance is in progress.
func (r *operationRepo) HasActive(ctx context.Context, instanceID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM operations WHERE instance_id = $1 AND state = $2)`

	var active bool
	err := r.pool.QueryRow(ctx, query, instanceID, models.StateInProgress).Scan(&active)
	return active, err
}

// SetStep rewrites the step description of an in-progress operation.
func (r *operationRepo) SetStep(ctx context.Context, id int64, description string) error {
	query := `UPDATE operations SET step_description = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, description)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetState transitions the operation to a terminal (or initial) state.
func (r *operationRepo) SetState(ctx context.Context, id int64, state models.OperationState, description string) error {
	query := `UPDATE operations SET state = $2, step_description = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, state, description)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanOperation(row pgx.Row) (*models.Operation, error) {
	var op models.Operation
	err := row.Scan(
		&op.ID,
		&op.InstanceID,
		&op.Action,
		&op.State,
		&op.StepDescription,
		&op.CorrelationID,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// Compile-time check to ensure operationRepo implements OperationRepository.
var _ OperationRepository = (*operationRepo)(nil)
