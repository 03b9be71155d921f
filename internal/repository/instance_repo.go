// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloud-gov/external-domain-broker/internal/models"
)

const instanceColumns = `
	id, kind, domain_names, domain_internal, route53_alias_hosted_zone,
	deactivated_at, current_certificate_id, new_certificate_id,
	acme_registration_json, acme_private_key_pem,
	alb_state, cdn_state, dedicated_waf_state, created_at, updated_at`

// InstanceRepository defines the interface for service instance data operations.
type InstanceRepository interface {
	Create(ctx context.Context, inst *models.ServiceInstance) error
	GetByID(ctx context.Context, id string) (*models.ServiceInstance, error)
	Update(ctx context.Context, inst *models.ServiceInstance) error
	ListActive(ctx context.Context) ([]*models.ServiceInstance, error)
	// FindDomainConflict returns the first of the given domains held by
	// another non-deactivated instance, or "" if none conflict.
	FindDomainConflict(ctx context.Context, domains []string, exceptInstanceID string) (string, error)
	// ListRenewable returns active instances whose current certificate
	// expires within the given window and that have no in-progress operation.
	ListRenewable(ctx context.Context, within time.Duration) ([]*models.ServiceInstance, error)
}

type instanceRepo struct {
	pool *pgxpool.Pool
}

// NewInstanceRepository creates a new service instance repository.
func NewInstanceRepository(pool *pgxpool.Pool) InstanceRepository {
	return &instanceRepo{pool: pool}
}

// Create inserts a new service instance row.
func (r *instanceRepo) Create(ctx context.Context, inst *models.ServiceInstance) error {
	query := `
		INSERT INTO service_instances (
			id, kind, domain_names, domain_internal, route53_alias_hosted_zone,
			deactivated_at, current_certificate_id, new_certificate_id,
			acme_registration_json, acme_private_key_pem,
			alb_state, cdn_state, dedicated_waf_state
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		inst.ID,
		inst.Kind,
		inst.DomainNames,
		inst.DomainInternal,
		inst.Route53AliasHostedZone,
		inst.DeactivatedAt,
		inst.CurrentCertificateID,
		inst.NewCertificateID,
		inst.ACMERegistrationJSON,
		inst.ACMEPrivateKeyPEM,
		inst.ALB,
		inst.CDN,
		inst.DedicatedWAF,
	).Scan(&inst.CreatedAt, &inst.UpdatedAt)
}

// GetByID retrieves a service instance by its platform identifier.
func (r *instanceRepo) GetByID(ctx context.Context, id string) (*models.ServiceInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM service_instances WHERE id = $1`

	inst, err := scanInstance(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Update writes back all mutable fields of the aggregate.
func (r *instanceRepo) Update(ctx context.Context, inst *models.ServiceInstance) error {
	query := `
		UPDATE service_instances SET
			domain_names = $2,
			domain_internal = $3,
			route53_alias_hosted_zone = $4,
			deactivated_at = $5,
			current_certificate_id = $6,
			new_certificate_id = $7,
			acme_registration_json = $8,
			acme_private_key_pem = $9,
			alb_state = $10,
			cdn_state = $11,
			dedicated_waf_state = $12,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.DomainNames,
		inst.DomainInternal,
		inst.Route53AliasHostedZone,
		inst.DeactivatedAt,
		inst.CurrentCertificateID,
		inst.NewCertificateID,
		inst.ACMERegistrationJSON,
		inst.ACMEPrivateKeyPEM,
		inst.ALB,
		inst.CDN,
		inst.DedicatedWAF,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActive retrieves all non-deactivated instances.
func (r *instanceRepo) ListActive(ctx context.Context) ([]*models.ServiceInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM service_instances
		WHERE deactivated_at IS NULL
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInstances(rows)
}

// FindDomainConflict returns the first requested domain already held by a
// different non-deactivated instance.
func (r *instanceRepo) FindDomainConflict(ctx context.Context, domains []string, exceptInstanceID string) (string, error) {
	query := `
		SELECT domain_names FROM service_instances
		WHERE deactivated_at IS NULL
		  AND id <> $2
		  AND domain_names && $1`

	rows, err := r.pool.Query(ctx, query, domains, exceptInstanceID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	taken := make(map[string]struct{})
	for rows.Next() {
		var held []string
		if err := rows.Scan(&held); err != nil {
			return "", err
		}
		for _, d := range held {
			taken[d] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	for _, d := range domains {
		if _, ok := taken[d]; ok {
			return d, nil
		}
	}
	return "", nil
}

// ListRenewable retrieves instances due for certificate renewal.
func (r *instanceRepo) ListRenewable(ctx context.Context, within time.Duration) ([]*models.ServiceInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM service_instances si
		WHERE si.deactivated_at IS NULL
		  AND si.current_certificate_id IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM certificates c
			WHERE c.id = si.current_certificate_id
			  AND c.expires_at IS NOT NULL
			  AND c.expires_at < NOW() + $1::interval
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM operations o
			WHERE o.instance_id = si.id AND o.state = 'in-progress'
		  )
		ORDER BY si.id`

	rows, err := r.pool.Query(ctx, query, within)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInstances(rows)
}

func scanInstance(row pgx.Row) (*models.ServiceInstance, error) {
	var inst models.ServiceInstance
	err := row.Scan(
		&inst.ID,
		&inst.Kind,
		&inst.DomainNames,
		&inst.DomainInternal,
		&inst.Route53AliasHostedZone,
		&inst.DeactivatedAt,
		&inst.CurrentCertificateID,
		&inst.NewCertificateID,
		&inst.ACMERegistrationJSON,
		&inst.ACMEPrivateKeyPEM,
		&inst.ALB,
		&inst.CDN,
		&inst.DedicatedWAF,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func collectInstances(rows pgx.Rows) ([]*models.ServiceInstance, error) {
	var out []*models.ServiceInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Compile-time check to ensure instanceRepo implements InstanceRepository.
var _ InstanceRepository = (*instanceRepo)(nil)
