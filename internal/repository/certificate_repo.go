package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloud-gov/external-domain-broker/internal/models"
)

const certificateColumns = `
	id, instance_id, private_key_pem, csr_pem, leaf_pem, fullchain_pem,
	order_json, challenges, iam_server_certificate_id,
	iam_server_certificate_name, iam_server_certificate_arn,
	expires_at, created_at`

// CertificateRepository defines the interface for certificate data operations.
type CertificateRepository interface {
	Create(ctx context.Context, cert *models.Certificate) error
	GetByID(ctx context.Context, id int64) (*models.Certificate, error)
	Update(ctx context.Context, cert *models.Certificate) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Certificate, error)
	// DuplicatesForInstance returns every certificate of the instance other
	// than its current one, in ascending id order.
	DuplicatesForInstance(ctx context.Context, instanceID string) ([]*models.Certificate, error)
	DeleteByIDs(ctx context.Context, ids []int64) error
}

type certificateRepo struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository creates a new certificate repository.
func NewCertificateRepository(pool *pgxpool.Pool) CertificateRepository {
	return &certificateRepo{pool: pool}
}

// Create inserts a new certificate row and fills in the generated id.
func (r *certificateRepo) Create(ctx context.Context, cert *models.Certificate) error {
	query := `
		INSERT INTO certificates (
			instance_id, private_key_pem, csr_pem, leaf_pem, fullchain_pem,
			order_json, challenges, iam_server_certificate_id,
			iam_server_certificate_name, iam_server_certificate_arn, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		) RETURNING id, created_at`

	return r.pool.QueryRow(ctx, query,
		cert.InstanceID,
		cert.PrivateKeyPEM,
		cert.CSRPEM,
		cert.LeafPEM,
		cert.FullchainPEM,
		cert.OrderJSON,
		cert.Challenges,
		cert.IAMServerCertificateID,
		cert.IAMServerCertificateName,
		cert.IAMServerCertificateARN,
		cert.ExpiresAt,
	).Scan(&cert.ID, &cert.CreatedAt)
}

// GetByID retrieves a certificate by id.
func (r *certificateRepo) GetByID(ctx context.Context, id int64) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`

	cert, err := scanCertificate(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// Update writes back all mutable certificate fields.
func (r *certificateRepo) Update(ctx context.Context, cert *models.Certificate) error {
	query := `
		UPDATE certificates SET
			private_key_pem = $2,
			csr_pem = $3,
			leaf_pem = $4,
			fullchain_pem = $5,
			order_json = $6,
			challenges = $7,
			iam_server_certificate_id = $8,
			iam_server_certificate_name = $9,
			iam_server_certificate_arn = $10,
			expires_at = $11
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		cert.ID,
		cert.PrivateKeyPEM,
		cert.CSRPEM,
		cert.LeafPEM,
		cert.FullchainPEM,
		cert.OrderJSON,
		cert.Challenges,
		cert.IAMServerCertificateID,
		cert.IAMServerCertificateName,
		cert.IAMServerCertificateARN,
		cert.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListByInstance retrieves all certificates owned by an instance, oldest first.
func (r *certificateRepo) ListByInstance(ctx context.Context, instanceID string) ([]*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates WHERE instance_id = $1 ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCertificates(rows)
}

// DuplicatesForInstance retrieves every certificate of the instance except
// the one referenced by current_certificate_id, in ascending id order.
func (r *certificateRepo) DuplicatesForInstance(ctx context.Context, instanceID string) ([]*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates c
		WHERE c.instance_id = $1
		  AND c.id <> COALESCE(
			(SELECT current_certificate_id FROM service_instances WHERE id = $1), -1)
		ORDER BY c.id ASC`

	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCertificates(rows)
}

// DeleteByIDs removes certificate rows permanently.
func (r *certificateRepo) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM certificates WHERE id = ANY($1)`, ids)
	return err
}

func scanCertificate(row pgx.Row) (*models.Certificate, error) {
	var cert models.Certificate
	err := row.Scan(
		&cert.ID,
		&cert.InstanceID,
		&cert.PrivateKeyPEM,
		&cert.CSRPEM,
		&cert.LeafPEM,
		&cert.FullchainPEM,
		&cert.OrderJSON,
		&cert.Challenges,
		&cert.IAMServerCertificateID,
		&cert.IAMServerCertificateName,
		&cert.IAMServerCertificateARN,
		&cert.ExpiresAt,
		&cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func collectCertificates(rows pgx.Rows) ([]*models.Certificate, error) {
	var out []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

// Compile-time check to ensure certificateRepo implements CertificateRepository.
var _ CertificateRepository = (*certificateRepo)(nil)
