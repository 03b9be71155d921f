package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// IAMStore implements CertificateStore on IAM server certificates. ALB
// certificates live under albPathPrefix, CloudFront certificates under
// cloudFrontPathPrefix (CloudFront requires the /cloudfront/ path).
type IAMStore struct {
	client *iam.Client
	path   string
}

// NewIAMStore creates a certificate store writing under the given IAM path.
func NewIAMStore(client *iam.Client, path string) *IAMStore {
	return &IAMStore{client: client, path: path}
}

// Upload stores the certificate, returning the identifiers of the existing
// upload when the name is already taken.
func (s *IAMStore) Upload(ctx context.Context, name, certPEM, chainPEM, keyPEM string) (string, string, error) {
	out, err := s.client.UploadServerCertificate(ctx, &iam.UploadServerCertificateInput{
		ServerCertificateName: aws.String(name),
		Path:                  aws.String(s.path),
		CertificateBody:       aws.String(certPEM),
		CertificateChain:      aws.String(chainPEM),
		PrivateKey:            aws.String(keyPEM),
	})
	var exists *types.EntityAlreadyExistsException
	if errors.As(err, &exists) {
		return s.lookup(ctx, name)
	}
	if err != nil {
		return "", "", fmt.Errorf("upload server certificate %s: %w", name, err)
	}
	meta := out.ServerCertificateMetadata
	return aws.ToString(meta.ServerCertificateId), aws.ToString(meta.Arn), nil
}

// Delete removes a server certificate, tolerating its absence.
func (s *IAMStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteServerCertificate(ctx, &iam.DeleteServerCertificateInput{
		ServerCertificateName: aws.String(name),
	})
	var notFound *types.NoSuchEntityException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func (s *IAMStore) lookup(ctx context.Context, name string) (string, string, error) {
	out, err := s.client.GetServerCertificate(ctx, &iam.GetServerCertificateInput{
		ServerCertificateName: aws.String(name),
	})
	if err != nil {
		return "", "", fmt.Errorf("get server certificate %s: %w", name, err)
	}
	meta := out.ServerCertificate.ServerCertificateMetadata
	return aws.ToString(meta.ServerCertificateId), aws.ToString(meta.Arn), nil
}

var _ CertificateStore = (*IAMStore)(nil)
