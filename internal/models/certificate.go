package models

import "time"

// Certificate is one issued (or in-flight) TLS certificate owned by exactly
// one service instance. Rows accumulate during rotation: the instance's
// CurrentCertificateID points at the one in use, NewCertificateID at the one
// being issued.
type Certificate struct {
	ID         int64
	InstanceID string

	PrivateKeyPEM string
	CSRPEM        string
	LeafPEM       string
	FullchainPEM  string

	// OrderJSON is the serialized ACME order, kept so interrupted pipelines
	// can resume polling the same order.
	OrderJSON  string
	Challenges []Challenge

	// IAM identifiers, populated once the certificate has been uploaded to
	// the cloud identity store.
	IAMServerCertificateID   string
	IAMServerCertificateName string
	IAMServerCertificateARN  string

	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Challenge is one DNS-01 authorization for a domain on an ACME order.
type Challenge struct {
	Domain string `json:"domain"`
	// URL is the ACME challenge resource to POST once the TXT record is in
	// place.
	URL string `json:"url"`
	// RecordName / RecordValue describe the TXT record the authority looks
	// for.
	RecordName  string     `json:"record_name"`
	RecordValue string     `json:"record_value"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// Uploaded reports whether this certificate has been stored in IAM.
func (c *Certificate) Uploaded() bool {
	return c.IAMServerCertificateID != ""
}
