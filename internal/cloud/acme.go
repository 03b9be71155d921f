package cloud

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/challenge/dns01"
)

const acmeUserAgent = "external-domain-broker"

// ACMEClient implements CertificateAuthority against an RFC 8555 directory
// using lego's low-level API. The high-level lego client drives an order to
// completion in one blocking call; the broker instead needs each phase as a
// separate resumable step, so this client talks to the directory directly.
type ACMEClient struct {
	directoryURL string
	contactEmail string
	httpClient   *http.Client
}

// NewACMEClient creates an ACME client for the given directory.
func NewACMEClient(directoryURL, contactEmail string) *ACMEClient {
	return &ACMEClient{
		directoryURL: directoryURL,
		contactEmail: contactEmail,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// accountState is the persisted registration, enough to resume signing with
// the account key later.
type accountState struct {
	URI string `json:"uri"`
}

// orderState is the persisted order, carrying the URLs needed to resume it.
type orderState struct {
	Location       string   `json:"location"`
	Finalize       string   `json:"finalize"`
	Certificate    string   `json:"certificate,omitempty"`
	Authorizations []string `json:"authorizations"`
}

// RegisterAccount generates a fresh account key and registers it.
func (c *ACMEClient) RegisterAccount(ctx context.Context) (Account, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return Account{}, fmt.Errorf("generate account key: %w", err)
	}

	core, err := api.New(c.httpClient, acmeUserAgent, c.directoryURL, "", key)
	if err != nil {
		return Account{}, fmt.Errorf("connect to acme directory: %w", err)
	}

	reg, err := core.Accounts.New(acme.Account{
		Contact:              []string{"mailto:" + c.contactEmail},
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return Account{}, fmt.Errorf("register acme account: %w", err)
	}

	regJSON, err := json.Marshal(accountState{URI: reg.Location})
	if err != nil {
		return Account{}, err
	}
	return Account{
		RegistrationJSON: string(regJSON),
		PrivateKeyPEM:    string(certcrypto.PEMEncode(key)),
	}, nil
}

// NewOrder opens an order and resolves its DNS-01 challenges so the pipeline
// can publish the TXT records.
func (c *ACMEClient) NewOrder(ctx context.Context, account Account, domains []string) (Order, error) {
	core, err := c.core(account)
	if err != nil {
		return Order{}, err
	}

	order, err := core.Orders.New(domains)
	if err != nil {
		return Order{}, fmt.Errorf("create acme order: %w", err)
	}

	challenges, err := c.resolveChallenges(core, order.Authorizations)
	if err != nil {
		return Order{}, err
	}

	stateJSON, err := json.Marshal(orderState{
		Location:       order.Location,
		Finalize:       order.Finalize,
		Authorizations: order.Authorizations,
	})
	if err != nil {
		return Order{}, err
	}
	return Order{OrderJSON: string(stateJSON), Challenges: challenges}, nil
}

// AcceptChallenges tells the directory the TXT records are published.
// Challenges whose authorization is already valid are skipped, which makes
// the call safe to repeat after a crash.
func (c *ACMEClient) AcceptChallenges(ctx context.Context, account Account, order Order) error {
	core, err := c.core(account)
	if err != nil {
		return err
	}

	var state orderState
	if err := json.Unmarshal([]byte(order.OrderJSON), &state); err != nil {
		return fmt.Errorf("decode stored order: %w", err)
	}

	for _, authzURL := range state.Authorizations {
		authz, err := core.Authorizations.Get(authzURL)
		if err != nil {
			return fmt.Errorf("get authorization: %w", err)
		}
		if authz.Status == acme.StatusValid {
			continue
		}
		chlg := dns01Challenge(authz)
		if chlg == nil {
			return fmt.Errorf("authorization for %s offers no dns-01 challenge", authz.Identifier.Value)
		}
		if chlg.Status == acme.StatusValid || chlg.Status == acme.StatusProcessing {
			continue
		}
		if _, err := core.Challenges.New(chlg.URL); err != nil {
			return fmt.Errorf("accept challenge for %s: %w", authz.Identifier.Value, err)
		}
	}
	return nil
}

// Finalize submits the CSR once the order is ready and downloads the signed
// certificate. ErrOrderPending is returned while validation or issuance is
// still running so the caller can retry later.
func (c *ACMEClient) Finalize(ctx context.Context, account Account, order Order, csrPEM string) (IssuedCertificate, error) {
	core, err := c.core(account)
	if err != nil {
		return IssuedCertificate{}, err
	}

	var state orderState
	if err := json.Unmarshal([]byte(order.OrderJSON), &state); err != nil {
		return IssuedCertificate{}, fmt.Errorf("decode stored order: %w", err)
	}

	current, err := core.Orders.Get(state.Location)
	if err != nil {
		return IssuedCertificate{}, fmt.Errorf("get acme order: %w", err)
	}

	switch current.Status {
	case acme.StatusPending, acme.StatusProcessing:
		return IssuedCertificate{}, ErrOrderPending
	case acme.StatusInvalid:
		return IssuedCertificate{}, fmt.Errorf("acme order failed validation: %s", orderError(current))
	case acme.StatusReady:
		csr, err := decodeCSR(csrPEM)
		if err != nil {
			return IssuedCertificate{}, err
		}
		finalized, err := core.Orders.UpdateForCSR(state.Finalize, csr)
		if err != nil {
			return IssuedCertificate{}, fmt.Errorf("finalize acme order: %w", err)
		}
		current = finalized
		if current.Status != acme.StatusValid {
			return IssuedCertificate{}, ErrOrderPending
		}
	case acme.StatusValid:
		// Certificate already issued, fall through to download.
	default:
		return IssuedCertificate{}, fmt.Errorf("unexpected acme order status %q", current.Status)
	}

	if current.Certificate == "" {
		return IssuedCertificate{}, ErrOrderPending
	}

	cert, _, err := core.Certificates.Get(current.Certificate, true)
	if err != nil {
		return IssuedCertificate{}, fmt.Errorf("download certificate: %w", err)
	}

	leaf, err := leafPEM(cert)
	if err != nil {
		return IssuedCertificate{}, err
	}
	parsed, err := certcrypto.ParsePEMCertificate(leaf)
	if err != nil {
		return IssuedCertificate{}, fmt.Errorf("parse issued certificate: %w", err)
	}
	return IssuedCertificate{
		LeafPEM:      string(leaf),
		FullchainPEM: string(cert),
		ExpiresAt:    parsed.NotAfter,
	}, nil
}

func (c *ACMEClient) core(account Account) (*api.Core, error) {
	key, err := certcrypto.ParsePEMPrivateKey([]byte(account.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse account key: %w", err)
	}
	var state accountState
	if err := json.Unmarshal([]byte(account.RegistrationJSON), &state); err != nil {
		return nil, fmt.Errorf("decode stored registration: %w", err)
	}
	core, err := api.New(c.httpClient, acmeUserAgent, c.directoryURL, state.URI, key)
	if err != nil {
		return nil, fmt.Errorf("connect to acme directory: %w", err)
	}
	return core, nil
}

func (c *ACMEClient) resolveChallenges(core *api.Core, authzURLs []string) ([]DNSChallenge, error) {
	var out []DNSChallenge
	for _, authzURL := range authzURLs {
		authz, err := core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, fmt.Errorf("get authorization: %w", err)
		}
		chlg := dns01Challenge(authz)
		if chlg == nil {
			return nil, fmt.Errorf("authorization for %s offers no dns-01 challenge", authz.Identifier.Value)
		}
		keyAuth, err := core.GetKeyAuthorization(chlg.Token)
		if err != nil {
			return nil, fmt.Errorf("compute key authorization: %w", err)
		}
		info := dns01.GetChallengeInfo(authz.Identifier.Value, keyAuth)
		out = append(out, DNSChallenge{
			Domain:      authz.Identifier.Value,
			URL:         chlg.URL,
			RecordName:  dns01.UnFqdn(info.EffectiveFQDN),
			RecordValue: info.Value,
		})
	}
	return out, nil
}

func dns01Challenge(authz acme.Authorization) *acme.Challenge {
	for i := range authz.Challenges {
		if authz.Challenges[i].Type == "dns-01" {
			return &authz.Challenges[i]
		}
	}
	return nil
}

func orderError(order acme.ExtendedOrder) string {
	if order.Error != nil {
		return order.Error.Detail
	}
	return "no error detail provided"
}

func decodeCSR(csrPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return nil, errors.New("stored CSR is not valid PEM")
	}
	return block.Bytes, nil
}

func leafPEM(fullchain []byte) ([]byte, error) {
	block, _ := pem.Decode(fullchain)
	if block == nil {
		return nil, errors.New("downloaded certificate is not valid PEM")
	}
	return pem.EncodeToMemory(block), nil
}

// GenerateKeyAndCSR creates the certificate private key and a CSR covering
// the given domains. The first domain becomes the subject common name.
func GenerateKeyAndCSR(domains []string) (keyPEM, csrPEM string, err error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return "", "", fmt.Errorf("generate certificate key: %w", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}, key.(crypto.Signer))
	if err != nil {
		return "", "", fmt.Errorf("create CSR: %w", err)
	}
	csrOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csr})
	return string(certcrypto.PEMEncode(key)), string(csrOut), nil
}

var _ CertificateAuthority = (*ACMEClient)(nil)
