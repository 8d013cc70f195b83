// Package cert validates client certificates for the authentication gate.
//
// Validation is a pure function of the presented chain and the validator's
// configuration (trusted issuer pool, revocation set): no I/O, no state
// mutation. Identity extraction is kept separate from validation so both
// can be tested in isolation.
package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"
)

// Validation errors.
var (
	ErrNoCertificate   = errors.New("no certificate presented")
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrUntrustedIssuer = errors.New("certificate not issued by a trusted issuer")
	ErrCertRevoked     = errors.New("certificate has been revoked")
	ErrNoCommonName    = errors.New("certificate has no CommonName")
)

// Identity is the authenticated identity extracted from a validated
// client certificate.
type Identity struct {
	// CommonName is the certificate subject's CN, used as the client identity.
	CommonName string

	// Serial is the certificate serial number in decimal form.
	Serial string

	// Fingerprint is the SHA-256 fingerprint of the raw certificate.
	Fingerprint string

	// NotAfter is the certificate expiry.
	NotAfter time.Time
}

// Validator verifies presented client certificates against a trusted issuer
// and an optional revocation set.
type Validator struct {
	roots   *x509.CertPool
	revoked map[string]struct{}

	// now is overridable for tests.
	now func() time.Time
}

// NewValidator creates a Validator trusting the given issuer certificates.
// revokedSerials lists decimal serial numbers that are no longer accepted.
func NewValidator(issuers []*x509.Certificate, revokedSerials []string) *Validator {
	roots := x509.NewCertPool()
	for _, issuer := range issuers {
		roots.AddCert(issuer)
	}

	revoked := make(map[string]struct{}, len(revokedSerials))
	for _, serial := range revokedSerials {
		revoked[serial] = struct{}{}
	}

	return &Validator{
		roots:   roots,
		revoked: revoked,
		now:     time.Now,
	}
}

// NewValidatorFromFile creates a Validator from a PEM bundle of trusted
// issuer certificates.
func NewValidatorFromFile(caFile string, revokedSerials []string) (*Validator, error) {
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read issuer bundle %q: %w", caFile, err)
	}

	issuers, err := ParseCertificatesPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer bundle %q: %w", caFile, err)
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("issuer bundle %q contains no certificates", caFile)
	}

	return NewValidator(issuers, revokedSerials), nil
}

// Validate checks the presented chain and returns the extracted identity.
//
// Checks, in order: a leaf is present, the leaf is inside its validity
// window, the chain terminates at a trusted issuer, and the serial is not
// revoked. The first failed check determines the returned error.
func (v *Validator) Validate(chain []*x509.Certificate) (Identity, error) {
	if len(chain) == 0 {
		return Identity{}, ErrNoCertificate
	}
	leaf := chain[0]

	now := v.now()
	if now.Before(leaf.NotBefore) {
		return Identity{}, ErrCertNotYetValid
	}
	if now.After(leaf.NotAfter) {
		return Identity{}, ErrCertExpired
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUntrustedIssuer, err)
	}

	serial := leaf.SerialNumber.String()
	if _, isRevoked := v.revoked[serial]; isRevoked {
		return Identity{}, ErrCertRevoked
	}

	return ExtractIdentity(leaf)
}

// ExtractIdentity pulls the identity fields out of a certificate without
// validating it. Kept separate from Validate for testability.
func ExtractIdentity(leaf *x509.Certificate) (Identity, error) {
	if leaf == nil {
		return Identity{}, ErrNoCertificate
	}
	if leaf.Subject.CommonName == "" {
		return Identity{}, ErrNoCommonName
	}

	sum := sha256.Sum256(leaf.Raw)

	return Identity{
		CommonName:  leaf.Subject.CommonName,
		Serial:      leaf.SerialNumber.String(),
		Fingerprint: hex.EncodeToString(sum[:]),
		NotAfter:    leaf.NotAfter,
	}, nil
}
