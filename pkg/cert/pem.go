package cert

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParseCertificatesPEM parses all CERTIFICATE blocks in a PEM bundle.
// Non-certificate blocks are skipped.
func ParseCertificatesPEM(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, c)
	}

	return certs, nil
}
