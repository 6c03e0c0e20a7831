// internal/tls/utils.go
package tls

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// LoadCertPool reads PEM CA certificates into a new pool
func LoadCertPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, file := range files {
		pem, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", file, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA file: %s", file)
		}
	}
	return pool, nil
}

// VerifyClientCertificate verifies a client leaf certificate against roots,
// using the remaining peer certificates as intermediates
func VerifyClientCertificate(leaf *x509.Certificate, intermediates []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	pool := x509.NewCertPool()
	for _, cert := range intermediates {
		pool.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		CurrentTime:   now,
		Intermediates: pool,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("client certificate verification failed: %w", err)
	}
	return nil
}

// ExtractSubject returns the certificate's Common Name, or its first DNS name
// when allowDNS is set and the Common Name is empty
func ExtractSubject(cert *x509.Certificate, allowDNS bool) (string, error) {
	commonName := cert.Subject.CommonName

	if commonName == "" && allowDNS && len(cert.DNSNames) > 0 {
		return cert.DNSNames[0], nil
	}

	if commonName == "" {
		return "", fmt.Errorf("certificate has no Common Name or valid DNS names")
	}

	return commonName, nil
}
