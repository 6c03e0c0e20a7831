// internal/tls/config.go
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"authdispatch/internal/observability/logging"
)

// Config holds the server TLS configuration
type Config struct {
	// Logger is the logger to use
	Logger *logging.Logger

	// CertPath is the path to the server certificate
	CertPath string

	// KeyPath is the path to the server key
	KeyPath string

	// ClientCAFiles are CA certificates that client certificates are verified against
	ClientCAFiles []string
}

// Setup is the loaded TLS material shared by the listener and the x509 adapter
type Setup struct {
	// Server is the listener configuration
	Server *tls.Config

	// ClientCAs is the pool client certificates are verified against, nil when not configured
	ClientCAs *x509.CertPool
}

// Enabled reports whether a server certificate is configured
func (c *Config) Enabled() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

// Load reads certificates and builds the listener configuration.
// Client certificates are requested but not verified during the handshake;
// the x509 adapter verifies them so a bad certificate is an authentication
// failure rather than a handshake error.
func (c *Config) Load() (*Setup, error) {
	logger := c.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.Debug("Initializing TLS configuration")

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	setup := &Setup{
		Server: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.NoClientCert,
			MinVersion:   tls.VersionTLS12,
		},
	}

	if len(c.ClientCAFiles) > 0 {
		pool, err := LoadCertPool(c.ClientCAFiles)
		if err != nil {
			return nil, err
		}
		setup.ClientCAs = pool
		setup.Server.ClientAuth = tls.RequestClientCert
		logger.Debug("Client certificate authentication configured", "ca_files", len(c.ClientCAFiles))
	}

	logger.Info("TLS configuration successful")
	return setup, nil
}
