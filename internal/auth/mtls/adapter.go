// internal/auth/mtls/adapter.go
package mtls

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/observability/logging"
	"authdispatch/internal/tls"
)

// Adapter authenticates callers by their TLS client certificate
type Adapter struct {
	name     string
	clientCA *x509.CertPool
	allowDNS bool
	now      func() time.Time
	logger   *logging.Logger
}

// Config holds x509 adapter configuration
type Config struct {
	// Name is the adapter name used by authentication types; defaults to "x509"
	Name string

	// ClientCAs verifies client certificates; takes precedence over CAPaths
	ClientCAs *x509.CertPool

	// CAPaths is a list of paths to CA certificates for client verification
	CAPaths []string

	// AllowDNSSubject uses the first DNS SAN when the Common Name is empty
	AllowDNSSubject bool

	// Clock overrides time.Now for certificate validity checks
	Clock func() time.Time
}

type certificateCredentials struct {
	chain []*x509.Certificate
}

func (certificateCredentials) Scheme() string { return "x509" }

// New creates an x509 adapter
func New(config Config, logger *logging.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithModule("auth.mtls")

	pool := config.ClientCAs
	if pool == nil {
		if len(config.CAPaths) == 0 {
			return nil, fmt.Errorf("x509 adapter requires client CA certificates")
		}
		var err error
		pool, err = tls.LoadCertPool(config.CAPaths)
		if err != nil {
			return nil, fmt.Errorf("failed to load x509 adapter CAs: %w", err)
		}
		logger.Debug("Loaded client CA certificates", "count", len(config.CAPaths))
	}

	if config.Name == "" {
		config.Name = "x509"
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Adapter{
		name:     config.Name,
		clientCA: pool,
		allowDNS: config.AllowDNSSubject,
		now:      config.Clock,
		logger:   logger,
	}, nil
}

// Name returns the name of this adapter
func (a *Adapter) Name() string {
	return a.name
}

// Mechanism returns auth.MechanismCustom
func (a *Adapter) Mechanism() auth.Mechanism {
	return auth.MechanismCustom
}

// Provides returns the built-in "x509" type
func (a *Adapter) Provides() []string {
	return []string{"x509"}
}

// Extract returns the peer certificate chain of a TLS request
func (a *Adapter) Extract(r *http.Request) (auth.Credentials, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, false
	}
	return certificateCredentials{chain: r.TLS.PeerCertificates}, true
}

// Validate verifies the leaf certificate and derives the subject from it
func (a *Adapter) Validate(_ context.Context, creds auth.Credentials) (*auth.Identity, error) {
	c, ok := creds.(certificateCredentials)
	if !ok || len(c.chain) == 0 {
		return nil, auth.Malformed(errors.New("no client certificate"))
	}
	leaf := c.chain[0]

	if err := tls.VerifyClientCertificate(leaf, c.chain[1:], a.clientCA, a.now()); err != nil {
		a.logger.Debug("Client certificate verification failed", logging.Err(err))
		return nil, auth.Invalid(err)
	}

	subject, err := tls.ExtractSubject(leaf, a.allowDNS)
	if err != nil {
		return nil, auth.Invalid(err)
	}

	return auth.NewIdentity(subject, auth.MechanismCustom, map[string]string{
		"issuer":        leaf.Issuer.CommonName,
		"serial_number": leaf.SerialNumber.String(),
	}), nil
}
