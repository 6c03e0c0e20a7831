// internal/auth/httpauth/adapter.go
package httpauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authdispatch/internal/auth"
	"authdispatch/internal/observability/logging"
)

// ErrNoResolver is returned by New when neither a Basic nor a Digest resolver is configured.
// Such an adapter could never authenticate anyone and must not be registered.
var ErrNoResolver = errors.New("http adapter has no basic or digest resolver")

const (
	defaultName     = "http"
	defaultRealm    = "authdispatch"
	defaultNonceTTL = 5 * time.Minute
)

// Config holds HTTP Basic/Digest adapter configuration
type Config struct {
	// Name is the adapter name used by authentication types; defaults to "http"
	Name string

	// Realm is announced in challenges and required in Digest responses
	Realm string

	// Basic verifies Basic credentials; nil disables the Basic scheme
	Basic BasicResolver

	// Digest serves HA1 values for Digest credentials; nil disables the Digest scheme
	Digest DigestResolver

	// DigestAlgorithm is the algorithm offered in Digest challenges; defaults to SHA-256
	DigestAlgorithm string

	// NonceSecret keys Digest nonces; a random secret is generated when empty
	NonceSecret []byte

	// NonceTTL bounds how long a Digest nonce is accepted
	NonceTTL time.Duration

	// Clock overrides time.Now
	Clock func() time.Time
}

// Adapter authenticates HTTP Basic (RFC 7617) and Digest (RFC 7616) credentials
type Adapter struct {
	name            string
	realm           string
	basic           BasicResolver
	digest          DigestResolver
	digestAlgorithm string
	nonces          *nonceIssuer
	logger          *logging.Logger
}

type basicCredentials struct {
	raw string
}

func (basicCredentials) Scheme() string { return "basic" }

type digestCredentials struct {
	raw        string
	method     string
	requestURI string
}

func (digestCredentials) Scheme() string { return "digest" }

// New creates an HTTP adapter
func New(config Config, logger *logging.Logger) (*Adapter, error) {
	if config.Basic == nil && config.Digest == nil {
		return nil, ErrNoResolver
	}
	if logger == nil {
		logger = logging.Discard()
	}

	if config.Name == "" {
		config.Name = defaultName
	}
	if config.Realm == "" {
		config.Realm = defaultRealm
	}
	if config.DigestAlgorithm == "" {
		config.DigestAlgorithm = AlgorithmSHA256
	}
	if _, err := hashFor(config.DigestAlgorithm); err != nil {
		return nil, fmt.Errorf("invalid digest algorithm: %w", err)
	}
	if config.NonceTTL <= 0 {
		config.NonceTTL = defaultNonceTTL
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if len(config.NonceSecret) == 0 && config.Digest != nil {
		config.NonceSecret = make([]byte, 32)
		if _, err := rand.Read(config.NonceSecret); err != nil {
			return nil, fmt.Errorf("failed to generate digest nonce secret: %w", err)
		}
	}

	return &Adapter{
		name:            config.Name,
		realm:           config.Realm,
		basic:           config.Basic,
		digest:          config.Digest,
		digestAlgorithm: config.DigestAlgorithm,
		nonces: &nonceIssuer{
			secret: config.NonceSecret,
			realm:  config.Realm,
			ttl:    config.NonceTTL,
			now:    config.Clock,
		},
		logger: logger.WithModule("auth.httpauth"),
	}, nil
}

// Name returns the name of this adapter
func (a *Adapter) Name() string {
	return a.name
}

// Mechanism returns Basic when Basic is enabled, Digest otherwise.
// Identities carry the mechanism of the scheme that was actually used.
func (a *Adapter) Mechanism() auth.Mechanism {
	if a.basic != nil {
		return auth.MechanismBasic
	}
	return auth.MechanismDigest
}

// Provides returns "basic" and/or "digest" depending on the configured resolvers
func (a *Adapter) Provides() []string {
	var types []string
	if a.basic != nil {
		types = append(types, "basic")
	}
	if a.digest != nil {
		types = append(types, "digest")
	}
	return types
}

// Challenge returns the WWW-Authenticate values for the enabled schemes
func (a *Adapter) Challenge() []string {
	var challenges []string
	if a.digest != nil {
		challenges = append(challenges, fmt.Sprintf(
			"Digest realm=%s, qop=%s, algorithm=%s, nonce=%s, opaque=%s",
			quote(a.realm), quote(qopAuth), a.digestAlgorithm, quote(a.nonces.issue()), quote(a.nonces.opaque()),
		))
	}
	if a.basic != nil {
		challenges = append(challenges, fmt.Sprintf("Basic realm=%s, charset=\"UTF-8\"", quote(a.realm)))
	}
	return challenges
}

// Extract returns the Authorization header material for an enabled scheme
func (a *Adapter) Extract(r *http.Request) (auth.Credentials, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false
	}
	scheme, rest, _ := strings.Cut(header, " ")
	rest = strings.TrimSpace(rest)

	switch {
	case strings.EqualFold(scheme, "Basic") && a.basic != nil:
		return basicCredentials{raw: rest}, true
	case strings.EqualFold(scheme, "Digest") && a.digest != nil:
		return digestCredentials{raw: rest, method: r.Method, requestURI: r.URL.RequestURI()}, true
	default:
		return nil, false
	}
}

// Validate verifies credentials produced by Extract
func (a *Adapter) Validate(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	switch c := creds.(type) {
	case basicCredentials:
		return a.validateBasic(ctx, c)
	case digestCredentials:
		return a.validateDigest(ctx, c)
	default:
		return nil, auth.Malformed(fmt.Errorf("unexpected credentials %T", creds))
	}
}

func (a *Adapter) validateBasic(ctx context.Context, c basicCredentials) (*auth.Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(c.raw)
	if err != nil {
		return nil, auth.Malformed(fmt.Errorf("failed to decode basic credentials: %w", err))
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, auth.Malformed(errors.New("basic credentials lack a colon separator"))
	}
	if username == "" {
		return nil, auth.Malformed(errors.New("basic credentials carry an empty username"))
	}

	principal, err := a.basic.ResolveBasic(ctx, username, password)
	if err != nil {
		return nil, classify(err)
	}
	return a.identity(principal, username, auth.MechanismBasic), nil
}

func (a *Adapter) validateDigest(ctx context.Context, c digestCredentials) (*auth.Identity, error) {
	params, err := parseAuthParams(c.raw)
	if err != nil {
		return nil, auth.Malformed(fmt.Errorf("failed to parse digest credentials: %w", err))
	}

	for _, key := range []string{"username", "realm", "nonce", "uri", "response"} {
		if params[key] == "" {
			return nil, auth.Malformed(fmt.Errorf("digest credentials lack %q", key))
		}
	}
	if strings.EqualFold(params["userhash"], "true") {
		return nil, auth.Malformed(errors.New("digest userhash is not supported"))
	}
	if params["realm"] != a.realm {
		return nil, auth.Malformed(fmt.Errorf("digest realm %q does not match", params["realm"]))
	}
	if params["uri"] != c.requestURI {
		return nil, auth.Malformed(errors.New("digest uri does not match the request"))
	}
	if opaque, ok := params["opaque"]; ok && opaque != a.nonces.opaque() {
		return nil, auth.Malformed(errors.New("digest opaque does not match"))
	}

	qop := params["qop"]
	switch qop {
	case "":
	case qopAuth:
		if params["cnonce"] == "" || params["nc"] == "" {
			return nil, auth.Malformed(errors.New("digest qop=auth requires cnonce and nc"))
		}
	default:
		return nil, auth.Malformed(fmt.Errorf("unsupported digest qop %q", qop))
	}

	algorithm, sess := splitAlgorithm(params["algorithm"])
	h, err := hashFor(algorithm)
	if err != nil {
		return nil, auth.Malformed(err)
	}
	if sess && params["cnonce"] == "" {
		return nil, auth.Malformed(errors.New("digest -sess algorithm requires cnonce"))
	}

	if err := a.nonces.check(params["nonce"]); err != nil {
		return nil, auth.Invalid(err)
	}

	username := params["username"]
	ha1, err := a.digest.ResolveDigest(ctx, username, a.realm, algorithm)
	if err != nil {
		return nil, classify(err)
	}
	if sess {
		ha1 = h(ha1 + ":" + params["nonce"] + ":" + params["cnonce"])
	}
	ha2 := h(c.method + ":" + params["uri"])

	var expected string
	if qop == "" {
		expected = h(ha1 + ":" + params["nonce"] + ":" + ha2)
	} else {
		expected = h(strings.Join([]string{ha1, params["nonce"], params["nc"], params["cnonce"], qop, ha2}, ":"))
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(params["response"]))) != 1 {
		return nil, auth.Invalid(ErrPasswordMismatch)
	}

	return a.identity(Principal{Username: username}, username, auth.MechanismDigest), nil
}

func (a *Adapter) identity(p Principal, username string, mechanism auth.Mechanism) *auth.Identity {
	subject := p.Username
	if subject == "" {
		subject = username
	}
	attrs := make(map[string]string, len(p.Attributes)+1)
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	attrs["realm"] = a.realm
	return auth.NewIdentity(subject, mechanism, attrs)
}

// classify maps resolver errors to validation failures
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownUser), errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrUnsupportedAlgorithm):
		return auth.Invalid(err)
	default:
		return auth.Unavailable(fmt.Errorf("failed to resolve credentials: %w", err))
	}
}
