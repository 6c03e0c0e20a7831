// internal/auth/oauth2/adapter.go
package oauth2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"authdispatch/internal/auth"
	"authdispatch/internal/observability/logging"
)

const (
	defaultAdapterName = "oauth2"
	defaultRealm       = "authdispatch"
	accessTokenParam   = "access_token"
	maxFormBody        = 64 << 10
)

// b64token syntax from RFC 6750 section 2.1
var b64token = regexp.MustCompile(`^[A-Za-z0-9\-._~+/]+=*$`)

var errMultipleTokens = errors.New("request carries more than one access token")

// AdapterConfig holds bearer adapter configuration
type AdapterConfig struct {
	// Name is the adapter name used by authentication types; defaults to "oauth2"
	Name string

	// Realm is announced in the Bearer challenge
	Realm string

	// AllowQuery accepts the access_token query parameter (RFC 6750 section 2.3)
	AllowQuery bool

	// AllowBody accepts the access_token form body parameter (RFC 6750 section 2.2).
	// Bodies larger than 64 KiB are never searched for a token.
	AllowBody bool

	// RequiredScopes must all be granted to the token
	RequiredScopes []string
}

// Adapter authenticates OAuth2 bearer tokens against a Server's token storage
type Adapter struct {
	server *Server
	config AdapterConfig
	logger *logging.Logger
}

type bearerCredentials struct {
	token string
	err   error
}

func (bearerCredentials) Scheme() string { return "bearer" }

// NewAdapter creates a bearer adapter
func NewAdapter(server *Server, config AdapterConfig, logger *logging.Logger) (*Adapter, error) {
	if server == nil {
		return nil, ErrNoStorage
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Name == "" {
		config.Name = defaultAdapterName
	}
	if config.Realm == "" {
		config.Realm = defaultRealm
	}
	return &Adapter{
		server: server,
		config: config,
		logger: logger.WithModule("auth.oauth2"),
	}, nil
}

// Name returns the name of this adapter
func (a *Adapter) Name() string {
	return a.config.Name
}

// Mechanism returns auth.MechanismOAuth2
func (a *Adapter) Mechanism() auth.Mechanism {
	return auth.MechanismOAuth2
}

// Provides returns the built-in "oauth2" type
func (a *Adapter) Provides() []string {
	return []string{"oauth2"}
}

// Challenge returns the Bearer WWW-Authenticate value
func (a *Adapter) Challenge() []string {
	challenge := fmt.Sprintf(`Bearer realm="%s"`, a.config.Realm)
	if len(a.config.RequiredScopes) > 0 {
		challenge += fmt.Sprintf(`, scope="%s"`, strings.Join(a.config.RequiredScopes, " "))
	}
	return []string{challenge}
}

// Server returns the OAuth2 server backing this adapter
func (a *Adapter) Server() *Server {
	return a.server
}

// Extract collects the access token from every enabled transport method.
// A request using more than one method yields credentials that fail as malformed.
func (a *Adapter) Extract(r *http.Request) (auth.Credentials, bool) {
	var tokens []string

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, rest, _ := strings.Cut(header, " ")
		if strings.EqualFold(scheme, "Bearer") {
			tokens = append(tokens, strings.TrimSpace(rest))
		}
	}

	if a.config.AllowQuery {
		if values, ok := r.URL.Query()[accessTokenParam]; ok {
			tokens = append(tokens, values...)
		}
	}

	if a.config.AllowBody {
		if values, ok := formTokens(r); ok {
			tokens = append(tokens, values...)
		}
	}

	switch len(tokens) {
	case 0:
		return nil, false
	case 1:
		return bearerCredentials{token: tokens[0]}, true
	default:
		return bearerCredentials{err: errMultipleTokens}, true
	}
}

// formTokens reads access_token from a urlencoded body and restores the body for the upstream
func formTokens(r *http.Request) ([]string, bool) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBody+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil || len(body) > maxFormBody {
		return nil, false
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, false
	}
	tokens, ok := values[accessTokenParam]
	return tokens, ok
}

// Validate verifies the bearer token with the server
func (a *Adapter) Validate(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	c, ok := creds.(bearerCredentials)
	if !ok {
		return nil, auth.Malformed(fmt.Errorf("unexpected credentials %T", creds))
	}
	if c.err != nil {
		return nil, auth.Malformed(c.err)
	}
	if !b64token.MatchString(c.token) {
		return nil, auth.Malformed(errors.New("access token is not a valid b64token"))
	}

	token, err := a.server.VerifyAccessToken(ctx, c.token, a.config.RequiredScopes)
	if err != nil {
		logging.FromContextOr(ctx, a.logger).Debug("Access token rejected",
			"token_prefix", logging.Fingerprint(c.token),
			logging.Err(err),
		)
		return nil, err
	}

	subject, grantContext := token.UserID, "user"
	if subject == "" {
		subject, grantContext = token.ClientID, "client"
	}
	if subject == "" {
		return nil, auth.Invalid(errors.New("access token names neither user nor client"))
	}

	return auth.NewIdentity(subject, auth.MechanismOAuth2, map[string]string{
		"client_id":     token.ClientID,
		"scope":         strings.Join(token.Scopes, " "),
		"grant_context": grantContext,
	}), nil
}
