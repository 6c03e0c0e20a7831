// internal/auth/httpauth/digest.go
package httpauth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// Digest algorithms
const (
	AlgorithmMD5       = "MD5"
	AlgorithmSHA256    = "SHA-256"
	AlgorithmSHA512256 = "SHA-512-256"
)

const (
	sessSuffix = "-SESS"
	qopAuth    = "auth"
)

var (
	errStaleNonce  = errors.New("stale nonce")
	errForgedNonce = errors.New("nonce was not issued by this realm")
)

// hashFor returns a hex-digest function for a base algorithm
func hashFor(algorithm string) (func(string) string, error) {
	var newHash func() hash.Hash
	switch algorithm {
	case AlgorithmMD5:
		newHash = md5.New
	case AlgorithmSHA256:
		newHash = sha256.New
	case AlgorithmSHA512256:
		newHash = sha512.New512_256
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return func(s string) string {
		h := newHash()
		h.Write([]byte(s))
		return hex.EncodeToString(h.Sum(nil))
	}, nil
}

// splitAlgorithm separates the base algorithm from the -sess marker.
// An absent algorithm parameter means MD5.
func splitAlgorithm(algorithm string) (string, bool) {
	if algorithm == "" {
		return AlgorithmMD5, false
	}
	upper := strings.ToUpper(algorithm)
	if strings.HasSuffix(upper, sessSuffix) {
		return strings.TrimSuffix(upper, sessSuffix), true
	}
	return upper, false
}

// parseAuthParams parses a comma separated list of auth-params (RFC 7235 section 2.1).
// Values may be tokens or quoted strings with backslash escapes.
func parseAuthParams(s string) (map[string]string, error) {
	params := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			return params, nil
		}

		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, errors.New("expected name=value parameter")
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			closed := false
			i := 1
			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted value for %q", key)
			}
			value = b.String()
			s = s[i:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}

		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", key)
		}
		params[key] = value

		s = strings.TrimLeft(s, " \t")
		if s != "" && s[0] != ',' {
			return nil, fmt.Errorf("unexpected characters after parameter %q", key)
		}
	}
}

// quote renders s as an RFC 7230 quoted-string
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// nonceIssuer creates and checks stateless nonces of the form
// base64url(unix-seconds ":" hex(HMAC-SHA256(secret, unix-seconds ":" realm)))
type nonceIssuer struct {
	secret []byte
	realm  string
	ttl    time.Duration
	now    func() time.Time
}

func (n *nonceIssuer) mac(ts string) string {
	m := hmac.New(sha256.New, n.secret)
	m.Write([]byte(ts + ":" + n.realm))
	return hex.EncodeToString(m.Sum(nil))
}

func (n *nonceIssuer) issue() string {
	ts := strconv.FormatInt(n.now().Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(ts + ":" + n.mac(ts)))
}

func (n *nonceIssuer) check(nonce string) error {
	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	if err != nil {
		return errForgedNonce
	}
	ts, mac, ok := strings.Cut(string(raw), ":")
	if !ok {
		return errForgedNonce
	}
	if !hmac.Equal([]byte(mac), []byte(n.mac(ts))) {
		return errForgedNonce
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errForgedNonce
	}
	if n.now().Sub(time.Unix(issued, 0)) > n.ttl {
		return errStaleNonce
	}
	return nil
}

// opaque is a fixed per-realm value echoed back by clients
func (n *nonceIssuer) opaque() string {
	return n.mac("opaque")[:32]
}
