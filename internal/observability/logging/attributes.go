// internal/observability/logging/attributes.go
package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedStringURL is a string containing a URL for safe logging
type RedactedStringURL string

// LogValue implements slog.LogValuer to avoid revealing passwords
func (s RedactedStringURL) LogValue() slog.Value {
	u, err := url.Parse(string(s))
	if err != nil {
		return slog.StringValue(string(s))
	}
	return slog.StringValue(u.Redacted())
}

// RedactStringURL returns a safely loggable URL string
func RedactStringURL(s string) slog.LogValuer {
	return RedactedStringURL(s)
}

var dsnPassword = regexp.MustCompile(`(?i)(password=)[^\s]+`)

// RedactedDSN is a PostgreSQL connection string for safe logging.
// Both URL and key/value DSN forms are handled.
type RedactedDSN string

// LogValue implements slog.LogValuer to avoid revealing database passwords
func (s RedactedDSN) LogValue() slog.Value {
	str := string(s)
	if strings.Contains(str, "://") {
		return RedactedStringURL(str).LogValue()
	}
	return slog.StringValue(dsnPassword.ReplaceAllString(str, "${1}xxxxx"))
}

// RedactDSN returns a safely loggable DSN
func RedactDSN(s string) slog.LogValuer {
	return RedactedDSN(s)
}

// Fingerprint reduces a credential to a short, non-reversible prefix for correlation
type Fingerprint string

// LogValue implements slog.LogValuer
func (f Fingerprint) LogValue() slog.Value {
	if len(f) <= 6 {
		return slog.StringValue("***")
	}
	return slog.StringValue(string(f[:4]) + "…")
}
