// internal/auth/httpauth/files.go
package httpauth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HtpasswdResolver verifies Basic credentials against an Apache htpasswd file.
// Supported hashes are bcrypt ($2a$, $2b$, $2y$) and {SHA}.
type HtpasswdResolver struct {
	hashes map[string]string
}

// LoadHtpasswd reads an htpasswd file
func LoadHtpasswd(path string) (*HtpasswdResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open htpasswd file %s: %w", path, err)
	}
	defer f.Close()

	r, err := ParseHtpasswd(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse htpasswd file %s: %w", path, err)
	}
	return r, nil
}

// ParseHtpasswd parses htpasswd content
func ParseHtpasswd(r io.Reader) (*HtpasswdResolver, error) {
	hashes := make(map[string]string)
	err := scanEntries(r, 2, func(line int, fields []string) error {
		user, hash := fields[0], fields[1]
		if !isBcrypt(hash) && !strings.HasPrefix(hash, "{SHA}") {
			return fmt.Errorf("line %d: unsupported hash format for user %q", line, user)
		}
		hashes[user] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &HtpasswdResolver{hashes: hashes}, nil
}

// ResolveBasic implements BasicResolver
func (h *HtpasswdResolver) ResolveBasic(_ context.Context, username, password string) (Principal, error) {
	hash, ok := h.hashes[username]
	if !ok {
		return Principal{}, ErrUnknownUser
	}

	if isBcrypt(hash) {
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return Principal{}, ErrPasswordMismatch
		}
		if err != nil {
			return Principal{}, fmt.Errorf("failed to compare bcrypt hash: %w", err)
		}
		return Principal{Username: username}, nil
	}

	sum := sha1.Sum([]byte(password))
	expected := "{SHA}" + base64.StdEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) != 1 {
		return Principal{}, ErrPasswordMismatch
	}
	return Principal{Username: username}, nil
}

// HtdigestResolver serves Digest HA1 values from an Apache htdigest file.
// htdigest stores MD5 hashes only.
type HtdigestResolver struct {
	// keyed by realm then user
	ha1 map[string]map[string]string
}

// LoadHtdigest reads an htdigest file
func LoadHtdigest(path string) (*HtdigestResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open htdigest file %s: %w", path, err)
	}
	defer f.Close()

	r, err := ParseHtdigest(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse htdigest file %s: %w", path, err)
	}
	return r, nil
}

// ParseHtdigest parses htdigest content
func ParseHtdigest(r io.Reader) (*HtdigestResolver, error) {
	ha1 := make(map[string]map[string]string)
	err := scanEntries(r, 3, func(line int, fields []string) error {
		user, realm, hash := fields[0], fields[1], strings.ToLower(fields[2])
		if len(hash) != 32 {
			return fmt.Errorf("line %d: invalid MD5 hash for user %q", line, user)
		}
		if ha1[realm] == nil {
			ha1[realm] = make(map[string]string)
		}
		ha1[realm][user] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &HtdigestResolver{ha1: ha1}, nil
}

// ResolveDigest implements DigestResolver
func (h *HtdigestResolver) ResolveDigest(_ context.Context, username, realm, algorithm string) (string, error) {
	if algorithm != AlgorithmMD5 {
		return "", ErrUnsupportedAlgorithm
	}
	hash, ok := h.ha1[realm][username]
	if !ok {
		return "", ErrUnknownUser
	}
	return hash, nil
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// scanEntries calls fn for each non-empty, non-comment line split on colons into n fields
func scanEntries(r io.Reader, n int, fn func(line int, fields []string) error) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.SplitN(text, ":", n)
		if len(fields) != n || fields[0] == "" {
			return fmt.Errorf("line %d: expected %d colon-separated fields", line, n)
		}
		if err := fn(line, fields); err != nil {
			return err
		}
	}
	return scanner.Err()
}
