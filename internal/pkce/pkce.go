// Package pkce generates and checks Proof Key for Code Exchange pairs as
// described in RFC 7636.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Method is the code_challenge_method sent on the authorize request.
type Method string

const (
	MethodS256  Method = "S256"
	MethodPlain Method = "plain"
)

// verifierBytes of randomness encode to a 128 character verifier, the RFC maximum.
const verifierBytes = 96

// ErrUnsupportedMethod is returned for challenge methods other than S256 and plain.
var ErrUnsupportedMethod = errors.New("pkce: unsupported code_challenge_method")

// Codes holds a verifier and the challenge derived from it.
type Codes struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
	Method        Method `json:"code_challenge_method"`
}

// ParseMethod normalizes a method name. Empty selects S256.
func ParseMethod(s string) (Method, error) {
	switch strings.TrimSpace(s) {
	case "", "S256", "s256":
		return MethodS256, nil
	case "plain":
		return MethodPlain, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// Generate creates a new verifier and its challenge.
func Generate(method Method) (*Codes, error) {
	if method == "" {
		method = MethodS256
	}
	if method != MethodS256 && method != MethodPlain {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	challenge, err := Challenge(verifier, method)
	if err != nil {
		return nil, err
	}
	return &Codes{
		CodeVerifier:  verifier,
		CodeChallenge: challenge,
		Method:        method,
	}, nil
}

// Challenge derives the code_challenge for verifier.
func Challenge(verifier string, method Method) (string, error) {
	switch method {
	case MethodS256, "":
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Verify reports whether verifier matches challenge under method.
func Verify(verifier, challenge string, method Method) bool {
	if !ValidVerifier(verifier) {
		return false
	}
	want, err := Challenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}

// ValidVerifier checks length (43 to 128) and the unreserved character set.
func ValidVerifier(verifier string) bool {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	for _, r := range verifier {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return false
		}
	}
	return true
}

func generateCodeVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomString returns n random bytes encoded as unpadded base64url. It is
// used for state and nonce values.
func RandomString(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
