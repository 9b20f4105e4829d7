package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodedToken is a JWT split into header and claims for display. The
// signature is not checked; use pingone.Client.VerifyIDToken for that.
type DecodedToken struct {
	Header    map[string]any `json:"header"`
	Claims    map[string]any `json:"claims"`
	Signature string         `json:"signature"`
	IssuedAt  time.Time      `json:"issued_at,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Expired   bool           `json:"expired"`
}

// DecodeIDToken parses a compact JWT without verifying it.
func DecodeIDToken(raw string) (*DecodedToken, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("oauth: not a compact JWT")
	}
	claims := jwt.MapClaims{}
	tok, parts, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("oauth: decode token: %w", err)
	}
	out := &DecodedToken{
		Header:    tok.Header,
		Claims:    map[string]any(claims),
		Signature: parts[2],
	}
	if iat, errIat := claims.GetIssuedAt(); errIat == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, errExp := claims.GetExpirationTime(); errExp == nil && exp != nil {
		out.ExpiresAt = exp.Time
		out.Expired = time.Now().After(exp.Time)
	}
	return out, nil
}
