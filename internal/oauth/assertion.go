package oauth

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClientAssertionType is the RFC 7523 client assertion type.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime bounds client assertions; the provider rejects long-lived ones.
const assertionLifetime = 5 * time.Minute

// ErrMissingSigningKey is returned when a JWT auth method has no key material.
var ErrMissingSigningKey = errors.New("oauth: client assertion needs a secret or private key")

// ClientAssertion builds a client_secret_jwt (HS256) or private_key_jwt
// (RS256 or ES256) assertion addressed to audience.
func (c *Client) ClientAssertion(audience string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.ClientID,
		Subject:   c.cfg.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	switch c.cfg.AuthMethod {
	case flows.AuthClientSecretJWT:
		if c.cfg.ClientSecret == "" {
			return "", ErrMissingSigningKey
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString([]byte(c.cfg.ClientSecret))
	case flows.AuthPrivateKeyJWT:
		key, method, err := parsePrivateKey(c.cfg.PrivateKeyPEM)
		if err != nil {
			return "", err
		}
		token := jwt.NewWithClaims(method, claims)
		if c.cfg.KeyID != "" {
			token.Header["kid"] = c.cfg.KeyID
		}
		return token.SignedString(key)
	default:
		return "", fmt.Errorf("oauth: %s does not use client assertions", c.cfg.AuthMethod)
	}
}

func parsePrivateKey(pemData string) (crypto.Signer, jwt.SigningMethod, error) {
	if pemData == "" {
		return nil, nil, ErrMissingSigningKey
	}
	if rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemData)); err == nil {
		return rsaKey, jwt.SigningMethodRS256, nil
	}
	ecKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: private key must be an RSA or EC PEM key: %w", err)
	}
	switch ecKey.Curve.Params().BitSize {
	case 256:
		return ecKey, jwt.SigningMethodES256, nil
	case 384:
		return ecKey, jwt.SigningMethodES384, nil
	case 521:
		return ecKey, jwt.SigningMethodES512, nil
	default:
		return nil, nil, fmt.Errorf("oauth: unsupported EC curve %s", ecKey.Curve.Params().Name)
	}
}
