package pingone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidIDToken wraps every ID token verification failure.
var ErrInvalidIDToken = errors.New("pingone: id_token verification failed")

// VerifyOptions tune ID token checks.
type VerifyOptions struct {
	// Audience is the client id the token must be issued to.
	Audience string
	// Nonce, when set, must equal the nonce claim.
	Nonce string
	// Skew tolerates clock drift on exp, iat and nbf. Zero means one minute.
	Skew time.Duration
}

// VerifiedIDToken is the result of a successful verification.
type VerifiedIDToken struct {
	Subject  string                 `json:"sub"`
	Issuer   string                 `json:"iss"`
	Audience []string               `json:"aud"`
	Expiry   time.Time              `json:"exp"`
	IssuedAt time.Time              `json:"iat"`
	KeyID    string                 `json:"kid,omitempty"`
	Claims   map[string]interface{} `json:"claims"`
}

type keyCache struct {
	client *http.Client
	ttl    time.Duration

	mu      sync.Mutex
	url     string
	set     jwk.Set
	fetched time.Time
}

func newKeyCache(client *http.Client, ttl time.Duration) *keyCache {
	return &keyCache{client: client, ttl: ttl}
}

func (k *keyCache) get(ctx context.Context, jwksURL string, force bool) (jwk.Set, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !force && k.set != nil && k.url == jwksURL && time.Since(k.fetched) < k.ttl {
		return k.set, nil
	}
	set, err := jwk.Fetch(ctx, jwksURL, jwk.WithHTTPClient(k.client))
	if err != nil {
		return nil, fmt.Errorf("pingone: failed to fetch jwks: %w", err)
	}
	k.url = jwksURL
	k.set = set
	k.fetched = time.Now()
	log.WithField("keys", set.Len()).Debug("jwks refreshed")
	return set, nil
}

// KeySet returns the cached environment signing keys, fetching them when stale.
func (c *Client) KeySet(ctx context.Context) (jwk.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.keys.get(ctx, c.endpoints.JWKS, false)
}

// VerifyIDToken checks the signature against the environment JWKS and
// validates issuer, audience, expiry and nonce. An unknown kid triggers one
// forced key refresh to follow key rotation.
func (c *Client) VerifyIDToken(ctx context.Context, raw string, opts VerifyOptions) (*VerifiedIDToken, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := jws.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	kid := ""
	if sigs := msg.Signatures(); len(sigs) > 0 {
		kid = sigs[0].ProtectedHeaders().KeyID()
	}

	set, err := c.keys.get(ctx, c.endpoints.JWKS, false)
	if err != nil {
		return nil, err
	}
	if _, found := set.LookupKeyID(kid); kid != "" && !found {
		if set, err = c.keys.get(ctx, c.endpoints.JWKS, true); err != nil {
			return nil, err
		}
	}

	skew := opts.Skew
	if skew == 0 {
		skew = time.Minute
	}
	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithIssuer(c.endpoints.Issuer),
		jwt.WithAcceptableSkew(skew),
	}
	if opts.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Nonce != "" {
		parseOpts = append(parseOpts, jwt.WithClaimValue("nonce", opts.Nonce))
	}

	tok, err := jwt.ParseString(raw, parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	claims, err := tok.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	return &VerifiedIDToken{
		Subject:  tok.Subject(),
		Issuer:   tok.Issuer(),
		Audience: tok.Audience(),
		Expiry:   tok.Expiration(),
		IssuedAt: tok.IssuedAt(),
		KeyID:    kid,
		Claims:   claims,
	}, nil
}
