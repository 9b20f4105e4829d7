package pingone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidDiscovery is returned when the discovery document is unusable.
var ErrInvalidDiscovery = errors.New("pingone: invalid discovery document")

// Discovery is the subset of the OpenID Provider Metadata the playground shows and uses.
type Discovery struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	UserInfoEndpoint                       string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                                string   `json:"jwks_uri"`
	EndSessionEndpoint                     string   `json:"end_session_endpoint,omitempty"`
	IntrospectionEndpoint                  string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                     string   `json:"revocation_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint     string   `json:"pushed_authorization_request_endpoint,omitempty"`
	DeviceAuthorizationEndpoint            string   `json:"device_authorization_endpoint,omitempty"`
	ScopesSupported                        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	ResponseModesSupported                 []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                    []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported                  []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported       []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                        []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported,omitempty"`
	RequestParameterSupported              bool     `json:"request_parameter_supported,omitempty"`
	RequirePushedAuthorizationRequests     bool     `json:"require_pushed_authorization_requests,omitempty"`
	AuthorizationDetailsTypesSupported     []string `json:"authorization_details_types_supported,omitempty"`
	BackchannelLogoutSupported             bool     `json:"backchannel_logout_supported,omitempty"`
	FrontchannelLogoutSupported            bool     `json:"frontchannel_logout_supported,omitempty"`
	RequestObjectSigningAlgValuesSupported []string `json:"request_object_signing_alg_values_supported,omitempty"`
}

// Validate checks the document against the URL it was fetched from.
func (d *Discovery) Validate(discoveryURL string) error {
	if d.Issuer == "" {
		return fmt.Errorf("%w: empty issuer", ErrInvalidDiscovery)
	}
	iss, err := url.Parse(d.Issuer)
	if err != nil {
		return fmt.Errorf("%w: invalid issuer URL: %w", ErrInvalidDiscovery, err)
	}
	src, err := url.Parse(discoveryURL)
	if err != nil {
		return fmt.Errorf("%w: invalid request URL: %w", ErrInvalidDiscovery, err)
	}
	if iss.Scheme != src.Scheme || iss.Host != src.Host {
		return fmt.Errorf("%w: issuer %s does not match %s", ErrInvalidDiscovery, d.Issuer, src.Host)
	}
	if d.AuthorizationEndpoint == "" || d.TokenEndpoint == "" {
		return fmt.Errorf("%w: authorization and token endpoints are required", ErrInvalidDiscovery)
	}
	if d.JWKSURI == "" {
		return fmt.Errorf("%w: jwks_uri is required", ErrInvalidDiscovery)
	}
	if !slices.Contains(d.ResponseTypesSupported, "code") {
		return fmt.Errorf("%w: response_types_supported must include 'code'", ErrInvalidDiscovery)
	}
	return nil
}

// Supports reports whether the document lists value under the given field.
func (d *Discovery) Supports(field, value string) bool {
	var list []string
	switch field {
	case "scope":
		list = d.ScopesSupported
	case "response_type":
		list = d.ResponseTypesSupported
	case "response_mode":
		list = d.ResponseModesSupported
	case "grant_type":
		list = d.GrantTypesSupported
	case "auth_method":
		list = d.TokenEndpointAuthMethodsSupported
	case "code_challenge_method":
		list = d.CodeChallengeMethodsSupported
	}
	return slices.Contains(list, value)
}

// leveledLogrus adapts logrus to retryablehttp. Per-attempt errors are
// downgraded to warn since the request is retried.
type leveledLogrus struct{}

func (leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func kvFields(kv []interface{}) log.Fields {
	fields := make(log.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// Client fetches provider metadata and keys for one environment.
type Client struct {
	endpoints *Endpoints
	http      *http.Client
	timeout   time.Duration
	keys      *keyCache
}

// Options configure NewClient.
type Options struct {
	// HTTPClient is the base client, typically carrying the proxy transport.
	HTTPClient *http.Client
	// Timeout bounds each discovery or JWKS call. <= 0 means 10 seconds.
	Timeout time.Duration
	// Retries is the retry count for discovery and JWKS. < 0 disables retries.
	Retries int
}

// NewClient returns a metadata client. Only discovery and JWKS calls are
// retried; OAuth calls are never sent through this client.
func NewClient(endpoints *Endpoints, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryClient := retryablehttp.NewClient()
	switch {
	case opts.Retries < 0:
		retryClient.RetryMax = 0
	case opts.Retries > 0:
		retryClient.RetryMax = opts.Retries
	default:
		retryClient.RetryMax = 2
	}
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{})
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		retryClient.HTTPClient.Transport = opts.HTTPClient.Transport
	}
	client := retryClient.StandardClient()
	client.Timeout = timeout

	return &Client{
		endpoints: endpoints,
		http:      client,
		timeout:   timeout,
		keys:      newKeyCache(client, 10*time.Minute),
	}
}

// Endpoints returns the endpoint set the client was built with.
func (c *Client) Endpoints() *Endpoints {
	return c.endpoints
}

// Discover fetches and validates the OIDC discovery document.
func (c *Client) Discover(ctx context.Context) (*Discovery, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Discovery, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pingone: discovery request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("discovery response body close error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("pingone: failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pingone: discovery returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc Discovery
	if err = json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDiscovery, err)
	}
	if err = doc.Validate(c.endpoints.Discovery); err != nil {
		return nil, err
	}
	log.WithField("issuer", doc.Issuer).Debug("discovery document loaded")
	return &doc, nil
}
