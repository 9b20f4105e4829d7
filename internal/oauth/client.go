// Package oauth is a thin client over the PingOne OAuth and OIDC endpoints.
// Each exported operation performs exactly one provider call (the device
// wait loop excepted) so the wizard can show every request and response.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ErrMissingClientID is returned when the client has no client id.
var ErrMissingClientID = errors.New("oauth: client id is required")

// maxBodyBytes bounds provider responses read into memory.
const maxBodyBytes = 4 << 20

// ClientConfig is the application registration the flows run as.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	AuthMethod   flows.AuthMethod
	// PrivateKeyPEM signs private_key_jwt assertions (RSA or EC).
	PrivateKeyPEM string
	// KeyID is sent as the kid header of private_key_jwt assertions.
	KeyID       string
	RedirectURI string
	Scopes      []string
}

// Client calls the provider endpoints for one application.
type Client struct {
	endpoints *pingone.Endpoints
	cfg       ClientConfig
	http      *http.Client
	now       func() time.Time
}

// NewClient returns a client. httpClient may be nil. Its transport is
// wrapped so requests are recorded when the context carries a Recorder.
func NewClient(endpoints *pingone.Endpoints, cfg ClientConfig, httpClient *http.Client) (*Client, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("oauth: endpoints are required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrMissingClientID
	}
	if cfg.AuthMethod == "" {
		if cfg.ClientSecret != "" {
			cfg.AuthMethod = flows.AuthClientSecretBasic
		} else {
			cfg.AuthMethod = flows.AuthNone
		}
	}
	base := http.DefaultTransport
	timeout := 30 * time.Second
	if httpClient != nil {
		if httpClient.Transport != nil {
			base = httpClient.Transport
		}
		if httpClient.Timeout > 0 {
			timeout = httpClient.Timeout
		}
	}
	return &Client{
		endpoints: endpoints,
		cfg:       cfg,
		http: &http.Client{
			Transport: &tracingTransport{base: base},
			Timeout:   timeout,
			// the authorize call of the redirectless flow must not follow redirects
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		now: time.Now,
	}, nil
}

// Endpoints returns the provider endpoints.
func (c *Client) Endpoints() *pingone.Endpoints {
	return c.endpoints
}

// Config returns the application configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// oauth2Config maps the application onto golang.org/x/oauth2. JWT client
// authentication is sent as extra parameters, so it uses AuthStyleInParams
// with no secret.
func (c *Client) oauth2Config(scopes []string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	secret := c.cfg.ClientSecret
	switch c.cfg.AuthMethod {
	case flows.AuthClientSecretBasic:
		style = oauth2.AuthStyleInHeader
	case flows.AuthClientSecretPost:
	default:
		secret = ""
	}
	if scopes == nil {
		scopes = c.cfg.Scopes
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       c.endpoints.Authorization,
			TokenURL:      c.endpoints.Token,
			DeviceAuthURL: c.endpoints.DeviceAuthorization,
			AuthStyle:     style,
		},
	}
}

// oauth2Context makes x/oauth2 use the tracing client.
func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// assertionOptions returns the client_assertion parameters for JWT methods.
func (c *Client) assertionOptions() ([]oauth2.AuthCodeOption, url.Values, error) {
	if c.cfg.AuthMethod != flows.AuthClientSecretJWT && c.cfg.AuthMethod != flows.AuthPrivateKeyJWT {
		return nil, nil, nil
	}
	assertion, err := c.ClientAssertion(c.endpoints.Token)
	if err != nil {
		return nil, nil, err
	}
	values := url.Values{
		"client_assertion_type": {ClientAssertionType},
		"client_assertion":      {assertion},
	}
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("client_assertion_type", ClientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	}, values, nil
}

// applyClientAuth adds client authentication to a form post.
func (c *Client) applyClientAuth(req *http.Request, form url.Values) error {
	switch c.cfg.AuthMethod {
	case flows.AuthClientSecretBasic:
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	case flows.AuthClientSecretPost:
		form.Set("client_id", c.cfg.ClientID)
		form.Set("client_secret", c.cfg.ClientSecret)
	case flows.AuthClientSecretJWT, flows.AuthPrivateKeyJWT:
		assertion, err := c.ClientAssertion(c.endpoints.Token)
		if err != nil {
			return err
		}
		form.Set("client_id", c.cfg.ClientID)
		form.Set("client_assertion_type", ClientAssertionType)
		form.Set("client_assertion", assertion)
	default:
		form.Set("client_id", c.cfg.ClientID)
	}
	return nil
}

// postForm sends an authenticated form post and returns the status and body.
// Non-2xx responses are returned as *apperrors.OAuthError when the body
// carries one.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	if err = c.applyClientAuth(req, form); err != nil {
		return 0, nil, err
	}
	encoded := form.Encode()
	req.Body = io.NopCloser(strings.NewReader(encoded))
	req.ContentLength = int64(len(encoded))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(encoded)), nil }
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("oauth: %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("response body close error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("oauth: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, statusError(resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	if oauthErr := apperrors.ParseOAuthError(status, body); oauthErr != nil {
		return oauthErr
	}
	return &apperrors.OAuthError{
		StatusCode:  status,
		Code:        httpStatusCode(status),
		Description: strings.TrimSpace(util.Truncate(string(body), 300)),
	}
}

func httpStatusCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "invalid_client"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request"
	}
}

// convertError maps x/oauth2 errors onto OAuthError.
func convertError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if parsed := apperrors.ParseOAuthError(status, re.Body); parsed != nil {
			return parsed
		}
		if re.ErrorCode != "" {
			return &apperrors.OAuthError{StatusCode: status, Code: re.ErrorCode, Description: re.ErrorDescription, URI: re.ErrorURI}
		}
		return statusError(status, re.Body)
	}
	return err
}
