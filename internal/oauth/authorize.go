package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/google/go-querystring/query"
)

// ErrStateMismatch is returned when a callback carries an unexpected state.
var ErrStateMismatch = errors.New("oauth: state mismatch")

// AuthorizeRequest holds the authorize endpoint parameters.
type AuthorizeRequest struct {
	ResponseType         string `url:"response_type,omitempty" json:"response_type,omitempty"`
	ClientID             string `url:"client_id" json:"client_id"`
	RedirectURI          string `url:"redirect_uri,omitempty" json:"redirect_uri,omitempty"`
	Scope                string `url:"scope,omitempty" json:"scope,omitempty"`
	State                string `url:"state,omitempty" json:"state,omitempty"`
	Nonce                string `url:"nonce,omitempty" json:"nonce,omitempty"`
	CodeChallenge        string `url:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod  string `url:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
	ResponseMode         string `url:"response_mode,omitempty" json:"response_mode,omitempty"`
	Prompt               string `url:"prompt,omitempty" json:"prompt,omitempty"`
	LoginHint            string `url:"login_hint,omitempty" json:"login_hint,omitempty"`
	MaxAge               *int   `url:"max_age,omitempty" json:"max_age,omitempty"`
	ACRValues            string `url:"acr_values,omitempty" json:"acr_values,omitempty"`
	AuthorizationDetails string `url:"authorization_details,omitempty" json:"authorization_details,omitempty"`
	RequestURI           string `url:"request_uri,omitempty" json:"request_uri,omitempty"`
}

// Values encodes the request as form values.
func (r AuthorizeRequest) Values() (url.Values, error) {
	return query.Values(r)
}

// NewAuthorizeRequest starts a request for this client with the given
// response type and scopes. Empty scopes use the configured defaults.
func (c *Client) NewAuthorizeRequest(responseType string, scopes []string) AuthorizeRequest {
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}
	return AuthorizeRequest{
		ResponseType: responseType,
		ClientID:     c.cfg.ClientID,
		RedirectURI:  c.cfg.RedirectURI,
		Scope:        strings.Join(scopes, " "),
	}
}

// AuthorizeURL returns the URL the browser is sent to. A request carrying a
// PAR request_uri is reduced to client_id and request_uri.
func (c *Client) AuthorizeURL(req AuthorizeRequest) (string, error) {
	if req.ClientID == "" {
		req.ClientID = c.cfg.ClientID
	}
	if req.RequestURI != "" {
		req = AuthorizeRequest{ClientID: req.ClientID, RequestURI: req.RequestURI}
	}
	values, err := req.Values()
	if err != nil {
		return "", fmt.Errorf("oauth: failed to encode authorize request: %w", err)
	}
	u, err := url.Parse(c.endpoints.Authorization)
	if err != nil {
		return "", fmt.Errorf("oauth: invalid authorization endpoint: %w", err)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// PARResponse is the pushed authorization response.
type PARResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// PushAuthorizationRequest posts req to the PAR endpoint with client
// authentication and returns the request_uri to use on the authorize call.
func (c *Client) PushAuthorizationRequest(ctx context.Context, req AuthorizeRequest) (*PARResponse, error) {
	req.RequestURI = ""
	if req.ClientID == "" {
		req.ClientID = c.cfg.ClientID
	}
	form, err := req.Values()
	if err != nil {
		return nil, fmt.Errorf("oauth: failed to encode PAR body: %w", err)
	}
	_, body, err := c.postForm(ctx, c.endpoints.PAR, form)
	if err != nil {
		return nil, err
	}
	var out PARResponse
	if err = json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("oauth: invalid PAR response: %w", err)
	}
	if out.RequestURI == "" {
		return nil, fmt.Errorf("oauth: PAR response has no request_uri")
	}
	return &out, nil
}

// CallbackResult is what came back on the redirect, from the query or the fragment.
type CallbackResult struct {
	Code             string `json:"code,omitempty"`
	State            string `json:"state,omitempty"`
	AccessToken      string `json:"access_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Issuer           string `json:"iss,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// HasTokens reports whether the front channel delivered tokens.
func (r *CallbackResult) HasTokens() bool {
	return r.AccessToken != "" || r.IDToken != ""
}

// ParseCallback reads a redirect. raw may be a full URL, a bare query or
// fragment ("?a=b", "#a=b") or an encoded parameter string. Fragment values
// win over query values. When expectedState is set the state must match.
// A provider error is returned as *errors.OAuthError alongside the result.
func ParseCallback(raw, expectedState string) (*CallbackResult, error) {
	values, err := callbackValues(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	res := &CallbackResult{
		Code:             values.Get("code"),
		State:            values.Get("state"),
		AccessToken:      values.Get("access_token"),
		IDToken:          values.Get("id_token"),
		TokenType:        values.Get("token_type"),
		Scope:            values.Get("scope"),
		Issuer:           values.Get("iss"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
		ErrorURI:         values.Get("error_uri"),
	}
	if v := values.Get("expires_in"); v != "" {
		res.ExpiresIn, _ = strconv.Atoi(v)
	}

	if expectedState != "" && res.State != expectedState {
		return res, fmt.Errorf("%w: got %q", ErrStateMismatch, res.State)
	}
	if res.Error != "" {
		return res, &apperrors.OAuthError{Code: res.Error, Description: res.ErrorDescription, URI: res.ErrorURI}
	}
	if res.Code == "" && !res.HasTokens() {
		return res, fmt.Errorf("oauth: callback carries neither a code nor tokens")
	}
	return res, nil
}

func callbackValues(raw string) (url.Values, error) {
	if raw == "" {
		return nil, fmt.Errorf("oauth: empty callback")
	}
	var queryPart, fragmentPart string
	switch {
	case strings.HasPrefix(raw, "?"):
		queryPart = raw[1:]
		if i := strings.Index(queryPart, "#"); i >= 0 {
			queryPart, fragmentPart = queryPart[:i], queryPart[i+1:]
		}
	case strings.HasPrefix(raw, "#"):
		fragmentPart = raw[1:]
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("oauth: invalid callback URL: %w", err)
		}
		queryPart = u.RawQuery
		fragmentPart = u.Fragment
	default:
		queryPart = raw
	}

	values, err := url.ParseQuery(queryPart)
	if err != nil {
		return nil, fmt.Errorf("oauth: invalid callback query: %w", err)
	}
	if fragmentPart != "" {
		frag, errFrag := url.ParseQuery(fragmentPart)
		if errFrag != nil {
			return nil, fmt.Errorf("oauth: invalid callback fragment: %w", errFrag)
		}
		for k, v := range frag {
			values[k] = v
		}
	}
	return values, nil
}
