package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Token type hints for introspection and revocation.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// UserInfo calls the userinfo endpoint with a bearer access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("oauth: no access token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	_, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	claims := make(map[string]interface{})
	if err = json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("oauth: invalid userinfo response: %w", err)
	}
	return claims, nil
}

// Introspection is an RFC 7662 response.
type Introspection struct {
	Active    bool                   `json:"active"`
	Scope     string                 `json:"scope,omitempty"`
	ClientID  string                 `json:"client_id,omitempty"`
	TokenType string                 `json:"token_type,omitempty"`
	Subject   string                 `json:"sub,omitempty"`
	Expiry    int64                  `json:"exp,omitempty"`
	Claims    map[string]interface{} `json:"claims"`
}

// Introspect asks whether token is active. hint may be empty.
func (c *Client) Introspect(ctx context.Context, token, hint string) (*Introspection, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("oauth: no token to introspect")
	}
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	_, body, err := c.postForm(ctx, c.endpoints.Introspection, form)
	if err != nil {
		return nil, err
	}
	var out Introspection
	if err = json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("oauth: invalid introspection response: %w", err)
	}
	if err = json.Unmarshal(body, &out.Claims); err != nil {
		return nil, fmt.Errorf("oauth: invalid introspection response: %w", err)
	}
	return &out, nil
}

// Revoke invalidates token at the revocation endpoint. hint may be empty.
func (c *Client) Revoke(ctx context.Context, token, hint string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("oauth: no token to revoke")
	}
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	_, _, err := c.postForm(ctx, c.endpoints.Revocation, form)
	return err
}
