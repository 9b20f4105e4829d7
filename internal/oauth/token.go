package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSet is a token endpoint (or front channel) response.
type TokenSet struct {
	AccessToken          string          `json:"access_token,omitempty"`
	RefreshToken         string          `json:"refresh_token,omitempty"`
	IDToken              string          `json:"id_token,omitempty"`
	TokenType            string          `json:"token_type,omitempty"`
	Scope                string          `json:"scope,omitempty"`
	ExpiresIn            int64           `json:"expires_in,omitempty"`
	Expiry               time.Time       `json:"expiry,omitempty"`
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}

// Expired reports whether the access token is past its expiry.
func (t *TokenSet) Expired(now time.Time) bool {
	return t != nil && !t.Expiry.IsZero() && now.After(t.Expiry)
}

// Merge copies non-empty fields from other, keeping a refresh token or ID
// token the newer response omitted.
func (t *TokenSet) Merge(other *TokenSet) {
	if other == nil {
		return
	}
	if other.AccessToken != "" {
		t.AccessToken = other.AccessToken
		t.ExpiresIn = other.ExpiresIn
		t.Expiry = other.Expiry
	}
	if other.RefreshToken != "" {
		t.RefreshToken = other.RefreshToken
	}
	if other.IDToken != "" {
		t.IDToken = other.IDToken
	}
	if other.TokenType != "" {
		t.TokenType = other.TokenType
	}
	if other.Scope != "" {
		t.Scope = other.Scope
	}
	if len(other.AuthorizationDetails) > 0 {
		t.AuthorizationDetails = other.AuthorizationDetails
	}
}

// TokenSetFromCallback builds a token set from front channel tokens.
func TokenSetFromCallback(res *CallbackResult, now time.Time) *TokenSet {
	if res == nil || !res.HasTokens() {
		return nil
	}
	ts := &TokenSet{
		AccessToken: res.AccessToken,
		IDToken:     res.IDToken,
		TokenType:   res.TokenType,
		Scope:       res.Scope,
		ExpiresIn:   int64(res.ExpiresIn),
	}
	if res.ExpiresIn > 0 {
		ts.Expiry = now.Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	return ts
}

func fromOAuth2Token(tok *oauth2.Token) *TokenSet {
	if tok == nil {
		return nil
	}
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		Expiry:       tok.Expiry,
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		ts.Scope = v
	}
	if v := tok.Extra("authorization_details"); v != nil {
		if raw, err := json.Marshal(v); err == nil {
			ts.AuthorizationDetails = raw
		}
	}
	return ts
}

// parseTokenBody decodes a token endpoint JSON body.
func parseTokenBody(body []byte, now time.Time) (*TokenSet, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("oauth: token response is not JSON")
	}
	res := gjson.ParseBytes(body)
	ts := &TokenSet{
		AccessToken:  res.Get("access_token").String(),
		RefreshToken: res.Get("refresh_token").String(),
		IDToken:      res.Get("id_token").String(),
		TokenType:    res.Get("token_type").String(),
		Scope:        res.Get("scope").String(),
		ExpiresIn:    res.Get("expires_in").Int(),
	}
	if ad := res.Get("authorization_details"); ad.Exists() {
		ts.AuthorizationDetails = json.RawMessage(ad.Raw)
	}
	if ts.AccessToken == "" {
		return nil, fmt.Errorf("oauth: token response has no access_token")
	}
	if ts.ExpiresIn > 0 {
		ts.Expiry = now.Add(time.Duration(ts.ExpiresIn) * time.Second)
	}
	return ts, nil
}

// ExchangeCode trades an authorization code for tokens. verifier is the
// PKCE code_verifier and may be empty.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("oauth: authorization code is empty")
	}
	opts, _, err := c.assertionOptions()
	if err != nil {
		return nil, err
	}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.oauth2Config(nil).Exchange(c.oauth2Context(ctx), code, opts...)
	if err != nil {
		return nil, convertError(err)
	}
	return fromOAuth2Token(tok), nil
}

// Refresh uses a refresh token to obtain new tokens. Secret based methods go
// through the x/oauth2 token source; JWT methods post the assertion directly
// since token sources cannot carry extra parameters.
func (c *Client) Refresh(ctx context.Context, refreshToken string, scopes []string) (*TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("oauth: no refresh token")
	}
	switch c.cfg.AuthMethod {
	case flows.AuthClientSecretJWT, flows.AuthPrivateKeyJWT:
		form := url.Values{
			"grant_type":    {flows.GrantRefreshToken},
			"refresh_token": {refreshToken},
		}
		if len(scopes) > 0 {
			form.Set("scope", strings.Join(scopes, " "))
		}
		_, body, err := c.postForm(ctx, c.endpoints.Token, form)
		if err != nil {
			return nil, err
		}
		ts, err := parseTokenBody(body, c.now())
		if err != nil {
			return nil, err
		}
		if ts.RefreshToken == "" {
			ts.RefreshToken = refreshToken
		}
		return ts, nil
	}

	src := c.oauth2Config(scopes).TokenSource(c.oauth2Context(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, convertError(err)
	}
	return fromOAuth2Token(tok), nil
}

// ClientCredentials requests a token for the client itself. authorizationDetails
// is an optional RFC 9396 JSON array.
func (c *Client) ClientCredentials(ctx context.Context, scopes []string, authorizationDetails json.RawMessage) (*TokenSet, error) {
	if c.cfg.AuthMethod == flows.AuthNone {
		return nil, fmt.Errorf("oauth: client credentials requires client authentication")
	}
	_, assertion, err := c.assertionOptions()
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	for k, v := range assertion {
		params[k] = v
	}
	if len(authorizationDetails) > 0 {
		params.Set("authorization_details", string(authorizationDetails))
	}

	cfg := c.oauth2Config(scopes)
	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.Endpoint.TokenURL,
		Scopes:         cfg.Scopes,
		EndpointParams: params,
		AuthStyle:      cfg.Endpoint.AuthStyle,
	}
	tok, err := cc.Token(c.oauth2Context(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	return fromOAuth2Token(tok), nil
}
