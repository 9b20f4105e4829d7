package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeURL(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{Scopes: []string{"openid", "profile"}})

	req := c.NewAuthorizeRequest("code", nil)
	req.State = "st-1"
	req.CodeChallenge = "challenge"
	req.CodeChallengeMethod = "S256"
	maxAge := 0
	req.MaxAge = &maxAge

	raw, err := c.AuthorizeURL(req)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, c.Endpoints().Authorization, u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "st-1", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "0", q.Get("max_age"))
	assert.False(t, q.Has("nonce"))
	assert.False(t, q.Has("request_uri"))
}

func TestPushAuthorizationRequest(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: "s3cret", AuthMethod: flows.AuthClientSecretBasic})

	req := c.NewAuthorizeRequest("code", []string{"openid"})
	req.State = "st-1"
	req.AuthorizationDetails = `[{"type":"payment_initiation"}]`
	par, err := c.PushAuthorizationRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "urn:ietf:params:oauth:request_uri:abc", par.RequestURI)
	assert.Equal(t, 60, par.ExpiresIn)

	form := fp.lastForm("par")
	assert.Equal(t, "st-1", formValue(form, "state"))
	assert.Equal(t, `[{"type":"payment_initiation"}]`, formValue(form, "authorization_details"))
	assert.Equal(t, "client-1", basicUser(fp.lastRequest("par")))

	req.RequestURI = par.RequestURI
	raw, err := c.AuthorizeURL(req)
	require.NoError(t, err)
	u, _ := url.Parse(raw)
	assert.Len(t, u.Query(), 2)
	assert.Equal(t, par.RequestURI, u.Query().Get("request_uri"))
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		state     string
		wantCode  string
		wantToken string
		wantErr   error
		anyErr    bool
	}{
		{name: "full url", raw: "http://localhost:3000/callback?code=abc&state=s1", state: "s1", wantCode: "abc"},
		{name: "bare query", raw: "?code=abc&state=s1", state: "s1", wantCode: "abc"},
		{name: "fragment tokens", raw: "#access_token=at&token_type=Bearer&expires_in=60&state=s1", state: "s1", wantToken: "at"},
		{name: "hybrid fragment wins", raw: "http://x/cb?code=q&state=s1#code=f&id_token=a.b.c&state=s1", state: "s1", wantCode: "f"},
		{name: "encoded string", raw: "code=abc&state=s1", state: "", wantCode: "abc"},
		{name: "state mismatch", raw: "?code=abc&state=evil", state: "s1", wantErr: ErrStateMismatch},
		{name: "provider error", raw: "?error=access_denied&error_description=nope&state=s1", state: "s1", wantErr: ErrAccessDenied},
		{name: "empty", raw: "  ", anyErr: true},
		{name: "nothing useful", raw: "?state=s1", state: "s1", anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseCallback(tt.raw, tt.state)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantCode, res.Code)
				assert.Equal(t, tt.wantToken, res.AccessToken)
			}
		})
	}
}

func TestExchangeCode_ClientAuthMethods(t *testing.T) {
	tests := []struct {
		name      string
		method    flows.AuthMethod
		secret    string
		verifier  string
		wantBasic bool
		wantForm  map[string]string
	}{
		{
			name:      "basic",
			method:    flows.AuthClientSecretBasic,
			secret:    "s3cret",
			wantBasic: true,
			wantForm:  map[string]string{"code": "code-1", "grant_type": "authorization_code"},
		},
		{
			name:     "post",
			method:   flows.AuthClientSecretPost,
			secret:   "s3cret",
			wantForm: map[string]string{"client_id": "client-1", "client_secret": "s3cret"},
		},
		{
			name:     "public client with pkce",
			method:   flows.AuthNone,
			verifier: strings.Repeat("v", 64),
			wantForm: map[string]string{"client_id": "client-1", "code_verifier": strings.Repeat("v", 64)},
		},
		{
			name:     "client secret jwt",
			method:   flows.AuthClientSecretJWT,
			secret:   strings.Repeat("k", 32),
			wantForm: map[string]string{"client_id": "client-1", "client_assertion_type": ClientAssertionType},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			c := fp.client(t, ClientConfig{ClientSecret: tt.secret, AuthMethod: tt.method})

			ts, err := c.ExchangeCode(context.Background(), "code-1", tt.verifier)
			require.NoError(t, err)
			assert.Equal(t, "at-1", ts.AccessToken)
			assert.Equal(t, "rt-1", ts.RefreshToken)
			assert.Equal(t, "a.b.c", ts.IDToken)
			assert.Equal(t, "openid profile", ts.Scope)
			assert.False(t, ts.Expiry.IsZero())

			form := fp.lastForm("token")
			for k, v := range tt.wantForm {
				assert.Equal(t, v, formValue(form, k), k)
			}
			assert.Equal(t, tt.wantBasic, basicUser(fp.lastRequest("token")) != "")
			if tt.method != flows.AuthClientSecretPost {
				assert.Empty(t, formValue(form, "client_secret"))
			}
		})
	}
}

func TestExchangeCode_InvalidGrant(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: "s3cret", AuthMethod: flows.AuthClientSecretPost})

	_, err := c.ExchangeCode(context.Background(), "stale", "")
	var oauthErr *apperrors.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, "invalid_grant", oauthErr.Code)
	assert.Equal(t, "code expired", oauthErr.Description)

	_, err = c.ExchangeCode(context.Background(), " ", "")
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: "s3cret", AuthMethod: flows.AuthClientSecretPost})

	ts, err := c.Refresh(context.Background(), "rt-0", []string{"openid"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", ts.AccessToken)
	form := fp.lastForm("token")
	assert.Equal(t, "refresh_token", formValue(form, "grant_type"))
	assert.Equal(t, "rt-0", formValue(form, "refresh_token"))

	_, err = c.Refresh(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestRefresh_PrivateKeyJWT(t *testing.T) {
	fp := newFakeProvider(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthPrivateKeyJWT, PrivateKeyPEM: pemKey, KeyID: "kid-1"})

	ts, err := c.Refresh(context.Background(), "rt-0", nil)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", ts.RefreshToken)

	assertion := formValue(fp.lastForm("token"), "client_assertion")
	parsed, err := jwt.ParseWithClaims(assertion, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(c.Endpoints().Token))
	require.NoError(t, err)
	assert.Equal(t, "kid-1", parsed.Header["kid"])
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "client-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestClientAssertion_Errors(t *testing.T) {
	fp := newFakeProvider(t)

	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthClientSecretJWT})
	_, err := c.ClientAssertion("aud")
	assert.ErrorIs(t, err, ErrMissingSigningKey)

	c = fp.client(t, ClientConfig{AuthMethod: flows.AuthPrivateKeyJWT, PrivateKeyPEM: "not a key"})
	_, err = c.ClientAssertion("aud")
	assert.Error(t, err)

	c = fp.client(t, ClientConfig{ClientSecret: "x", AuthMethod: flows.AuthClientSecretPost})
	_, err = c.ClientAssertion("aud")
	assert.Error(t, err)
}

func TestClientCredentials(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: strings.Repeat("k", 32), AuthMethod: flows.AuthClientSecretJWT})

	details := json.RawMessage(`[{"type":"account_information","actions":["read"]}]`)
	ts, err := c.ClientCredentials(context.Background(), []string{"api:read"}, details)
	require.NoError(t, err)
	assert.Equal(t, "at-1", ts.AccessToken)

	form := fp.lastForm("token")
	assert.Equal(t, "client_credentials", formValue(form, "grant_type"))
	assert.Equal(t, "api:read", formValue(form, "scope"))
	assert.Equal(t, string(details), formValue(form, "authorization_details"))
	assert.NotEmpty(t, formValue(form, "client_assertion"))

	public := fp.client(t, ClientConfig{AuthMethod: flows.AuthNone})
	_, err = public.ClientCredentials(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestDeviceFlow(t *testing.T) {
	fp := newFakeProvider(t)
	fp.pollAnswers = []string{"authorization_pending", "slow_down", "ok"}
	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthNone})

	da, err := c.StartDeviceAuthorization(context.Background(), []string{"openid"})
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.Equal(t, int64(1), da.Interval)
	assert.False(t, da.Expired(time.Now()))
	assert.Equal(t, "openid", formValue(fp.lastForm("device"), "scope"))

	_, err = c.PollDeviceToken(context.Background(), da)
	assert.ErrorIs(t, err, ErrAuthorizationPending)
	assert.False(t, da.LastPoll.IsZero())

	_, err = c.PollDeviceToken(context.Background(), da)
	assert.ErrorIs(t, err, ErrSlowDown)
	assert.Equal(t, int64(6), da.Interval)

	ts, err := c.PollDeviceToken(context.Background(), da)
	require.NoError(t, err)
	assert.Equal(t, "at-1", ts.AccessToken)
	assert.Equal(t, flows.GrantDeviceCode, formValue(fp.lastForm("token"), "grant_type"))
	assert.Equal(t, "dev-123", formValue(fp.lastForm("token"), "device_code"))
}

func TestPollDeviceToken_Terminal(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthNone})

	expired := &DeviceAuthorization{DeviceCode: "dev", Expiry: time.Now().Add(-time.Minute)}
	_, err := c.PollDeviceToken(context.Background(), expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Equal(t, 0, fp.hits("token"))

	fp.pollAnswers = []string{"access_denied"}
	_, err = c.PollDeviceToken(context.Background(), &DeviceAuthorization{DeviceCode: "dev"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = c.PollDeviceToken(context.Background(), nil)
	assert.Error(t, err)
}

func TestWaitForDeviceToken(t *testing.T) {
	fp := newFakeProvider(t)
	fp.pollAnswers = []string{"authorization_pending", "ok"}
	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthNone})

	da := &DeviceAuthorization{DeviceCode: "dev", Interval: 1, Expiry: time.Now().Add(time.Minute)}
	pending := 0
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts, err := c.WaitForDeviceToken(ctx, da, func(*DeviceAuthorization) { pending++ })
	require.NoError(t, err)
	assert.Equal(t, "at-1", ts.AccessToken)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 2, fp.hits("token"))
}

func TestUserInfoIntrospectRevoke(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: "s3cret", AuthMethod: flows.AuthClientSecretBasic})
	ctx := context.Background()

	claims, err := c.UserInfo(ctx, "at-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])

	_, err = c.UserInfo(ctx, "wrong")
	var oauthErr *apperrors.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, "invalid_token", oauthErr.Code)

	intro, err := c.Introspect(ctx, "at-1", HintAccessToken)
	require.NoError(t, err)
	assert.True(t, intro.Active)
	assert.Equal(t, "user-1", intro.Subject)
	assert.Equal(t, "openid", intro.Claims["scope"])
	assert.Equal(t, HintAccessToken, formValue(fp.lastForm("introspect"), "token_type_hint"))

	intro, err = c.Introspect(ctx, "other", "")
	require.NoError(t, err)
	assert.False(t, intro.Active)

	require.NoError(t, c.Revoke(ctx, "rt-1", HintRefreshToken))
	assert.Equal(t, "rt-1", formValue(fp.lastForm("revoke"), "token"))
	assert.Equal(t, "client-1", basicUser(fp.lastRequest("revoke")))

	assert.Error(t, c.Revoke(ctx, "", ""))
}

func TestRedirectless(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{AuthMethod: flows.AuthNone})
	ctx := context.Background()

	req := c.NewAuthorizeRequest("code", []string{"openid"})
	req.State = "st-1"
	flow, err := c.StartRedirectless(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", flow.ID)
	assert.Equal(t, FlowStatusUsernamePasswordRequired, flow.Status)
	assert.Contains(t, flow.Links, "usernamePassword.check")
	assert.Equal(t, 2030, flow.ExpiresAt.Year())
	require.Len(t, flow.Cookies, 1)
	assert.Equal(t, "ST", flow.Cookies[0].Name)
	assert.Equal(t, flows.ResponseModePiFlow, fp.lastRequest("authorize").URL.Query().Get("response_mode"))

	_, err = c.SubmitCredentials(ctx, flow, "alice", "wrong")
	var oauthErr *apperrors.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, "invalid_data", oauthErr.Code)
	assert.Equal(t, "Invalid username or password.", oauthErr.Description)

	done, err := c.SubmitCredentials(ctx, flow, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, done.Completed())
	assert.Equal(t, "flow-1", done.ID)
	assert.Equal(t, "pi-code", done.AuthorizeResponse.Code)
	assert.Equal(t, "st-1", done.AuthorizeResponse.State)
	assert.Equal(t, 1, fp.hits("resume"))

	_, err = c.SubmitCredentials(ctx, done, "alice", "secret")
	assert.Error(t, err)
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client(t, ClientConfig{ClientSecret: "s3cret", AuthMethod: flows.AuthClientSecretPost})

	rec := &Recorder{}
	ctx := WithRecorder(context.Background(), rec)
	_, err := c.ExchangeCode(ctx, "code-1", "")
	require.NoError(t, err)
	_, err = c.UserInfo(context.Background(), "at-1")
	require.NoError(t, err)

	exchanges := rec.Exchanges()
	require.Len(t, exchanges, 1)
	ex := exchanges[0]
	assert.Equal(t, "POST", ex.Method)
	assert.Equal(t, 200, ex.Status)
	assert.NotContains(t, ex.RequestBody, "s3cret")
	assert.NotContains(t, ex.RequestBody, "code-1")
	assert.Contains(t, ex.RequestBody, "grant_type=authorization_code")
	assert.NotContains(t, ex.ResponseBody, "at-1")
	assert.NotContains(t, ex.ResponseBody, "rt-1")
	assert.Contains(t, ex.ResponseBody, "Bearer")
}

func TestDecodeIDToken(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"nonce": "n-1",
		"iat":   exp.Add(-time.Hour).Unix(),
		"exp":   exp.Unix(),
	})
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	decoded, err := DecodeIDToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "kid-1", decoded.Header["kid"])
	assert.Equal(t, "HS256", decoded.Header["alg"])
	assert.Equal(t, "n-1", decoded.Claims["nonce"])
	assert.True(t, decoded.Expired)
	assert.True(t, decoded.ExpiresAt.Equal(exp))
	assert.NotEmpty(t, decoded.Signature)

	_, err = DecodeIDToken("not-a-jwt")
	assert.Error(t, err)
}

func TestTokenSet_Merge(t *testing.T) {
	base := &TokenSet{AccessToken: "a1", RefreshToken: "r1", IDToken: "i1"}
	base.Merge(&TokenSet{AccessToken: "a2", ExpiresIn: 60})
	assert.Equal(t, "a2", base.AccessToken)
	assert.Equal(t, "r1", base.RefreshToken)
	assert.Equal(t, "i1", base.IDToken)
	assert.Equal(t, int64(60), base.ExpiresIn)

	front := TokenSetFromCallback(&CallbackResult{AccessToken: "at", ExpiresIn: 30}, time.Unix(100, 0))
	require.NotNil(t, front)
	assert.Equal(t, time.Unix(130, 0), front.Expiry)
	assert.Nil(t, TokenSetFromCallback(&CallbackResult{Code: "c"}, time.Now()))
}
