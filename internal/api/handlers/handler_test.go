package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/flowlab/oauth-playground/internal/api/middleware"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEnvID = "0d4f8e2a-6c1b-4f3e-9a7d-2b5c8e1f0a93"

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider answers the token and discovery endpoints.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	as := "/" + testEnvID + "/as"
	mux.HandleFunc(as+"/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") == "bad" {
			writeJSON(w, http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "code expired"})
			return
		}
		writeJSON(w, http.StatusOK, gin.H{"access_token": "at-1", "refresh_token": "rt-1", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc(as+"/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gin.H{
			"issuer":                   srv.URL + as,
			"authorization_endpoint":   srv.URL + as + "/authorize",
			"token_endpoint":           srv.URL + as + "/token",
			"jwks_uri":                 srv.URL + as + "/jwks",
			"response_types_supported": []string{"code", "id_token"},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testApp struct {
	engine  *gin.Engine
	vault   *store.Vault
	console *logging.RingBuffer
	cookies []*http.Cookie
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()
	provider := fakeProvider(t)
	cfg := &config.Config{}
	cfg.Provider.BaseURLOverride = provider.URL
	cfg.Provider.EnvironmentID = testEnvID
	cfg.MockCompanies = []config.MockCompany{{ID: "acme", Name: "Acme Corp"}}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}

	vault := store.NewVault(store.NewMemoryStore(0), store.NewMemoryStore(time.Hour))
	manager := controller.NewManager(vault, controller.Options{
		HTTPClient:      provider.Client(),
		BaseURLOverride: provider.URL,
	})
	console := logging.NewRingBuffer(16)
	h := NewHandler(cfg, manager, provider.Client(), console)

	engine := gin.New()
	engine.Use(middleware.SessionMiddleware(middleware.NewSessionStore([]byte("test-secret-test-secret-test-sec"), false)))
	tmpl, err := Templates()
	require.NoError(t, err)
	engine.SetHTMLTemplate(tmpl)
	h.Register(engine)
	return &testApp{engine: engine, vault: vault, console: console}
}

// do sends a request carrying the session cookie of earlier responses.
func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range a.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		a.cookies = cookies
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func clientCredentials() store.Credentials {
	return store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
		AuthMethod:    flows.AuthClientSecretBasic,
		Scopes:        []string{"api:read"},
	}
}

func TestListFlows(t *testing.T) {
	app := newTestApp(t, nil)
	w := app.do(t, http.MethodGet, "/api/flows", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	list, ok := body["flows"].([]any)
	require.True(t, ok)
	assert.Len(t, list, len(flows.Catalog()))
	first := list[0].(map[string]any)
	assert.Equal(t, false, first["configured"])
	assert.NotEmpty(t, app.cookies, "session cookie should be issued")
}

func TestUnknownFlow(t *testing.T) {
	app := newTestApp(t, nil)
	w := app.do(t, http.MethodPost, "/api/flows/nope/begin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_flow", decode(t, w)["code"])
}

func TestCredentials_RoundTrip(t *testing.T) {
	app := newTestApp(t, nil)
	path := "/api/credentials/" + string(flows.KindClientCredentials)

	w := app.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["configured"])

	invalid := clientCredentials()
	invalid.ClientSecret = ""
	w = app.do(t, http.MethodPut, path, invalid)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid_configuration", body["code"])
	problems := body["details"].(map[string]any)["problems"].([]any)
	assert.Equal(t, "client_secret", problems[0].(map[string]any)["field"])

	w = app.do(t, http.MethodPut, path, clientCredentials())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode(t, w)["credentials"].(map[string]any)
	assert.Equal(t, util.RedactedValue, saved["client_secret"])

	// posting the redacted form back keeps the stored secret
	redacted := clientCredentials()
	redacted.ClientSecret = util.RedactedValue
	redacted.Scopes = []string{"api:write"}
	w = app.do(t, http.MethodPut, path, redacted)
	require.Equal(t, http.StatusOK, w.Code)
	stored, err := app.vault.LoadCredentials(context.Background(), flows.KindClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored.ClientSecret)
	assert.Equal(t, []string{"api:write"}, stored.Scopes)

	w = app.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err = app.vault.LoadCredentials(context.Background(), flows.KindClientCredentials)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBegin_NoCredentials(t *testing.T) {
	app := newTestApp(t, nil)
	w := app.do(t, http.MethodPost, "/api/flows/client-credentials/begin", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "no_credentials", decode(t, w)["code"])
}

func TestClientCredentials_BeginAndQuery(t *testing.T) {
	app := newTestApp(t, nil)
	creds := clientCredentials()
	require.NoError(t, app.vault.SaveCredentials(context.Background(), flows.KindClientCredentials, &creds))

	w := app.do(t, http.MethodPost, "/api/flows/client-credentials/begin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	steps := body["steps"].([]any)
	require.Len(t, steps, 1)
	assert.Equal(t, string(flows.StepToken), steps[0].(map[string]any)["step"])
	state := body["state"].(map[string]any)
	assert.Equal(t, "at-1", state["tokens"].(map[string]any)["access_token"])

	tests := []struct {
		name   string
		query  string
		status int
		want   []any
	}{
		{name: "access token", query: ".tokens.access_token", status: http.StatusOK, want: []any{"at-1"}},
		{name: "history steps", query: "[.history[].step]", status: http.StatusOK, want: []any{[]any{"token"}}},
		{name: "parse error", query: ".tokens[", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, http.MethodGet, "/api/flows/client-credentials/state?q="+url.QueryEscape(tt.query), nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.want != nil {
				assert.Equal(t, tt.want, decode(t, w)["results"])
			}
		})
	}

	w = app.do(t, http.MethodPost, "/api/flows/client-credentials/reset", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = app.do(t, http.MethodGet, "/api/flows/client-credentials/state", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorizationCode_CallbackPage(t *testing.T) {
	app := newTestApp(t, nil)
	creds := clientCredentials()
	creds.Scopes = []string{"openid", "profile"}
	creds.RedirectURI = "http://localhost:3000/callback"
	require.NoError(t, app.vault.SaveCredentials(context.Background(), flows.KindAuthorizationCode, &creds))

	w := app.do(t, http.MethodPost, "/api/flows/authorization-code/begin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode(t, w)["state"].(map[string]any)["state"].(string)
	require.NotEmpty(t, state)

	w = app.do(t, http.MethodGet, "/callback?code=good&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/flows/authorization-code", w.Header().Get("Location"))

	w = app.do(t, http.MethodPost, "/api/flows/authorization-code/exchange", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tokens := decode(t, w)["state"].(map[string]any)["tokens"].(map[string]any)
	assert.Equal(t, "rt-1", tokens["refresh_token"])

	// the code is single use
	w = app.do(t, http.MethodPost, "/api/flows/authorization-code/exchange", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCallbackAnyFlow_UnknownState(t *testing.T) {
	app := newTestApp(t, nil)
	w := app.do(t, http.MethodPost, "/api/callback", gin.H{"url": "http://localhost:3000/callback#access_token=x&state=nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, "/api/callback", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidate(t *testing.T) {
	app := newTestApp(t, nil)
	tests := []struct {
		name      string
		flow      string
		creds     store.Credentials
		wantValid bool
	}{
		{name: "client credentials", flow: "client-credentials", creds: clientCredentials(), wantValid: true},
		{name: "openid without user", flow: "client-credentials", creds: func() store.Credentials {
			c := clientCredentials()
			c.Scopes = []string{"openid"}
			return c
		}()},
		{name: "pkce without use_pkce", flow: "pkce", creds: store.Credentials{RedirectURI: "http://localhost/cb", Scopes: []string{"openid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, http.MethodPost, "/api/validate", gin.H{"flow": tt.flow, "credentials": tt.creds})
			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantValid, body["valid"])
			assert.NotEmpty(t, body["auth_methods"])
		})
	}
}

func TestDiscovery(t *testing.T) {
	app := newTestApp(t, nil)
	w := app.do(t, http.MethodGet, "/api/discovery", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode(t, w)["discovery"].(map[string]any)
	assert.True(t, strings.HasSuffix(doc["issuer"].(string), "/"+testEnvID+"/as"))

	w = app.do(t, http.MethodGet, "/api/discovery?environment_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecode(t *testing.T) {
	app := newTestApp(t, nil)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	w := app.do(t, http.MethodPost, "/api/decode", gin.H{"token": raw})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(map[string]any)
	assert.Equal(t, "user-1", token["claims"].(map[string]any)["sub"])
	assert.Equal(t, "HS256", token["header"].(map[string]any)["alg"])

	w = app.do(t, http.MethodPost, "/api/decode", gin.H{"token": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostman_UseSaved(t *testing.T) {
	app := newTestApp(t, nil)
	creds := clientCredentials()
	require.NoError(t, app.vault.SaveCredentials(context.Background(), flows.KindClientCredentials, &creds))

	w := app.do(t, http.MethodPost, "/api/postman", gin.H{
		"flows":               []string{"client-credentials"},
		"use_saved":           true,
		"include_environment": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	files := decode(t, w)["files"].([]any)
	require.Len(t, files, 2)
	env := files[1].(map[string]any)
	assert.True(t, strings.HasSuffix(env["name"].(string), ".postman_environment.json"))
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = app.do(t, http.MethodPost, "/api/postman", gin.H{"flows": []string{"client-credentials"}, "use_saved": true, "publish": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "publish_disabled", decode(t, w)["code"])

	w = app.do(t, http.MethodPost, "/api/postman", gin.H{"flows": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogs(t *testing.T) {
	app := newTestApp(t, nil)
	app.console.Write(logging.LogEntry{Timestamp: time.Now(), Level: "debug", Message: "noise"})
	app.console.Write(logging.LogEntry{Timestamp: time.Now(), Level: "warn", Message: "careful"})

	w := app.do(t, http.MethodGet, "/api/logs?n=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["entries"], 2)

	w = app.do(t, http.MethodGet, "/api/logs?level="+log.InfoLevel.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "careful", entries[0].(map[string]any)["message"])

	w = app.do(t, http.MethodGet, "/api/logs?n=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPages(t *testing.T) {
	app := newTestApp(t, nil)
	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{name: "index", path: "/", status: http.StatusOK, want: "Acme Corp"},
		{name: "flow", path: "/flows/pkce", status: http.StatusOK, want: "Use PKCE"},
		{name: "fragment callback", path: "/callback", status: http.StatusOK, want: "/api/callback"},
		{name: "mock login", path: "/mock/acme/login", status: http.StatusOK, want: "Sign in to Acme Corp"},
		{name: "unknown company", path: "/mock/globex/login", status: http.StatusNotFound},
		{name: "unknown flow", path: "/flows/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, w.Code)
			if tt.want != "" {
				assert.Contains(t, w.Body.String(), tt.want)
			}
		})
	}
}

func TestMockLoginSubmit_MissingFields(t *testing.T) {
	app := newTestApp(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/mock/acme/login", strings.NewReader("username=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Enter your username and password.")
}
