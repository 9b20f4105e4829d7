package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEnvID = "3c9e1a7b-2d4f-4e6a-9b8c-1f2e3d4c5b6a"

func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	as := "/" + testEnvID + "/as/"
	mux := http.NewServeMux()
	mux.HandleFunc(as+"token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("grant_type") == flows.GrantAuthorizationCode && r.PostForm.Get("code") != "code-1" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"scope":        "openid profile",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc(as+"userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": "user-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, baseURL string) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.Backend = config.BackendMemory
	cfg.StateDir = t.TempDir()
	cfg.Provider.BaseURLOverride = baseURL
	cfg.ApplyDefaults()
	vault := store.NewVault(store.NewMemoryStore(0), store.NewMemoryStore(time.Hour))
	return NewAppWithVault(cfg, vault)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestCallbackServer(t *testing.T) {
	srv := NewCallbackServer(0, "/cb")
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	require.Error(t, srv.Start())

	base := srv.URL()
	assert.True(t, strings.HasSuffix(base, "/cb"))

	resp, err := http.Get(base + "?code=abc&state=xyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := srv.WaitForCallback(context.Background(), time.Second)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.Equal(t, "/cb", u.Path)

	// fragment responses are posted back by the page
	resp, err = http.Get(base)
	require.NoError(t, err)
	var page bytes.Buffer
	_, _ = page.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, page.String(), "window.location.href")

	resp, err = http.PostForm(base, url.Values{"url": {"http://localhost/cb#access_token=at-1&state=xyz"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	raw, err = srv.WaitForCallback(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Contains(t, raw, "#access_token=at-1")

	resp, err = http.PostForm(base, url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPut, base, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, err = srv.WaitForCallback(context.Background(), 20*time.Millisecond)
	assert.ErrorContains(t, err, "timeout")
}

func TestPrompter_Ask(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		def     string
		want    string
		wantErr bool
	}{
		{"answer", "value\n", "", "value", false},
		{"blank takes default", "\n", "dflt", "dflt", false},
		{"trailing input without newline", "last", "", "last", false},
		{"eof takes default", "", "dflt", "dflt", false},
		{"eof without default", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := newPrompter(strings.NewReader(tt.input), &out)
			got, err := p.ask("Label", tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Label")
		})
	}
}

func TestRunFlow_ClientCredentialsPromptsForCredentials(t *testing.T) {
	provider := fakeProvider(t)
	app := newTestApp(t, provider.URL)

	// environment, client id, auth method, secret, scopes
	in := strings.NewReader(testEnvID + "\nclient-1\n\ns3cret\np1:read\n")
	var out bytes.Buffer
	err := RunFlow(context.Background(), app, flows.KindClientCredentials, RunOptions{In: in, Out: &out, NoBrowser: true})
	require.NoError(t, err)

	saved, err := app.Vault.LoadCredentials(context.Background(), flows.KindClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "client-1", saved.ClientID)
	assert.Equal(t, "s3cret", saved.ClientSecret)
	assert.Equal(t, []string{"p1:read"}, saved.Scopes)

	assert.Contains(t, out.String(), "Client Credentials")
	assert.Contains(t, out.String(), "at-1")
}

func TestRunFlow_InvalidCredentials(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1")
	// no secret for client_secret_basic
	in := strings.NewReader(testEnvID + "\nclient-1\n\n\n\n")
	err := RunFlow(context.Background(), app, flows.KindClientCredentials, RunOptions{In: in, Out: &bytes.Buffer{}})
	var problems flows.ProblemsError
	require.ErrorAs(t, err, &problems)

	_, err = app.Vault.LoadCredentials(context.Background(), flows.KindClientCredentials)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunFlow_AuthorizationCodeCatchesRedirect(t *testing.T) {
	provider := fakeProvider(t)
	app := newTestApp(t, provider.URL)
	port := freePort(t)
	redirect := fmt.Sprintf("http://localhost:%d/callback", port)
	require.NoError(t, app.Vault.SaveCredentials(context.Background(), flows.KindAuthorizationCode, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
		RedirectURI:   redirect,
		Scopes:        []string{"openid", "profile"},
	}))

	// the "browser" signs in and follows the redirect
	browser := func(authorize string) error {
		u, err := url.Parse(authorize)
		if err != nil {
			return err
		}
		state := u.Query().Get("state")
		go func() {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=code-1&state=%s", port, url.QueryEscape(state)))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	var out bytes.Buffer
	err := RunFlow(context.Background(), app, flows.KindAuthorizationCode, RunOptions{
		Out:             &out,
		In:              strings.NewReader(""),
		CallbackPort:    port,
		CallbackTimeout: 5 * time.Second,
		OpenBrowser:     browser,
	})
	require.NoError(t, err, out.String())

	st, err := app.Manager.Vault().LoadFlowState(context.Background(), "cli", flows.KindAuthorizationCode)
	require.NoError(t, err)
	require.NotNil(t, st.Tokens)
	assert.Equal(t, "at-1", st.Tokens.AccessToken)
	assert.Equal(t, "user-1", st.UserInfo["sub"])
	assert.Contains(t, out.String(), "Waiting for the redirect")
}

func TestResetFlows(t *testing.T) {
	app := newTestApp(t, "")
	ctx := context.Background()
	for _, kind := range []flows.Kind{flows.KindPKCE, flows.KindDevice} {
		require.NoError(t, app.Vault.SaveCredentials(ctx, kind, &store.Credentials{EnvironmentID: testEnvID, ClientID: "c"}))
	}

	cleared, err := ResetFlows(ctx, app, "pkce")
	require.NoError(t, err)
	assert.Equal(t, []flows.Kind{flows.KindPKCE}, cleared)
	saved, err := app.Vault.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	_, err = ResetFlows(ctx, app, "nope")
	assert.Error(t, err)

	cleared, err = ResetFlows(ctx, app, "all")
	require.NoError(t, err)
	assert.Len(t, cleared, len(flows.Kinds()))
	saved, err = app.Vault.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestExportImportCredentials(t *testing.T) {
	ctx := context.Background()
	src := newTestApp(t, "")
	require.NoError(t, src.Vault.SaveCredentials(ctx, flows.KindClientCredentials, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
	}))
	require.NoError(t, src.Vault.SaveCredentials(ctx, flows.KindDevice, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "device-1",
		AuthMethod:    flows.AuthNone,
		Scopes:        []string{"openid"},
	}))

	dir := t.TempDir()
	redacted := filepath.Join(dir, "redacted.json")
	full := filepath.Join(dir, "full.json")
	require.NoError(t, ExportCredentials(ctx, src, redacted, false))
	require.NoError(t, ExportCredentials(ctx, src, full, true))

	data, err := os.ReadFile(redacted)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.Contains(t, string(data), util.RedactedValue)

	dst := newTestApp(t, "")
	results, err := ImportCredentials(ctx, dst, redacted, false)
	require.NoError(t, err)
	status := map[flows.Kind]string{}
	for _, r := range results {
		status[r.Kind] = r.Status
	}
	assert.Equal(t, "skipped", status[flows.KindClientCredentials])
	assert.Equal(t, "imported", status[flows.KindDevice])

	results, err = ImportCredentials(ctx, dst, full, false)
	require.NoError(t, err)
	for _, r := range results {
		status[r.Kind] = r.Status
	}
	assert.Equal(t, "imported", status[flows.KindClientCredentials])
	assert.Equal(t, "skipped", status[flows.KindDevice])

	saved, err := dst.Vault.LoadCredentials(ctx, flows.KindClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", saved.ClientSecret)

	// a redacted bundle keeps the secret already saved
	results, err = ImportCredentials(ctx, dst, redacted, true)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "imported", r.Status, r.Kind)
	}
	saved, err = dst.Vault.LoadCredentials(ctx, flows.KindClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", saved.ClientSecret)
}

func TestGeneratePostman(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, "")

	_, err := GeneratePostman(ctx, app, PostmanOptions{OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "no flow has saved credentials")

	require.NoError(t, app.Vault.SaveCredentials(ctx, flows.KindClientCredentials, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
	}))
	dir := t.TempDir()
	res, err := GeneratePostman(ctx, app, PostmanOptions{OutputDir: dir, IncludeEnvironment: true, Name: "My Tests"})
	require.NoError(t, err)
	require.Len(t, res.Paths, 2)
	for _, p := range res.Paths {
		assert.FileExists(t, p)
		assert.True(t, strings.HasPrefix(filepath.Base(p), "my-tests."))
	}

	_, err = GeneratePostman(ctx, app, PostmanOptions{OutputDir: dir, Flows: []string{"pkce,device"}, Publish: true})
	assert.ErrorContains(t, err, "publishing needs")

	_, err = GeneratePostman(ctx, app, PostmanOptions{OutputDir: dir, Flows: []string{"bogus"}})
	assert.Error(t, err)
}

func TestFetchLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/logs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("n"))
		assert.Equal(t, "warn", r.URL.Query().Get("level"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": []logging.LogEntry{
			{Timestamp: time.Now(), Level: "warning", Message: "flow step failed"},
		}})
	}))
	t.Cleanup(srv.Close)

	app := newTestApp(t, "")
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	app.Config.Host = u.Hostname()
	app.Config.Port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)

	entries, err := fetchLogs(context.Background(), app, 5, "warn")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "flow step failed", entries[0].Message)

	app.Config.Port = freePort(t)
	_, err = fetchLogs(context.Background(), app, 5, "")
	assert.ErrorContains(t, err, "is the server running")
}

func TestServerURL(t *testing.T) {
	app := newTestApp(t, "")
	app.Config.Port = 3000
	tests := []struct{ host, want string }{
		{"", "http://localhost:3000"},
		{"0.0.0.0", "http://localhost:3000"},
		{"127.0.0.1", "http://127.0.0.1:3000"},
		{"::1", "http://[::1]:3000"},
	}
	for _, tt := range tests {
		app.Config.Host = tt.host
		assert.Equal(t, tt.want, serverURL(app), tt.host)
	}
}

func TestApp_ServicesAndClose(t *testing.T) {
	app := newTestApp(t, "")
	assert.Equal(t, []string{
		"config",
		"flow-manager <- config, vault, http-client",
		"http-client <- config",
		"vault",
	}, app.Services())
	assert.Same(t, app.Vault, app.Manager.Vault())
	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
}
