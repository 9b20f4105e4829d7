package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/stretchr/testify/require"
)

const testEnvID = "5f3c2a1e-7b9d-4c1a-8e2f-0a1b2c3d4e5f"

// fakeProvider is an httptest stand-in for the PingOne authorization server.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	requests map[string][]*http.Request
	forms    map[string][]map[string][]string

	tokenHandler http.HandlerFunc
	pollAnswers  []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		t:        t,
		requests: make(map[string][]*http.Request),
		forms:    make(map[string][]map[string][]string),
	}
	mux := http.NewServeMux()
	as := "/" + testEnvID + "/as"
	mux.HandleFunc(as+"/token", fp.record("token", fp.token))
	mux.HandleFunc(as+"/par", fp.record("par", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"request_uri": "urn:ietf:params:oauth:request_uri:abc", "expires_in": 60})
	}))
	mux.HandleFunc(as+"/device_authorization", fp.record("device", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":               "dev-123",
			"user_code":                 "ABCD-EFGH",
			"verification_uri":          fp.server.URL + "/activate",
			"verification_uri_complete": fp.server.URL + "/activate?user_code=ABCD-EFGH",
			"expires_in":                600,
			"interval":                  1,
		})
	}))
	mux.HandleFunc(as+"/userinfo", fp.record("userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub": "user-1", "email": "user@example.com"})
	}))
	mux.HandleFunc(as+"/introspect", fp.record("introspect", func(w http.ResponseWriter, r *http.Request) {
		active := r.PostForm.Get("token") == "at-1"
		writeJSON(w, http.StatusOK, map[string]any{"active": active, "scope": "openid", "client_id": "client-1", "sub": "user-1", "exp": 1900000000})
	}))
	mux.HandleFunc(as+"/revoke", fp.record("revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc(as+"/authorize", fp.record("authorize", fp.piFlowStart))
	mux.HandleFunc(as+"/resume", fp.record("resume", fp.piFlowResume))
	mux.HandleFunc("/"+testEnvID+"/flows/", fp.record("flow", fp.piFlowCheck))
	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) record(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			_ = r.ParseForm()
		}
		fp.mu.Lock()
		fp.requests[name] = append(fp.requests[name], r)
		fp.forms[name] = append(fp.forms[name], r.PostForm)
		fp.mu.Unlock()
		next(w, r)
	}
}

func (fp *fakeProvider) lastForm(name string) map[string][]string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	forms := fp.forms[name]
	require.NotEmpty(fp.t, forms, "no %s request", name)
	return forms[len(forms)-1]
}

func (fp *fakeProvider) lastRequest(name string) *http.Request {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	reqs := fp.requests[name]
	require.NotEmpty(fp.t, reqs, "no %s request", name)
	return reqs[len(reqs)-1]
}

func (fp *fakeProvider) hits(name string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.requests[name])
}

func (fp *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if fp.tokenHandler != nil {
		fp.tokenHandler(w, r)
		return
	}
	switch r.PostForm.Get("grant_type") {
	case flows.GrantDeviceCode:
		fp.mu.Lock()
		answer := "ok"
		if len(fp.pollAnswers) > 0 {
			answer, fp.pollAnswers = fp.pollAnswers[0], fp.pollAnswers[1:]
		}
		fp.mu.Unlock()
		if answer != "ok" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": answer})
			return
		}
	case flows.GrantAuthorizationCode:
		if r.PostForm.Get("code") != "code-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code expired"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "at-1",
		"refresh_token": "rt-1",
		"id_token":      "a.b.c",
		"token_type":    "Bearer",
		"scope":         "openid profile",
		"expires_in":    3600,
	})
}

func (fp *fakeProvider) piFlowStart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("response_mode") != flows.ResponseModePiFlow {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "ST", Value: "session-1", Path: "/"})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        "flow-1",
		"status":    FlowStatusUsernamePasswordRequired,
		"resumeUrl": fp.server.URL + "/" + testEnvID + "/as/resume?flowId=flow-1",
		"expiresAt": "2030-01-01T00:00:00Z",
		"_links": map[string]any{
			"usernamePassword.check": map[string]any{"href": fp.server.URL + "/" + testEnvID + "/flows/flow-1"},
		},
	})
}

func (fp *fakeProvider) piFlowCheck(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie("ST"); err != nil || ck.Value != "session-1" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_REQUEST", "message": "missing session"})
		return
	}
	if r.Header.Get("Content-Type") != usernamePasswordCheckType {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"code": "INVALID_REQUEST", "message": "bad content type"})
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Username != "alice" || body.Password != "secret" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    "INVALID_DATA",
			"message": "The request could not be completed.",
			"details": []any{map[string]any{"code": "INVALID_VALUE", "target": "password", "message": "Invalid username or password."}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        "flow-1",
		"status":    FlowStatusCompleted,
		"resumeUrl": fp.server.URL + "/" + testEnvID + "/as/resume?flowId=flow-1",
	})
}

func (fp *fakeProvider) piFlowResume(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie("ST"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_REQUEST", "message": "missing session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            FlowStatusCompleted,
		"authorizeResponse": map[string]any{"code": "pi-code", "state": "st-1"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fp *fakeProvider) client(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	endpoints, err := pingone.NewEndpoints(pingone.RegionNA, testEnvID, fp.server.URL)
	require.NoError(t, err)
	if cfg.ClientID == "" {
		cfg.ClientID = "client-1"
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = "http://localhost:3000/callback"
	}
	c, err := NewClient(endpoints, cfg, fp.server.Client())
	require.NoError(t, err)
	return c
}

func formValue(form map[string][]string, key string) string {
	if v := form[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func basicUser(r *http.Request) string {
	user, _, _ := r.BasicAuth()
	return strings.TrimSpace(user)
}
