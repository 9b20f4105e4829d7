package tui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEnvID = "9b2e4c6a-1d3f-4a5b-8c7d-6e5f4a3b2c1d"

func newTestModel(t *testing.T) (Model, *store.Vault) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+testEnvID+"/as/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	vault := store.NewVault(store.NewMemoryStore(0), store.NewMemoryStore(time.Hour))
	manager := controller.NewManager(vault, controller.Options{HTTPClient: srv.Client(), BaseURLOverride: srv.URL})
	m := NewModel(context.Background(), manager, Options{Session: "test", Console: logging.NewRingBuffer(10)})
	return m, vault
}

func saveClientCredentials(t *testing.T, vault *store.Vault) {
	t.Helper()
	require.NoError(t, vault.SaveCredentials(context.Background(), flows.KindClientCredentials, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
		AuthMethod:    flows.AuthClientSecretBasic,
	}))
}

func cursorFor(kind flows.Kind) int {
	for i, def := range flows.Catalog() {
		if def.Kind == kind {
			return i
		}
	}
	return -1
}

func press(m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// stepDone runs cmd, unwrapping batches, and returns the step outcome.
func stepDone(t *testing.T, cmd tea.Cmd) stepDoneMsg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	if done, ok := msg.(stepDoneMsg); ok {
		return done
	}
	batch, ok := msg.(tea.BatchMsg)
	require.True(t, ok, "unexpected message %T", msg)
	for _, c := range batch {
		if c == nil {
			continue
		}
		if done, ok := c().(stepDoneMsg); ok {
			return done
		}
	}
	t.Fatal("no step result in batch")
	return stepDoneMsg{}
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

func TestActionFor(t *testing.T) {
	authcode, _ := flows.Lookup(flows.KindAuthorizationCode)
	par, _ := flows.Lookup(flows.KindPAR)
	device, _ := flows.Lookup(flows.KindDevice)
	redirectless, _ := flows.Lookup(flows.KindRedirectless)

	tests := []struct {
		name string
		def  flows.Definition
		step flows.Step
		want action
	}{
		{"first step begins", authcode, flows.StepAuthorize, actionBegin},
		{"callback pastes", authcode, flows.StepCallback, actionPaste},
		{"exchange", authcode, flows.StepExchange, actionExchange},
		{"refresh", authcode, flows.StepRefresh, actionRefresh},
		{"par authorize opens browser", par, flows.StepAuthorize, actionOpen},
		{"device poll", device, flows.StepDevicePoll, actionPoll},
		{"redirectless login", redirectless, flows.StepLogin, actionLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := -1
			for i, s := range tt.def.Steps {
				if s.ID == tt.step {
					idx = i
					break
				}
			}
			require.GreaterOrEqual(t, idx, 0)
			assert.Equal(t, tt.want, actionFor(&tt.def, idx))
		})
	}
}

func TestModel_UnconfiguredFlowOpensForm(t *testing.T) {
	m, _ := newTestModel(t)
	m.cursor = cursorFor(flows.KindClientCredentials)

	m, _ = press(m, enter)
	assert.Equal(t, screenForm, m.screen)
	assert.Equal(t, flows.KindClientCredentials, m.kind)
	assert.Contains(t, m.View(), "Environment ID")
}

func TestModel_SaveCredentials(t *testing.T) {
	m, vault := newTestModel(t)
	m.cursor = cursorFor(flows.KindClientCredentials)
	m, _ = press(m, enter)
	require.Equal(t, screenForm, m.screen)

	set := func(key, value string) {
		for i := range m.form.fields {
			if m.form.fields[i].key == key {
				m.form.fields[i].input.SetValue(value)
			}
		}
	}

	// Missing environment and client id.
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
	assert.NotEmpty(t, m.form.problems)

	set("environment_id", testEnvID)
	set("client_id", "client-1")
	set("client_secret", "s3cret")
	m, cmd = press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	assert.Empty(t, m.form.problems)

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, screenFlow, m.screen)
	assert.True(t, m.configured[flows.KindClientCredentials])

	saved, err := vault.LoadCredentials(context.Background(), flows.KindClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "client-1", saved.ClientID)
	assert.Equal(t, "s3cret", saved.ClientSecret)
}

func TestModel_RunClientCredentials(t *testing.T) {
	m, vault := newTestModel(t)
	saveClientCredentials(t, vault)
	m.refreshConfigured()
	m.cursor = cursorFor(flows.KindClientCredentials)

	m, cmd := press(m, enter)
	require.Equal(t, screenFlow, m.screen)
	next, _ := m.Update(stepDone(t, cmd))
	m = next.(Model)
	assert.Nil(t, m.last)

	m, cmd = press(m, enter)
	assert.True(t, m.busy)
	next, _ = m.Update(stepDone(t, cmd))
	m = next.(Model)

	assert.False(t, m.busy)
	require.NotNil(t, m.last)
	assert.Equal(t, flows.StepToken, m.last.Step)
	assert.Equal(t, store.StatusOK, m.last.Status)
	require.NotNil(t, m.toast)
	assert.Equal(t, store.ToastSuccess, m.toast.Level)
	require.NotNil(t, m.state)
	require.NotNil(t, m.state.Tokens)
	assert.Equal(t, "at-1", m.state.Tokens.AccessToken)
	assert.Contains(t, m.View(), "Completed.")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, m.state)
	assert.Equal(t, "Flow reset.", m.message)

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, screenFlows, m.screen)
	assert.Equal(t, flows.Kind(""), m.kind)
}

func TestModel_StaleStepResultIgnored(t *testing.T) {
	m, _ := newTestModel(t)
	m.kind = flows.KindDevice
	m.screen = screenFlow

	next, _ := m.Update(stepDoneMsg{kind: flows.KindPKCE, results: []*controller.StepResult{{Step: flows.StepExchange}}})
	m = next.(Model)
	assert.Nil(t, m.last)
}

func TestModel_CallbackWithoutRedirectFlow(t *testing.T) {
	m, _ := newTestModel(t)
	m.kind = flows.KindClientCredentials
	m.screen = screenFlow

	next, _ := m.Update(callbackMsg("http://localhost:3001/callback?code=abc&state=xyz"))
	m = next.(Model)
	assert.False(t, m.busy)
	assert.Contains(t, m.message, "no redirect based flow")
}

func TestModel_CallbackFeedsOpenFlow(t *testing.T) {
	m, vault := newTestModel(t)
	require.NoError(t, vault.SaveCredentials(context.Background(), flows.KindAuthorizationCode, &store.Credentials{
		EnvironmentID: testEnvID,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
		RedirectURI:   "http://localhost:3001/callback",
		Scopes:        []string{"openid"},
	}))
	m.kind = flows.KindAuthorizationCode
	m.screen = screenFlow

	next, cmd := m.Update(callbackMsg("http://localhost:3001/callback?code=abc&state=unknown"))
	m = next.(Model)
	assert.True(t, m.busy)

	next, _ = m.Update(stepDone(t, cmd))
	m = next.(Model)
	require.NotNil(t, m.last)
	assert.Equal(t, flows.StepCallback, m.last.Step)
	assert.Equal(t, store.StatusError, m.last.Status)
}

func TestModel_LogsScreen(t *testing.T) {
	m, _ := newTestModel(t)
	m.opts.Console.Write(logging.LogEntry{Timestamp: time.Now(), Level: "info", Message: "token issued"})

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	assert.Equal(t, screenLogs, m.screen)
	assert.Contains(t, m.View(), "token issued")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, screenFlows, m.screen)
}

func TestPrettyJSON(t *testing.T) {
	raw := json.RawMessage(`{"a":1,"b":2,"c":3,"d":4}`)
	out := prettyJSON(raw, 80, 3)
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "…", lines[3])

	assert.Equal(t, "not json", prettyJSON(json.RawMessage("not json"), 80, 3))
}
