// Package controller runs the OAuth flows step by step. Every step loads the
// session's flow state, performs at most one provider call (Inspect makes
// two in parallel), records the redacted HTTP exchange and a toast on the
// step history, and saves the state again.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/store"
	log "github.com/sirupsen/logrus"
)

// StepResult is one executed step as stored on the flow history.
type StepResult = store.StepRecord

// Toast is the notification shown for a step.
type Toast = store.Toast

var (
	// ErrNoCredentials is returned when the flow has no saved application.
	ErrNoCredentials = errors.New("controller: no credentials saved for this flow")
	// ErrWrongStep is returned when an operation does not fit the flow or
	// its current progress.
	ErrWrongStep = errors.New("controller: step not available")
	// ErrNonceMismatch is returned when an ID token carries another nonce.
	ErrNonceMismatch = errors.New("controller: id_token nonce does not match")
)

// Options configure a Manager.
type Options struct {
	// HTTPClient is the base client for provider calls, typically with the
	// outbound proxy applied.
	HTTPClient *http.Client
	// Region is used when saved credentials name none.
	Region string
	// BaseURLOverride replaces the regional auth host.
	BaseURLOverride string
	// LogExchanges logs every provider request and response, redacted.
	LogExchanges bool
}

// Manager owns one Controller per flow kind.
type Manager struct {
	controllers map[flows.Kind]*Controller
	vault       *store.Vault
}

// NewManager builds a controller for every flow in the catalog.
func NewManager(vault *store.Vault, opts Options) *Manager {
	m := &Manager{controllers: make(map[flows.Kind]*Controller), vault: vault}
	locks := &sessionLocks{locks: make(map[string]*lockEntry)}
	for _, def := range flows.Catalog() {
		m.controllers[def.Kind] = &Controller{
			kind:  def.Kind,
			def:   def,
			vault: vault,
			opts:  opts,
			locks: locks,
			now:   time.Now,
		}
	}
	return m
}

// Controller returns the controller for kind.
func (m *Manager) Controller(kind flows.Kind) (*Controller, error) {
	c, ok := m.controllers[kind]
	if !ok {
		return nil, apperrors.NotFound("unknown_flow", fmt.Sprintf("unknown flow %q", kind))
	}
	return c, nil
}

// Vault returns the store the controllers share.
func (m *Manager) Vault() *store.Vault {
	return m.vault
}

// Controller runs the steps of one flow kind.
type Controller struct {
	kind  flows.Kind
	def   flows.Definition
	vault *store.Vault
	opts  Options
	locks *sessionLocks
	now   func() time.Time
}

// Kind returns the flow the controller runs.
func (c *Controller) Kind() flows.Kind {
	return c.kind
}

// Definition returns the static flow description.
func (c *Controller) Definition() flows.Definition {
	return c.def
}

// State returns the session's progress, or store.ErrNotFound.
func (c *Controller) State(ctx context.Context, session string) (*store.FlowState, error) {
	return c.vault.LoadFlowState(ctx, session, c.kind)
}

// Reset drops the session's progress. Saved credentials are kept.
func (c *Controller) Reset(ctx context.Context, session string) error {
	unlock := c.locks.lock(session + ":" + string(c.kind))
	defer unlock()
	return c.vault.ResetFlow(ctx, session, c.kind)
}

// Client builds the provider client from the saved credentials.
func (c *Controller) Client(ctx context.Context) (*oauth.Client, *store.Credentials, error) {
	creds, err := c.vault.LoadCredentials(ctx, c.kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNoCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	regionName := creds.Region
	if regionName == "" {
		regionName = c.opts.Region
	}
	region, err := pingone.ParseRegion(regionName)
	if err != nil {
		return nil, nil, err
	}
	endpoints, err := pingone.NewEndpoints(region, creds.EnvironmentID, c.opts.BaseURLOverride)
	if err != nil {
		return nil, nil, err
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = c.def.DefaultScopes
	}
	method := creds.AuthMethod
	if method == "" {
		method = c.def.DefaultAuthMethod
	}
	client, err := oauth.NewClient(endpoints, oauth.ClientConfig{
		ClientID:      creds.ClientID,
		ClientSecret:  creds.ClientSecret,
		AuthMethod:    method,
		PrivateKeyPEM: creds.PrivateKeyPEM,
		KeyID:         creds.KeyID,
		RedirectURI:   creds.RedirectURI,
		Scopes:        scopes,
	}, c.opts.HTTPClient)
	if err != nil {
		return nil, nil, err
	}
	return client, creds, nil
}

// stepFunc performs one step against st and returns what to show as the
// step's request and response.
type stepFunc func(ctx context.Context, st *store.FlowState, client *oauth.Client, creds *store.Credentials) (request, response interface{}, err error)

// run executes fn as step for session and persists the outcome. The
// returned result is set even when err is not nil.
func (c *Controller) run(ctx context.Context, session string, step flows.Step, fn stepFunc) (*StepResult, error) {
	unlock := c.locks.lock(session + ":" + string(c.kind))
	defer unlock()

	st, err := c.vault.LoadOrNewFlowState(ctx, session, c.kind)
	if err != nil {
		return nil, err
	}
	client, creds, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}

	result := c.exec(ctx, st, client, creds, step, fn)
	if err = c.vault.SaveFlowState(ctx, st); err != nil {
		return &result.record, err
	}
	return &result.record, result.err
}

type execResult struct {
	record StepResult
	err    error
}

// exec runs fn with a fresh recorder and appends the step to st.
func (c *Controller) exec(ctx context.Context, st *store.FlowState, client *oauth.Client, creds *store.Credentials, step flows.Step, fn stepFunc) execResult {
	rec := &oauth.Recorder{}
	start := c.now()
	request, response, stepErr := fn(oauth.WithRecorder(ctx, rec), st, client, creds)

	result := StepResult{
		Step:      step,
		At:        start,
		Request:   marshalRaw(request),
		Response:  marshalRaw(response),
		Exchanges: rec.Exchanges(),
	}
	result.Status, result.Toast = c.outcome(step, stepErr)
	st.AddStep(result)
	observeStep(c.kind, step, result.Status, c.now().Sub(start))

	fields := log.Fields{"flow": c.kind, "step": step, "status": result.Status}
	if c.opts.LogExchanges {
		logExchanges(fields, result.Exchanges)
	}
	if stepErr != nil && result.Status == store.StatusError {
		log.WithFields(fields).WithError(stepErr).Warn("flow step failed")
	} else {
		log.WithFields(fields).Debug("flow step finished")
	}
	return execResult{record: result, err: stepErr}
}

// outcome maps a step error onto a status and toast.
func (c *Controller) outcome(step flows.Step, err error) (string, *Toast) {
	title := stepTitle(c.def, step)
	if err == nil {
		return store.StatusOK, &Toast{Level: store.ToastSuccess, Title: title, Message: "Completed."}
	}
	if errors.Is(err, oauth.ErrAuthorizationPending) || errors.Is(err, oauth.ErrSlowDown) {
		var oe *apperrors.OAuthError
		errors.As(err, &oe)
		return store.StatusPending, &Toast{Level: store.ToastInfo, Title: title, Message: apperrors.FriendlyMessage(oe.Code), Code: oe.Code}
	}
	var oe *apperrors.OAuthError
	if errors.As(err, &oe) {
		msg := apperrors.FriendlyMessage(oe.Code)
		if oe.Description != "" {
			msg = oe.Description + ". " + msg
		}
		return store.StatusError, &Toast{Level: store.ToastError, Title: title, Message: msg, Code: oe.Code}
	}
	var problems flows.ProblemsError
	if errors.As(err, &problems) {
		return store.StatusError, &Toast{Level: store.ToastWarning, Title: title, Message: problems.Error(), Code: "invalid_configuration"}
	}
	return store.StatusError, &Toast{Level: store.ToastError, Title: title, Message: err.Error()}
}

func logExchanges(fields log.Fields, exchanges []oauth.Exchange) {
	for _, ex := range exchanges {
		log.WithFields(fields).WithFields(log.Fields{
			"method":        ex.Method,
			"url":           ex.URL,
			"http_status":   ex.Status,
			"duration_ms":   ex.DurationMS,
			"request_body":  ex.RequestBody,
			"response_body": ex.ResponseBody,
		}).Info("provider exchange")
	}
}

func stepTitle(def flows.Definition, step flows.Step) string {
	for _, s := range def.Steps {
		if s.ID == step {
			return s.Title
		}
	}
	return strings.ReplaceAll(string(step), "_", " ")
}

func marshalRaw(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Debug("step payload not serializable")
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return data
}

// sessionLocks serializes steps of the same session and flow.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (s *sessionLocks) lock(key string) func() {
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
