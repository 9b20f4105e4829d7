package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/pkce"
	"github.com/flowlab/oauth-playground/internal/util"
)

// maxHistory bounds the step history kept per flow.
const maxHistory = 50

// Credentials is the application configuration entered for one flow.
type Credentials struct {
	EnvironmentID         string             `json:"environment_id"`
	Region                string             `json:"region,omitempty"`
	ClientID              string             `json:"client_id"`
	ClientSecret          string             `json:"client_secret,omitempty"`
	AuthMethod            flows.AuthMethod   `json:"auth_method,omitempty"`
	PrivateKeyPEM         string             `json:"private_key_pem,omitempty"`
	KeyID                 string             `json:"key_id,omitempty"`
	RedirectURI           string             `json:"redirect_uri,omitempty"`
	PostLogoutRedirectURI string             `json:"post_logout_redirect_uri,omitempty"`
	Scopes                []string           `json:"scopes,omitempty"`
	SpecVersion           flows.SpecVersion  `json:"spec_version,omitempty"`
	ResponseType          flows.ResponseType `json:"response_type,omitempty"`
	ResponseMode          string             `json:"response_mode,omitempty"`
	UsePKCE               bool               `json:"use_pkce,omitempty"`
	PKCEMethod            string             `json:"pkce_method,omitempty"`
	Prompt                string             `json:"prompt,omitempty"`
	LoginHint             string             `json:"login_hint,omitempty"`
	MaxAge                *int               `json:"max_age,omitempty"`
	ACRValues             string             `json:"acr_values,omitempty"`
	AuthorizationDetails  json.RawMessage    `json:"authorization_details,omitempty"`
	UpdatedAt             time.Time          `json:"updated_at,omitempty"`
}

// Request maps the credentials onto the validation input for kind.
func (c *Credentials) Request(kind flows.Kind) flows.Request {
	return flows.Request{
		Kind:                 kind,
		SpecVersion:          c.SpecVersion,
		ResponseType:         c.ResponseType,
		ResponseMode:         c.ResponseMode,
		AuthMethod:           c.AuthMethod,
		Scopes:               c.Scopes,
		RedirectURI:          c.RedirectURI,
		UsePKCE:              c.UsePKCE,
		PKCEMethod:           c.PKCEMethod,
		HasClientSecret:      c.ClientSecret != "",
		HasPrivateKey:        c.PrivateKeyPEM != "",
		AuthorizationDetails: c.AuthorizationDetails,
	}
}

// DefaultCredentials pre-fills the form for a flow nobody configured yet
// from the flow defaults and, when cfg is set, the configured provider.
func DefaultCredentials(def flows.Definition, cfg *config.Config) Credentials {
	creds := Credentials{
		AuthMethod:   def.DefaultAuthMethod,
		Scopes:       def.DefaultScopes,
		SpecVersion:  def.DefaultSpecVersion,
		UsePKCE:      def.RequiresPKCE,
		ResponseType: def.DefaultResponseType,
	}
	if cfg == nil {
		return creds
	}
	creds.EnvironmentID = cfg.Provider.EnvironmentID
	creds.Region = cfg.Provider.Region
	creds.ClientID = cfg.Defaults.ClientID
	if def.RequiresRedirect {
		creds.RedirectURI = cfg.Defaults.RedirectURI
	}
	if len(cfg.Defaults.Scopes) > 0 && def.Kind != flows.KindClientCredentials {
		creds.Scopes = cfg.Defaults.Scopes
	}
	// a default the flow cannot use keeps the flow's own default
	m := flows.AuthMethod(cfg.Defaults.AuthMethod)
	if m != "" && def.Kind != flows.KindDevice && slices.Contains(flows.ValidAuthMethods(def.Kind, def.DefaultSpecVersion), m) {
		creds.AuthMethod = m
	}
	return creds
}

// Redacted returns a copy safe to send to the browser: secrets are replaced
// by a marker so the form shows that one is set.
func (c Credentials) Redacted() Credentials {
	if c.ClientSecret != "" {
		c.ClientSecret = util.RedactedValue
	}
	if c.PrivateKeyPEM != "" {
		c.PrivateKeyPEM = util.RedactedValue
	}
	return c
}

// KeepSecrets copies secrets from prev where c carries the redaction marker,
// so a form posted back from the browser does not wipe them.
func (c *Credentials) KeepSecrets(prev *Credentials) {
	if prev == nil {
		return
	}
	if c.ClientSecret == util.RedactedValue {
		c.ClientSecret = prev.ClientSecret
	}
	if c.PrivateKeyPEM == util.RedactedValue {
		c.PrivateKeyPEM = prev.PrivateKeyPEM
	}
}

// Step outcomes.
const (
	StatusOK      = "ok"
	StatusPending = "pending"
	StatusError   = "error"
)

// Toast levels.
const (
	ToastSuccess = "success"
	ToastInfo    = "info"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Toast is the user facing notification for a step.
type Toast struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StepRecord is one executed step of a flow.
type StepRecord struct {
	Step      flows.Step       `json:"step"`
	Status    string           `json:"status"`
	At        time.Time        `json:"at"`
	Request   json.RawMessage  `json:"request,omitempty"`
	Response  json.RawMessage  `json:"response,omitempty"`
	Toast     *Toast           `json:"toast,omitempty"`
	Exchanges []oauth.Exchange `json:"exchanges,omitempty"`
}

// FlowState is the progress of one flow in one browser session.
type FlowState struct {
	FlowKey             flows.Kind                 `json:"flow_key"`
	Session             string                     `json:"session"`
	SpecVersion         flows.SpecVersion          `json:"spec_version,omitempty"`
	State               string                     `json:"state,omitempty"`
	Nonce               string                     `json:"nonce,omitempty"`
	PKCE                *pkce.Codes                `json:"pkce,omitempty"`
	AuthorizeURL        string                     `json:"authorize_url,omitempty"`
	PARRequestURI       string                     `json:"par_request_uri,omitempty"`
	PARExpiresAt        time.Time                  `json:"par_expires_at,omitempty"`
	Callback            *oauth.CallbackResult      `json:"callback,omitempty"`
	AuthCode            string                     `json:"auth_code,omitempty"`
	Tokens              *oauth.TokenSet            `json:"tokens,omitempty"`
	UserInfo            map[string]interface{}     `json:"userinfo,omitempty"`
	Introspection       *oauth.Introspection       `json:"introspection,omitempty"`
	DeviceAuthorization *oauth.DeviceAuthorization `json:"device_authorization,omitempty"`
	Redirectless        *oauth.FlowStatus          `json:"redirectless,omitempty"`
	CurrentStep         flows.Step                 `json:"current_step,omitempty"`
	History             []StepRecord               `json:"history,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

// RedirectlessFlowID returns the pi.flow id, if a redirectless flow started.
func (s *FlowState) RedirectlessFlowID() string {
	if s.Redirectless == nil {
		return ""
	}
	return s.Redirectless.ID
}

// AddStep appends rec to the history and advances CurrentStep on success.
func (s *FlowState) AddStep(rec StepRecord) {
	s.History = append(s.History, rec)
	if len(s.History) > maxHistory {
		s.History = append([]StepRecord(nil), s.History[len(s.History)-maxHistory:]...)
	}
	if rec.Status == StatusOK {
		s.CurrentStep = rec.Step
	}
}

// LastStep returns the most recent step, or nil.
func (s *FlowState) LastStep() *StepRecord {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}
