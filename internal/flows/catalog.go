// Package flows holds the static description of every OAuth flow the
// playground teaches: which steps it has, which response types and client
// authentication methods are legal per protocol version, and the rules used
// to validate a credential form before any request is sent.
package flows

import (
	"fmt"
	"strings"
)

// Kind identifies a flow.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization-code"
	KindPKCE              Kind = "pkce"
	KindImplicit          Kind = "implicit"
	KindClientCredentials Kind = "client-credentials"
	KindDevice            Kind = "device"
	KindHybrid            Kind = "hybrid"
	KindPAR               Kind = "par"
	KindRAR               Kind = "rar"
	KindRedirectless      Kind = "redirectless"
)

// SpecVersion is the protocol profile a flow is run under.
type SpecVersion string

const (
	OAuth20 SpecVersion = "oauth2.0"
	OAuth21 SpecVersion = "oauth2.1"
	OIDC    SpecVersion = "oidc"
)

// AuthMethod is a token endpoint client authentication method.
type AuthMethod string

const (
	AuthNone              AuthMethod = "none"
	AuthClientSecretBasic AuthMethod = "client_secret_basic"
	AuthClientSecretPost  AuthMethod = "client_secret_post"
	AuthClientSecretJWT   AuthMethod = "client_secret_jwt"
	AuthPrivateKeyJWT     AuthMethod = "private_key_jwt"
)

// NeedsSecret reports whether the method uses the shared client secret.
func (m AuthMethod) NeedsSecret() bool {
	return m == AuthClientSecretBasic || m == AuthClientSecretPost || m == AuthClientSecretJWT
}

// ResponseType is an authorize response_type value.
type ResponseType string

const (
	ResponseCode             ResponseType = "code"
	ResponseToken            ResponseType = "token"
	ResponseIDToken          ResponseType = "id_token"
	ResponseIDTokenToken     ResponseType = "id_token token"
	ResponseCodeIDToken      ResponseType = "code id_token"
	ResponseCodeToken        ResponseType = "code token"
	ResponseCodeIDTokenToken ResponseType = "code id_token token"
)

// Includes reports whether part is one of the space separated members.
func (r ResponseType) Includes(part string) bool {
	for _, p := range strings.Fields(string(r)) {
		if p == part {
			return true
		}
	}
	return false
}

// DefaultResponseMode is the mode the provider uses when none is requested.
func (r ResponseType) DefaultResponseMode() string {
	if r == ResponseCode || r == "" {
		return "query"
	}
	return "fragment"
}

// Grant types sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// ResponseModePiFlow is the PingOne redirectless response mode.
const ResponseModePiFlow = "pi.flow"

// Step names a single network interaction in a flow.
type Step string

const (
	StepPAR                 Step = "par"
	StepAuthorize           Step = "authorize"
	StepCallback            Step = "callback"
	StepLogin               Step = "login"
	StepExchange            Step = "exchange"
	StepToken               Step = "token"
	StepDeviceAuthorization Step = "device_authorization"
	StepDevicePoll          Step = "device_poll"
	StepUserInfo            Step = "userinfo"
	StepIntrospect          Step = "introspect"
	StepRefresh             Step = "refresh"
	StepRevoke              Step = "revoke"
)

// StepInfo describes a step for the wizard.
type StepInfo struct {
	ID          Step   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Definition is the static description of a flow.
type Definition struct {
	Kind                Kind           `json:"kind"`
	Title               string         `json:"title"`
	Summary             string         `json:"summary"`
	RFCs                []string       `json:"rfcs"`
	Steps               []StepInfo     `json:"steps"`
	GrantType           string         `json:"grant_type,omitempty"`
	DefaultResponseType ResponseType   `json:"default_response_type,omitempty"`
	DefaultAuthMethod   AuthMethod     `json:"default_auth_method"`
	DefaultScopes       []string       `json:"default_scopes"`
	RequiresRedirect    bool           `json:"requires_redirect"`
	SupportsPKCE        bool           `json:"supports_pkce"`
	RequiresPKCE        bool           `json:"requires_pkce"`
	SupportsRefresh     bool           `json:"supports_refresh"`
	SpecVersions        []SpecVersion  `json:"spec_versions"`
	DefaultSpecVersion  SpecVersion    `json:"default_spec_version"`
	ResponseTypes       []ResponseType `json:"response_types,omitempty"`
	AuthMethods         []AuthMethod   `json:"auth_methods"`
}

// HasStep reports whether the flow includes step.
func (d *Definition) HasStep(step Step) bool {
	for _, s := range d.Steps {
		if s.ID == step {
			return true
		}
	}
	return false
}

var (
	stepPAR = StepInfo{StepPAR, "Push authorization request",
		"POST the authorize parameters to the PAR endpoint over the back channel and receive a short-lived request_uri."}
	stepAuthorize = StepInfo{StepAuthorize, "Build authorize URL",
		"Assemble the authorization request and send the browser to the provider's authorize endpoint."}
	stepCallback = StepInfo{StepCallback, "Handle callback",
		"Parse the redirect back to the app, check state and read the code or tokens from the query or fragment."}
	stepLogin = StepInfo{StepLogin, "Submit credentials",
		"Post username and password to the flow API. No browser redirect happens; the flow completes with an authorize response."}
	stepExchange = StepInfo{StepExchange, "Exchange code",
		"Trade the authorization code (and PKCE verifier) for tokens at the token endpoint."}
	stepToken = StepInfo{StepToken, "Request token",
		"Authenticate as the client and request an access token with the client_credentials grant."}
	stepDeviceAuthorization = StepInfo{StepDeviceAuthorization, "Start device authorization",
		"Request a device code and a short user code the user types on a second device."}
	stepDevicePoll = StepInfo{StepDevicePoll, "Poll for tokens",
		"Poll the token endpoint at the advertised interval until the user approves, denies or the code expires."}
	stepUserInfo = StepInfo{StepUserInfo, "Call userinfo",
		"Use the access token to read the signed-in user's claims."}
	stepIntrospect = StepInfo{StepIntrospect, "Introspect token",
		"Ask the provider whether the access token is active and what it grants."}
	stepRefresh = StepInfo{StepRefresh, "Refresh tokens",
		"Use the refresh token to obtain a new access token without user interaction."}
	stepRevoke = StepInfo{StepRevoke, "Revoke token",
		"Invalidate the token at the revocation endpoint."}
)

var allVersions = []SpecVersion{OAuth20, OAuth21, OIDC}

var catalog = []Definition{
	{
		Kind:    KindAuthorizationCode,
		Title:   "Authorization Code",
		Summary: "A confidential web app redirects the user to sign in and exchanges the returned code for tokens using its client secret.",
		RFCs:    []string{"RFC 6749 §4.1", "OpenID Connect Core §3.1"},
		Steps: []StepInfo{stepAuthorize, stepCallback, stepExchange, stepUserInfo,
			stepIntrospect, stepRefresh, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCode,
		DefaultAuthMethod:   AuthClientSecretBasic,
		DefaultScopes:       []string{"openid", "profile", "email"},
		RequiresRedirect:    true,
		SupportsPKCE:        true,
		SupportsRefresh:     true,
		SpecVersions:        allVersions,
		DefaultSpecVersion:  OIDC,
	},
	{
		Kind:    KindPKCE,
		Title:   "Authorization Code with PKCE",
		Summary: "A public client (SPA, mobile, CLI) proves possession of a one-time verifier instead of a client secret.",
		RFCs:    []string{"RFC 6749 §4.1", "RFC 7636"},
		Steps: []StepInfo{stepAuthorize, stepCallback, stepExchange, stepUserInfo,
			stepIntrospect, stepRefresh, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCode,
		DefaultAuthMethod:   AuthNone,
		DefaultScopes:       []string{"openid", "profile", "email"},
		RequiresRedirect:    true,
		SupportsPKCE:        true,
		RequiresPKCE:        true,
		SupportsRefresh:     true,
		SpecVersions:        allVersions,
		DefaultSpecVersion:  OAuth21,
	},
	{
		Kind:                KindImplicit,
		Title:               "Implicit",
		Summary:             "Tokens come straight back in the URL fragment. Kept for study only; OAuth 2.1 removes it.",
		RFCs:                []string{"RFC 6749 §4.2", "OpenID Connect Core §3.2"},
		Steps:               []StepInfo{stepAuthorize, stepCallback, stepUserInfo},
		DefaultResponseType: ResponseIDTokenToken,
		DefaultAuthMethod:   AuthNone,
		DefaultScopes:       []string{"openid", "profile"},
		RequiresRedirect:    true,
		SpecVersions:        []SpecVersion{OAuth20, OIDC},
		DefaultSpecVersion:  OIDC,
	},
	{
		Kind:               KindClientCredentials,
		Title:              "Client Credentials",
		Summary:            "A machine client authenticates as itself and receives an access token with no user involved.",
		RFCs:               []string{"RFC 6749 §4.4", "RFC 7523"},
		Steps:              []StepInfo{stepToken, stepIntrospect, stepRevoke},
		GrantType:          GrantClientCredentials,
		DefaultAuthMethod:  AuthClientSecretBasic,
		DefaultScopes:      nil,
		SpecVersions:       []SpecVersion{OAuth20, OAuth21},
		DefaultSpecVersion: OAuth20,
	},
	{
		Kind:    KindDevice,
		Title:   "Device Authorization",
		Summary: "An input-constrained device shows a code; the user approves on another device while the app polls.",
		RFCs:    []string{"RFC 8628"},
		Steps: []StepInfo{stepDeviceAuthorization, stepDevicePoll, stepUserInfo,
			stepIntrospect, stepRefresh, stepRevoke},
		GrantType:          GrantDeviceCode,
		DefaultAuthMethod:  AuthNone,
		DefaultScopes:      []string{"openid", "profile", "offline_access"},
		SupportsRefresh:    true,
		SpecVersions:       allVersions,
		DefaultSpecVersion: OIDC,
	},
	{
		Kind:    KindHybrid,
		Title:   "Hybrid",
		Summary: "The front channel returns an ID token (and optionally an access token) alongside a code that is exchanged on the back channel.",
		RFCs:    []string{"OpenID Connect Core §3.3"},
		Steps: []StepInfo{stepAuthorize, stepCallback, stepExchange, stepUserInfo,
			stepIntrospect, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCodeIDToken,
		DefaultAuthMethod:   AuthClientSecretBasic,
		DefaultScopes:       []string{"openid", "profile", "email"},
		RequiresRedirect:    true,
		SupportsPKCE:        true,
		SpecVersions:        []SpecVersion{OAuth20, OIDC},
		DefaultSpecVersion:  OIDC,
	},
	{
		Kind:    KindPAR,
		Title:   "Pushed Authorization Request",
		Summary: "Authorize parameters are pushed over the back channel first; the browser only carries an opaque request_uri.",
		RFCs:    []string{"RFC 9126"},
		Steps: []StepInfo{stepPAR, stepAuthorize, stepCallback, stepExchange,
			stepUserInfo, stepIntrospect, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCode,
		DefaultAuthMethod:   AuthClientSecretBasic,
		DefaultScopes:       []string{"openid", "profile", "email"},
		RequiresRedirect:    true,
		SupportsPKCE:        true,
		SupportsRefresh:     true,
		SpecVersions:        allVersions,
		DefaultSpecVersion:  OIDC,
	},
	{
		Kind:    KindRAR,
		Title:   "Rich Authorization Request",
		Summary: "The client asks for fine-grained permissions with structured authorization_details objects instead of flat scopes.",
		RFCs:    []string{"RFC 9396"},
		Steps: []StepInfo{stepAuthorize, stepCallback, stepExchange,
			stepIntrospect, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCode,
		DefaultAuthMethod:   AuthClientSecretBasic,
		DefaultScopes:       []string{"openid"},
		RequiresRedirect:    true,
		SupportsPKCE:        true,
		SpecVersions:        allVersions,
		DefaultSpecVersion:  OIDC,
	},
	{
		Kind:    KindRedirectless,
		Title:   "Redirectless (pi.flow)",
		Summary: "The app drives sign-in through PingOne's flow API with response_mode=pi.flow; no browser redirect is involved.",
		RFCs:    []string{"PingOne Flow API"},
		Steps: []StepInfo{stepAuthorize, stepLogin, stepExchange, stepUserInfo,
			stepIntrospect, stepRevoke},
		GrantType:           GrantAuthorizationCode,
		DefaultResponseType: ResponseCode,
		DefaultAuthMethod:   AuthClientSecretBasic,
		DefaultScopes:       []string{"openid", "profile"},
		SupportsPKCE:        true,
		SpecVersions:        allVersions,
		DefaultSpecVersion:  OIDC,
	},
}

func init() {
	for i := range catalog {
		d := &catalog[i]
		d.ResponseTypes = ValidResponseTypes(d.Kind, d.DefaultSpecVersion)
		d.AuthMethods = ValidAuthMethods(d.Kind, d.DefaultSpecVersion)
	}
}

// Catalog returns every flow in display order. The result is a copy.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Kinds returns every flow kind in display order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d.Kind)
	}
	return out
}

// Lookup returns the definition for kind.
func Lookup(kind Kind) (Definition, bool) {
	for _, d := range catalog {
		if d.Kind == kind {
			return d, true
		}
	}
	return Definition{}, false
}

// ParseKind accepts a kind name, also tolerating underscores and a few aliases.
func ParseKind(s string) (Kind, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.ReplaceAll(k, "_", "-")
	switch k {
	case "authz", "code", "auth-code", "authorization-code":
		return KindAuthorizationCode, nil
	case "device-code", "device-authorization":
		return KindDevice, nil
	case "cc", "client-credentials":
		return KindClientCredentials, nil
	case "pi.flow", "pi-flow":
		return KindRedirectless, nil
	}
	if _, ok := Lookup(Kind(k)); ok {
		return Kind(k), nil
	}
	return "", fmt.Errorf("flows: unknown flow %q", s)
}
