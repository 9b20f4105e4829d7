package flows

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidResponseTypes lists the response types legal for kind under version.
// Flows without a front channel return nil.
func ValidResponseTypes(kind Kind, version SpecVersion) []ResponseType {
	switch kind {
	case KindAuthorizationCode, KindPKCE, KindPAR, KindRAR:
		return []ResponseType{ResponseCode}
	case KindImplicit:
		switch version {
		case OAuth20:
			return []ResponseType{ResponseToken}
		case OIDC:
			return []ResponseType{ResponseIDTokenToken, ResponseIDToken, ResponseToken}
		}
		return nil
	case KindHybrid:
		switch version {
		case OAuth20:
			return []ResponseType{ResponseCodeToken}
		case OIDC:
			return []ResponseType{ResponseCodeIDToken, ResponseCodeToken, ResponseCodeIDTokenToken}
		}
		return nil
	case KindRedirectless:
		switch version {
		case OAuth21:
			return []ResponseType{ResponseCode}
		case OAuth20:
			return []ResponseType{ResponseCode, ResponseToken}
		case OIDC:
			return []ResponseType{ResponseCode, ResponseToken, ResponseIDToken, ResponseIDTokenToken}
		}
	}
	return nil
}

// ValidAuthMethods lists the token endpoint authentication methods legal for
// kind under version.
func ValidAuthMethods(kind Kind, version SpecVersion) []AuthMethod {
	confidential := []AuthMethod{AuthClientSecretBasic, AuthClientSecretPost, AuthClientSecretJWT, AuthPrivateKeyJWT}
	switch kind {
	case KindAuthorizationCode, KindHybrid, KindPAR, KindRAR:
		if version == OAuth21 {
			// PKCE is mandatory under 2.1, so none stays a PKCE client
			return append([]AuthMethod{AuthNone}, confidential...)
		}
		return confidential
	case KindPKCE, KindRedirectless:
		// none is accepted here only together with PKCE, see Validate
		return append([]AuthMethod{AuthNone}, confidential...)
	case KindImplicit:
		return []AuthMethod{AuthNone}
	case KindClientCredentials:
		return confidential
	case KindDevice:
		return []AuthMethod{AuthNone, AuthClientSecretBasic, AuthClientSecretPost}
	}
	return nil
}

// Request is the credential form a flow is about to be started with.
type Request struct {
	Kind                 Kind            `json:"kind"`
	SpecVersion          SpecVersion     `json:"spec_version"`
	ResponseType         ResponseType    `json:"response_type,omitempty"`
	ResponseMode         string          `json:"response_mode,omitempty"`
	AuthMethod           AuthMethod      `json:"auth_method"`
	Scopes               []string        `json:"scopes"`
	RedirectURI          string          `json:"redirect_uri,omitempty"`
	UsePKCE              bool            `json:"use_pkce"`
	PKCEMethod           string          `json:"pkce_method,omitempty"`
	HasClientSecret      bool            `json:"has_client_secret"`
	HasPrivateKey        bool            `json:"has_private_key"`
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}

// Problem is one validation failure, addressed to a form field.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Field + ": " + p.Message
}

// ProblemsError joins problems into an error.
type ProblemsError []Problem

func (e ProblemsError) Error() string {
	parts := make([]string, len(e))
	for i, p := range e {
		parts[i] = p.String()
	}
	return "invalid flow configuration: " + strings.Join(parts, "; ")
}

// Validate checks req against the flow's rules and returns every problem.
// An empty result means the flow can start.
func Validate(req Request) []Problem {
	var problems []Problem
	add := func(field, format string, args ...interface{}) {
		problems = append(problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	def, ok := Lookup(req.Kind)
	if !ok {
		add("kind", "unknown flow %q", req.Kind)
		return problems
	}

	version := req.SpecVersion
	if version == "" {
		version = def.DefaultSpecVersion
	}
	if !slices.Contains(def.SpecVersions, version) {
		add("spec_version", "%s is not available under %s", def.Title, version)
		return problems
	}

	if def.RequiresRedirect || (req.Kind == KindRedirectless && req.ResponseType != "") {
		rt := req.ResponseType
		if rt == "" {
			rt = def.DefaultResponseType
		}
		valid := ValidResponseTypes(req.Kind, version)
		if !slices.Contains(valid, rt) {
			add("response_type", "%q is not allowed for %s under %s", rt, def.Title, version)
		}
		if version == OAuth20 && rt.Includes("id_token") {
			add("response_type", "id_token requires OpenID Connect")
		}
	}

	method := req.AuthMethod
	if method == "" {
		method = def.DefaultAuthMethod
	}
	if !slices.Contains(ValidAuthMethods(req.Kind, version), method) {
		add("auth_method", "%s cannot be used with %s under %s", method, def.Title, version)
	}
	if method.NeedsSecret() && !req.HasClientSecret {
		add("client_secret", "%s requires a client secret", method)
	}
	if method == AuthPrivateKeyJWT && !req.HasPrivateKey {
		add("private_key", "private_key_jwt requires a PEM encoded private key")
	}

	usesCode := def.GrantType == GrantAuthorizationCode
	pkce := req.UsePKCE || def.RequiresPKCE
	if def.RequiresPKCE && !req.UsePKCE {
		add("use_pkce", "%s always uses PKCE", def.Title)
	}
	if usesCode && version == OAuth21 && !pkce {
		add("use_pkce", "OAuth 2.1 requires PKCE for the authorization code grant")
	}
	if pkce && !def.SupportsPKCE {
		add("use_pkce", "%s has no authorization code to protect with PKCE", def.Title)
	}
	if pkce && req.PKCEMethod != "" && req.PKCEMethod != "S256" && req.PKCEMethod != "plain" {
		add("pkce_method", "unsupported code_challenge_method %q", req.PKCEMethod)
	}
	if pkce && version == OAuth21 && req.PKCEMethod == "plain" {
		add("pkce_method", "OAuth 2.1 forbids the plain code_challenge_method")
	}
	if method == AuthNone && usesCode && !pkce {
		add("auth_method", "a public client must use PKCE")
	}

	hasOpenID := slices.Contains(req.Scopes, "openid")
	if version == OIDC && def.RequiresRedirect && !hasOpenID {
		add("scopes", "OpenID Connect requests must include the openid scope")
	}
	if req.Kind == KindClientCredentials && hasOpenID {
		add("scopes", "openid has no meaning without a user")
	}

	if def.RequiresRedirect {
		if strings.TrimSpace(req.RedirectURI) == "" {
			add("redirect_uri", "a redirect URI is required")
		} else if u, err := url.Parse(req.RedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
			add("redirect_uri", "%q is not an absolute URL", req.RedirectURI)
		} else if u.Fragment != "" {
			add("redirect_uri", "a redirect URI must not contain a fragment")
		}
	}

	if req.Kind == KindRedirectless && req.ResponseMode != "" && req.ResponseMode != ResponseModePiFlow {
		add("response_mode", "redirectless flows use response_mode=%s", ResponseModePiFlow)
	}
	if req.Kind != KindRedirectless && req.ResponseMode == ResponseModePiFlow {
		add("response_mode", "%s is only valid for the redirectless flow", ResponseModePiFlow)
	}

	if req.Kind == KindRAR || len(req.AuthorizationDetails) > 0 {
		if err := ValidateAuthorizationDetails(req.AuthorizationDetails); err != nil {
			add("authorization_details", "%v", err)
		}
	}
	return problems
}

// ValidateAuthorizationDetails checks RFC 9396 structure: a non-empty JSON
// array of objects each carrying a string "type".
func ValidateAuthorizationDetails(raw json.RawMessage) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("at least one authorization detail is required")
	}
	var details []map[string]interface{}
	if err := json.Unmarshal(raw, &details); err != nil {
		return fmt.Errorf("must be a JSON array of objects: %w", err)
	}
	if len(details) == 0 {
		return fmt.Errorf("at least one authorization detail is required")
	}
	for i, d := range details {
		t, ok := d["type"].(string)
		if !ok || strings.TrimSpace(t) == "" {
			return fmt.Errorf("entry %d is missing a type", i)
		}
	}
	return nil
}
