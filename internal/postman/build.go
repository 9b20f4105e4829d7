package postman

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/google/uuid"
)

// DefaultCollectionName is used when the answers leave the name empty.
const DefaultCollectionName = "PingOne OAuth Playground"

// idNamespace roots the name based (v5) ids so identical answers give
// identical files.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/flowlab/oauth-playground/postman"))

// WizardAnswers is everything the generator needs.
type WizardAnswers struct {
	Flows              []flows.Kind      `json:"flows"`
	Credentials        store.Credentials `json:"credentials"`
	Region             string            `json:"region,omitempty"`
	BaseURL            string            `json:"base_url,omitempty"`
	CollectionName     string            `json:"collection_name,omitempty"`
	IncludeEnvironment bool              `json:"include_environment"`
	// IncludeSecrets writes the client secret into the environment instead of leaving it blank.
	IncludeSecrets bool `json:"include_secrets,omitempty"`
	// Values pre-fills environment variables, e.g. tokens from the current session.
	Values map[string]string `json:"values,omitempty"`
}

func (a *WizardAnswers) name() string {
	if n := strings.TrimSpace(a.CollectionName); n != "" {
		return n
	}
	return DefaultCollectionName
}

func (a *WizardAnswers) authBase() (string, error) {
	if base := strings.TrimRight(strings.TrimSpace(a.BaseURL), "/"); base != "" {
		return base, nil
	}
	region, err := pingone.ParseRegion(a.Region)
	if err != nil {
		return "", err
	}
	return "https://" + region.AuthHost(), nil
}

// Check validates the answers.
func (a *WizardAnswers) Check() error {
	if len(a.Flows) == 0 {
		return fmt.Errorf("postman: select at least one flow")
	}
	seen := make(map[flows.Kind]bool, len(a.Flows))
	for _, kind := range a.Flows {
		if _, ok := flows.Lookup(kind); !ok {
			return fmt.Errorf("postman: unknown flow %q", kind)
		}
		if seen[kind] {
			return fmt.Errorf("postman: flow %q selected twice", kind)
		}
		seen[kind] = true
	}
	_, err := a.authBase()
	return err
}

func stableID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "/"))).String()
}

// BuildCollection returns the collection JSON. The output is checked
// against the v2.1 schema before it is returned.
func BuildCollection(a WizardAnswers) ([]byte, error) {
	if err := a.Check(); err != nil {
		return nil, err
	}
	base, _ := a.authBase()
	name := a.name()

	col := Collection{
		Info: Info{
			PostmanID:   stableID(name),
			Name:        name,
			Description: "Requests for each OAuth 2.0 / OpenID Connect flow against a PingOne environment. Run the requests of a folder top to bottom; test scripts copy codes and tokens into the environment.",
			Schema:      SchemaURL,
		},
		Variable: []Variable{
			{Key: "authBase", Value: base, Type: "string"},
		},
	}
	for _, kind := range a.Flows {
		def, _ := flows.Lookup(kind)
		folder := Item{
			ID:          stableID(name, string(kind)),
			Name:        def.Title,
			Description: def.Summary,
			Item:        flowRequests(kind, &a.Credentials),
		}
		for i := range folder.Item {
			folder.Item[i].ID = stableID(name, string(kind), folder.Item[i].Name)
		}
		col.Item = append(col.Item, folder)
	}

	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("postman: encode collection: %w", err)
	}
	if err = ValidateCollection(data); err != nil {
		return nil, err
	}
	return data, nil
}

// variables lists the environment variables in file order. Secret typed
// variables are masked by Postman.
var variables = []struct {
	key    string
	secret bool
}{
	{"authBase", false},
	{"envID", false},
	{"clientId", false},
	{"clientSecret", true},
	{"clientAssertion", true},
	{"redirectUri", false},
	{"scopes", false},
	{"state", false},
	{"nonce", false},
	{"codeVerifier", true},
	{"codeChallenge", false},
	{"authorizationDetails", false},
	{"requestUri", false},
	{"authCode", true},
	{"deviceCode", true},
	{"userCode", false},
	{"flowId", false},
	{"username", false},
	{"password", true},
	{"accessToken", true},
	{"refreshToken", true},
	{"idToken", true},
}

// BuildEnvironment returns the environment JSON.
func BuildEnvironment(a WizardAnswers) ([]byte, error) {
	if err := a.Check(); err != nil {
		return nil, err
	}
	base, _ := a.authBase()
	creds := a.Credentials
	defaults := map[string]string{
		"authBase":             base,
		"envID":                creds.EnvironmentID,
		"clientId":             creds.ClientID,
		"redirectUri":          creds.RedirectURI,
		"scopes":               strings.Join(creds.Scopes, " "),
		"authorizationDetails": string(creds.AuthorizationDetails),
		"username":             creds.LoginHint,
	}
	if a.IncludeSecrets {
		defaults["clientSecret"] = creds.ClientSecret
	}

	env := Environment{
		ID:                   stableID(a.name(), "environment"),
		Name:                 a.name() + " Environment",
		PostmanVariableScope: "environment",
	}
	for _, v := range variables {
		typ := "default"
		if v.secret {
			typ = "secret"
		}
		env.Values = append(env.Values, EnvValue{Key: v.key, Value: defaults[v.key], Type: typ, Enabled: true})
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("postman: encode environment: %w", err)
	}
	if len(a.Values) == 0 {
		return data, nil
	}
	return SetEnvironmentValues(data, a.Values)
}
