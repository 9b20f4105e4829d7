package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
)

type formField struct {
	key   string
	label string
	input textinput.Model
}

// credForm edits the credentials of one flow.
type credForm struct {
	kind     flows.Kind
	fields   []formField
	focus    int
	problems []flows.Problem
	err      string
}

func newField(key, label, value, placeholder string) formField {
	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = placeholder
	in.CharLimit = 4096
	in.Width = 56
	in.SetValue(value)
	if key == "client_secret" {
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	}
	return formField{key: key, label: label, input: in}
}

// newCredForm pre-fills the form from creds. A stored secret is shown as
// the redaction marker and kept unless replaced.
func newCredForm(def flows.Definition, creds store.Credentials) credForm {
	redacted := creds.Redacted()
	pkce := "no"
	if creds.UsePKCE {
		pkce = "yes"
	}
	details := ""
	if len(creds.AuthorizationDetails) > 0 {
		details = string(creds.AuthorizationDetails)
	}
	fields := []formField{
		newField("environment_id", "Environment ID", creds.EnvironmentID, "PingOne environment UUID"),
		newField("region", "Region", creds.Region, "NA, EU, CA, AP or AU"),
		newField("client_id", "Client ID", creds.ClientID, ""),
		newField("client_secret", "Client secret", redacted.ClientSecret, "empty for public clients"),
		newField("auth_method", "Auth method", string(creds.AuthMethod), joinValues(def.AuthMethods)),
		newField("spec_version", "Protocol", string(creds.SpecVersion), joinValues(def.SpecVersions)),
		newField("scopes", "Scopes", strings.Join(creds.Scopes, " "), "space separated"),
	}
	if def.RequiresRedirect {
		fields = append(fields,
			newField("redirect_uri", "Redirect URI", creds.RedirectURI, "http://localhost:3001/callback"),
			newField("response_type", "Response type", string(creds.ResponseType), joinValues(def.ResponseTypes)))
	}
	if def.SupportsPKCE {
		fields = append(fields, newField("use_pkce", "Use PKCE", pkce, "yes or no"))
	}
	if def.Kind == flows.KindRAR || def.Kind == flows.KindClientCredentials {
		fields = append(fields, newField("authorization_details", "Auth details", details, `[{"type":"payment_initiation"}]`))
	}
	f := credForm{kind: def.Kind, fields: fields}
	f.fields[0].input.Focus()
	return f
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, " | ")
}

func (f *credForm) move(delta int) {
	f.fields[f.focus].input.Blur()
	f.focus = (f.focus + delta + len(f.fields)) % len(f.fields)
	f.fields[f.focus].input.Focus()
}

func (f credForm) update(msg tea.Msg) (credForm, tea.Cmd) {
	var cmd tea.Cmd
	f.fields[f.focus].input, cmd = f.fields[f.focus].input.Update(msg)
	return f, cmd
}

func (f credForm) value(key string) string {
	for _, field := range f.fields {
		if field.key == key {
			return strings.TrimSpace(field.input.Value())
		}
	}
	return ""
}

// credentials reads the form. prev supplies secrets left redacted.
func (f credForm) credentials(prev *store.Credentials) (store.Credentials, error) {
	creds := store.Credentials{}
	if prev != nil {
		creds = *prev
	}
	creds.EnvironmentID = f.value("environment_id")
	creds.Region = strings.ToUpper(f.value("region"))
	creds.ClientID = f.value("client_id")
	creds.ClientSecret = f.value("client_secret")
	creds.AuthMethod = flows.AuthMethod(f.value("auth_method"))
	creds.SpecVersion = flows.SpecVersion(f.value("spec_version"))
	creds.Scopes = strings.Fields(f.value("scopes"))
	creds.RedirectURI = f.value("redirect_uri")
	creds.ResponseType = flows.ResponseType(f.value("response_type"))
	switch strings.ToLower(f.value("use_pkce")) {
	case "y", "yes", "true", "1":
		creds.UsePKCE = true
	default:
		creds.UsePKCE = false
	}
	creds.AuthorizationDetails = nil
	if raw := f.value("authorization_details"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return creds, fmt.Errorf("authorization details must be JSON")
		}
		creds.AuthorizationDetails = json.RawMessage(raw)
	}
	creds.KeepSecrets(prev)
	if creds.ClientSecret == util.RedactedValue {
		creds.ClientSecret = ""
	}
	return creds, nil
}

func (f credForm) view(title string, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(title + " · credentials"))
	b.WriteString("\n")
	for i, field := range f.fields {
		label := LabelStyle.Render(field.label)
		if i == f.focus {
			label = LabelStyle.Foreground(PrimaryColor).Bold(true).Render(field.label)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, label, field.input.View()))
		b.WriteString("\n")
	}
	if f.err != "" {
		b.WriteString("\n" + ErrorTextStyle.Render(f.err) + "\n")
	}
	for _, p := range f.problems {
		b.WriteString(ErrorTextStyle.Render("• "+p.String()) + "\n")
	}
	return PanelStyle.Width(width).Render(b.String())
}
