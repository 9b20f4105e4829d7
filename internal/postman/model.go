// Package postman turns wizard answers into a Postman Collection v2.1 and a
// matching environment so a developer can replay every flow outside the
// playground.
package postman

// SchemaURL is the collection format identifier Postman expects in info.schema.
const SchemaURL = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// Collection is a Postman v2.1 collection.
type Collection struct {
	Info     Info       `json:"info"`
	Item     []Item     `json:"item"`
	Variable []Variable `json:"variable,omitempty"`
}

// Info is the collection header.
type Info struct {
	PostmanID   string `json:"_postman_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema"`
}

// Item is either a folder (Item set) or a request (Request set).
type Item struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Item        []Item   `json:"item,omitempty"`
	Request     *Request `json:"request,omitempty"`
	Event       []Event  `json:"event,omitempty"`
}

// Request is one HTTP request.
type Request struct {
	Method      string     `json:"method"`
	Header      []KeyValue `json:"header"`
	Body        *Body      `json:"body,omitempty"`
	URL         URL        `json:"url"`
	Auth        *Auth      `json:"auth,omitempty"`
	Description string     `json:"description,omitempty"`
}

// URL is a structured request URL.
type URL struct {
	Raw   string     `json:"raw"`
	Host  []string   `json:"host"`
	Path  []string   `json:"path"`
	Query []KeyValue `json:"query,omitempty"`
}

// KeyValue is a header, query parameter or form field.
type KeyValue struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// Body is a request body.
type Body struct {
	Mode       string     `json:"mode"`
	URLEncoded []KeyValue `json:"urlencoded,omitempty"`
	Raw        string     `json:"raw,omitempty"`
	Options    *BodyOpts  `json:"options,omitempty"`
}

// BodyOpts sets the language of a raw body.
type BodyOpts struct {
	Raw struct {
		Language string `json:"language"`
	} `json:"raw"`
}

// Auth is request level authentication.
type Auth struct {
	Type   string     `json:"type"`
	Basic  []KeyValue `json:"basic,omitempty"`
	Bearer []KeyValue `json:"bearer,omitempty"`
}

// Event is a pre-request or test script.
type Event struct {
	Listen string `json:"listen"`
	Script Script `json:"script"`
}

// Script is JavaScript run by Postman.
type Script struct {
	Type string   `json:"type"`
	Exec []string `json:"exec"`
}

// Variable is a collection variable.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Environment is a Postman environment file.
type Environment struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Values               []EnvValue `json:"values"`
	PostmanVariableScope string     `json:"_postman_variable_scope"`
}

// EnvValue is one environment variable. Type is "default" or "secret".
type EnvValue struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}
