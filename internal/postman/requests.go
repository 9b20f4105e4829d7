package postman

import (
	"strings"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
)

const formContentType = "application/x-www-form-urlencoded"

// asURL builds {{authBase}}/{{envID}}/<segments> with an optional query.
func asURL(query []KeyValue, segments ...string) URL {
	path := append([]string{"{{envID}}"}, segments...)
	raw := "{{authBase}}/" + strings.Join(path, "/")
	if len(query) > 0 {
		parts := make([]string, 0, len(query))
		for _, q := range query {
			parts = append(parts, q.Key+"="+q.Value)
		}
		raw += "?" + strings.Join(parts, "&")
	}
	return URL{Raw: raw, Host: []string{"{{authBase}}"}, Path: path, Query: query}
}

func kv(key, value string) KeyValue {
	return KeyValue{Key: key, Value: value}
}

func testScript(lines ...string) Event {
	exec := append([]string{"var json = pm.response.json();"}, lines...)
	return Event{Listen: "test", Script: Script{Type: "text/javascript", Exec: exec}}
}

func setIfPresent(field, variable string) string {
	return "if (json." + field + ") { pm.environment.set(\"" + variable + "\", json." + field + "); }"
}

var tokenScript = testScript(
	setIfPresent("access_token", "accessToken"),
	setIfPresent("refresh_token", "refreshToken"),
	setIfPresent("id_token", "idToken"),
)

func stateScript(withPKCE bool, method string) Event {
	exec := []string{
		"function base64url(words) {",
		"  return CryptoJS.enc.Base64.stringify(words).replace(/=+$/, \"\").replace(/\\+/g, \"-\").replace(/\\//g, \"_\");",
		"}",
		"pm.environment.set(\"state\", CryptoJS.lib.WordArray.random(16).toString());",
		"pm.environment.set(\"nonce\", CryptoJS.lib.WordArray.random(16).toString());",
	}
	if withPKCE {
		exec = append(exec,
			"var verifier = base64url(CryptoJS.lib.WordArray.random(96));",
			"pm.environment.set(\"codeVerifier\", verifier);",
		)
		if method == "plain" {
			exec = append(exec, "pm.environment.set(\"codeChallenge\", verifier);")
		} else {
			exec = append(exec, "pm.environment.set(\"codeChallenge\", base64url(CryptoJS.SHA256(verifier)));")
		}
	}
	return Event{Listen: "prerequest", Script: Script{Type: "text/javascript", Exec: exec}}
}

// authorizeItem is the front channel request. It is meant to be opened in a
// browser; Postman shows the redirect in the console.
func authorizeItem(responseType string, creds *store.Credentials, withPKCE bool, extra ...KeyValue) Item {
	query := []KeyValue{
		kv("response_type", responseType),
		kv("client_id", "{{clientId}}"),
		kv("redirect_uri", "{{redirectUri}}"),
		kv("scope", "{{scopes}}"),
		kv("state", "{{state}}"),
	}
	if strings.Contains(responseType, "id_token") || containsScope(creds.Scopes, "openid") {
		query = append(query, kv("nonce", "{{nonce}}"))
	}
	if withPKCE {
		method := creds.PKCEMethod
		if method == "" {
			method = "S256"
		}
		query = append(query, kv("code_challenge", "{{codeChallenge}}"), kv("code_challenge_method", method))
	}
	query = append(query, extra...)
	return Item{
		Name: "Authorize (open in browser)",
		Request: &Request{
			Method:      "GET",
			Header:      []KeyValue{},
			URL:         asURL(query, "as", "authorize"),
			Description: "Open this URL in a browser, sign in, and copy the code from the redirect into the authCode variable.",
		},
		Event: []Event{stateScript(withPKCE, creds.PKCEMethod)},
	}
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// clientAuth applies the token endpoint authentication method to a form post.
func clientAuth(method flows.AuthMethod, req *Request) {
	switch method {
	case flows.AuthClientSecretBasic:
		req.Auth = &Auth{Type: "basic", Basic: []KeyValue{
			{Key: "username", Value: "{{clientId}}", Type: "string"},
			{Key: "password", Value: "{{clientSecret}}", Type: "string"},
		}}
	case flows.AuthClientSecretPost:
		req.Body.URLEncoded = append(req.Body.URLEncoded, kv("client_id", "{{clientId}}"), kv("client_secret", "{{clientSecret}}"))
	case flows.AuthClientSecretJWT, flows.AuthPrivateKeyJWT:
		req.Body.URLEncoded = append(req.Body.URLEncoded,
			kv("client_id", "{{clientId}}"),
			kv("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"),
			KeyValue{Key: "client_assertion", Value: "{{clientAssertion}}", Description: "A signed JWT with iss and sub set to the client id and aud set to the token endpoint."},
		)
	default:
		req.Body.URLEncoded = append(req.Body.URLEncoded, kv("client_id", "{{clientId}}"))
	}
}

func formPost(method flows.AuthMethod, fields []KeyValue, segments ...string) *Request {
	req := &Request{
		Method: "POST",
		Header: []KeyValue{kv("Content-Type", formContentType)},
		Body:   &Body{Mode: "urlencoded", URLEncoded: fields},
		URL:    asURL(nil, segments...),
	}
	clientAuth(method, req)
	return req
}

func tokenItem(name string, method flows.AuthMethod, fields []KeyValue, script Event) Item {
	return Item{Name: name, Request: formPost(method, fields, "as", "token"), Event: []Event{script}}
}

func codeExchangeItem(method flows.AuthMethod, withPKCE bool) Item {
	fields := []KeyValue{
		kv("grant_type", flows.GrantAuthorizationCode),
		kv("code", "{{authCode}}"),
		kv("redirect_uri", "{{redirectUri}}"),
	}
	if withPKCE {
		fields = append(fields, kv("code_verifier", "{{codeVerifier}}"))
	}
	return tokenItem("Exchange code for tokens", method, fields, tokenScript)
}

func refreshItem(method flows.AuthMethod) Item {
	return tokenItem("Refresh tokens", method, []KeyValue{
		kv("grant_type", flows.GrantRefreshToken),
		kv("refresh_token", "{{refreshToken}}"),
	}, tokenScript)
}

func userInfoItem() Item {
	return Item{
		Name: "UserInfo",
		Request: &Request{
			Method: "GET",
			Header: []KeyValue{},
			URL:    asURL(nil, "as", "userinfo"),
			Auth:   &Auth{Type: "bearer", Bearer: []KeyValue{{Key: "token", Value: "{{accessToken}}", Type: "string"}}},
		},
	}
}

func introspectItem(method flows.AuthMethod) Item {
	return Item{Name: "Introspect access token", Request: formPost(method, []KeyValue{
		kv("token", "{{accessToken}}"),
		kv("token_type_hint", "access_token"),
	}, "as", "introspect")}
}

func revokeItem(method flows.AuthMethod) Item {
	return Item{Name: "Revoke refresh token", Request: formPost(method, []KeyValue{
		kv("token", "{{refreshToken}}"),
		kv("token_type_hint", "refresh_token"),
	}, "as", "revoke")}
}

// flowRequests returns the ordered requests of one flow folder.
func flowRequests(kind flows.Kind, creds *store.Credentials) []Item {
	def, _ := flows.Lookup(kind)
	method := creds.AuthMethod
	if method == "" {
		method = def.DefaultAuthMethod
	}
	responseType := string(creds.ResponseType)
	if responseType == "" {
		responseType = string(def.DefaultResponseType)
	}
	withPKCE := def.RequiresPKCE || (creds.UsePKCE && def.SupportsPKCE)

	var items []Item
	switch kind {
	case flows.KindAuthorizationCode, flows.KindPKCE:
		items = append(items,
			authorizeItem(string(flows.ResponseCode), creds, withPKCE),
			codeExchangeItem(method, withPKCE),
			userInfoItem(),
			introspectItem(confidentialOr(method)),
			refreshItem(method),
			revokeItem(method),
		)

	case flows.KindImplicit:
		items = append(items,
			authorizeItem(responseType, creds, false, kv("response_mode", "fragment")),
			userInfoItem(),
		)

	case flows.KindHybrid:
		items = append(items,
			authorizeItem(responseType, creds, withPKCE, kv("response_mode", "fragment")),
			codeExchangeItem(method, withPKCE),
			userInfoItem(),
			refreshItem(method),
		)

	case flows.KindClientCredentials:
		fields := []KeyValue{kv("grant_type", flows.GrantClientCredentials), kv("scope", "{{scopes}}")}
		if len(creds.AuthorizationDetails) > 0 {
			fields = append(fields, kv("authorization_details", "{{authorizationDetails}}"))
		}
		items = append(items,
			tokenItem("Request token", method, fields, tokenScript),
			introspectItem(method),
		)

	case flows.KindDevice:
		items = append(items,
			Item{
				Name:    "Start device authorization",
				Request: formPost(method, []KeyValue{kv("scope", "{{scopes}}")}, "as", "device_authorization"),
				Event: []Event{testScript(
					setIfPresent("device_code", "deviceCode"),
					setIfPresent("user_code", "userCode"),
					"console.log(\"Visit \" + (json.verification_uri_complete || json.verification_uri) + \" and enter \" + json.user_code);",
				)},
			},
			tokenItem("Poll for tokens", method, []KeyValue{
				kv("grant_type", flows.GrantDeviceCode),
				kv("device_code", "{{deviceCode}}"),
			}, tokenScript),
			userInfoItem(),
			refreshItem(method),
		)

	case flows.KindPAR:
		par := formPost(method, []KeyValue{
			kv("response_type", "code"),
			kv("redirect_uri", "{{redirectUri}}"),
			kv("scope", "{{scopes}}"),
			kv("state", "{{state}}"),
		}, "as", "par")
		if withPKCE {
			par.Body.URLEncoded = append(par.Body.URLEncoded, kv("code_challenge", "{{codeChallenge}}"), kv("code_challenge_method", "S256"))
		}
		if method == flows.AuthNone {
			// public clients still identify themselves on the PAR call
			par.Body.URLEncoded = appendUnique(par.Body.URLEncoded, kv("client_id", "{{clientId}}"))
		}
		items = append(items,
			Item{
				Name:    "Push authorization request",
				Request: par,
				Event:   []Event{stateScript(withPKCE, creds.PKCEMethod), testScript(setIfPresent("request_uri", "requestUri"))},
			},
			Item{
				Name: "Authorize with request_uri (open in browser)",
				Request: &Request{
					Method: "GET",
					Header: []KeyValue{},
					URL:    asURL([]KeyValue{kv("client_id", "{{clientId}}"), kv("request_uri", "{{requestUri}}")}, "as", "authorize"),
				},
			},
			codeExchangeItem(method, withPKCE),
			userInfoItem(),
		)

	case flows.KindRAR:
		items = append(items,
			authorizeItem(string(flows.ResponseCode), creds, withPKCE, kv("authorization_details", "{{authorizationDetails}}")),
			codeExchangeItem(method, withPKCE),
			introspectItem(confidentialOr(method)),
			userInfoItem(),
		)

	case flows.KindRedirectless:
		start := authorizeItem(responseType, creds, withPKCE, kv("response_mode", flows.ResponseModePiFlow))
		start.Name = "Start redirectless flow"
		start.Request.Description = "Returns a flow resource instead of a redirect. Postman keeps the ST session cookie for the next request."
		start.Event = append(start.Event, testScript(setIfPresent("id", "flowId")))
		items = append(items,
			start,
			Item{
				Name: "Submit username and password",
				Request: &Request{
					Method: "POST",
					Header: []KeyValue{kv("Content-Type", "application/vnd.pingidentity.usernamePassword.check+json")},
					Body:   &Body{Mode: "raw", Raw: "{\n  \"username\": \"{{username}}\",\n  \"password\": \"{{password}}\"\n}"},
					URL:    asURL(nil, "flows", "{{flowId}}"),
				},
				Event: []Event{testScript(
					"if (json.authorizeResponse && json.authorizeResponse.code) { pm.environment.set(\"authCode\", json.authorizeResponse.code); }",
					"if (json.authorizeResponse && json.authorizeResponse.access_token) { pm.environment.set(\"accessToken\", json.authorizeResponse.access_token); }",
				)},
			},
			Item{
				Name: "Resume flow",
				Request: &Request{
					Method: "GET",
					Header: []KeyValue{},
					URL:    asURL([]KeyValue{kv("flowId", "{{flowId}}")}, "as", "resume"),
				},
				Event: []Event{testScript(
					"if (json.authorizeResponse && json.authorizeResponse.code) { pm.environment.set(\"authCode\", json.authorizeResponse.code); }",
				)},
			},
			codeExchangeItem(method, withPKCE),
			userInfoItem(),
		)
	}
	return items
}

// confidentialOr returns method, or client_secret_basic for public clients
// since introspection always needs client authentication.
func confidentialOr(method flows.AuthMethod) flows.AuthMethod {
	if method == flows.AuthNone {
		return flows.AuthClientSecretBasic
	}
	return method
}

func appendUnique(fields []KeyValue, field KeyValue) []KeyValue {
	for _, f := range fields {
		if f.Key == field.Key {
			return fields
		}
	}
	return append(fields, field)
}
