package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Flow API statuses the playground acts on.
const (
	FlowStatusUsernamePasswordRequired = "USERNAME_PASSWORD_REQUIRED"
	FlowStatusCompleted                = "COMPLETED"
	FlowStatusFailed                   = "FAILED"
)

const (
	usernamePasswordCheckLink = "usernamePassword.check"
	usernamePasswordCheckType = "application/vnd.pingidentity.usernamePassword.check+json"
)

// FlowCookie is a session cookie the flow API set; it must be replayed on
// every later call of the same flow.
type FlowCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Path  string `json:"path,omitempty"`
}

// FlowStatus is a redirectless flow resource.
type FlowStatus struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	ResumeURL         string            `json:"resume_url,omitempty"`
	ExpiresAt         time.Time         `json:"expires_at,omitempty"`
	Links             map[string]string `json:"links,omitempty"`
	AuthorizeResponse *CallbackResult   `json:"authorize_response,omitempty"`
	Cookies           []FlowCookie      `json:"cookies,omitempty"`
	Raw               json.RawMessage   `json:"raw,omitempty"`
}

// Completed reports whether the flow produced an authorize response.
func (f *FlowStatus) Completed() bool {
	return f != nil && f.Status == FlowStatusCompleted && f.AuthorizeResponse != nil
}

// StartRedirectless calls the authorize endpoint with response_mode=pi.flow
// and returns the flow resource describing the next action.
func (c *Client) StartRedirectless(ctx context.Context, req AuthorizeRequest) (*FlowStatus, error) {
	req.ResponseMode = flows.ResponseModePiFlow
	req.RequestURI = ""
	authURL, err := c.AuthorizeURL(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	return c.flowCall(httpReq, nil)
}

// SubmitCredentials posts username and password to the flow. When the flow
// completes without an inline authorize response, the resume URL is fetched
// to obtain it.
func (c *Client) SubmitCredentials(ctx context.Context, flow *FlowStatus, username, password string) (*FlowStatus, error) {
	if flow == nil || flow.ID == "" {
		return nil, fmt.Errorf("oauth: no redirectless flow in progress")
	}
	if flow.Status != FlowStatusUsernamePasswordRequired {
		return nil, fmt.Errorf("oauth: flow is %s, not waiting for credentials", flow.Status)
	}
	target := flow.Links[usernamePasswordCheckLink]
	if target == "" {
		target = c.endpoints.FlowURL(flow.ID)
	}

	body, _ := sjson.Set("{}", "username", username)
	body, _ = sjson.Set(body, "password", password)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil }
	httpReq.Header.Set("Content-Type", usernamePasswordCheckType)
	httpReq.Header.Set("Accept", "application/json")

	next, err := c.flowCall(httpReq, flow.Cookies)
	if err != nil {
		return nil, err
	}
	if next.Status == FlowStatusCompleted && next.AuthorizeResponse == nil && next.ResumeURL != "" {
		return c.resume(ctx, next)
	}
	return next, nil
}

func (c *Client) resume(ctx context.Context, flow *FlowStatus) (*FlowStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, flow.ResumeURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	next, err := c.flowCall(httpReq, flow.Cookies)
	if err != nil {
		return nil, err
	}
	if next.ID == "" {
		next.ID = flow.ID
	}
	return next, nil
}

// flowCall sends req with the flow cookies and parses the flow resource.
func (c *Client) flowCall(req *http.Request, cookies []FlowCookie) (*FlowStatus, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base := &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: "/"}
	if len(cookies) > 0 {
		hc := make([]*http.Cookie, 0, len(cookies))
		for _, ck := range cookies {
			hc = append(hc, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path})
		}
		jar.SetCookies(base, hc)
	}
	client := *c.http
	client.Jar = jar

	req.Header.Set("User-Agent", buildinfo.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: flow API call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("oauth: failed to read flow response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, flowError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("oauth: flow API returned HTTP %d without JSON; is pi.flow enabled for the application?", resp.StatusCode)
	}

	status := parseFlowStatus(body)
	status.Cookies = mergeCookies(cookies, jar.Cookies(base))
	return status, nil
}

func parseFlowStatus(body []byte) *FlowStatus {
	res := gjson.ParseBytes(body)
	status := &FlowStatus{
		ID:        res.Get("id").String(),
		Status:    res.Get("status").String(),
		ResumeURL: res.Get("resumeUrl").String(),
		Links:     make(map[string]string),
		Raw:       json.RawMessage(body),
	}
	if exp := res.Get("expiresAt"); exp.Exists() {
		status.ExpiresAt = exp.Time()
	}
	res.Get("_links").ForEach(func(key, value gjson.Result) bool {
		if href := value.Get("href").String(); href != "" {
			status.Links[key.String()] = href
		}
		return true
	})
	if ar := res.Get("authorizeResponse"); ar.Exists() {
		status.AuthorizeResponse = &CallbackResult{
			Code:        ar.Get("code").String(),
			State:       ar.Get("state").String(),
			AccessToken: ar.Get("access_token").String(),
			IDToken:     ar.Get("id_token").String(),
			TokenType:   ar.Get("token_type").String(),
			ExpiresIn:   int(ar.Get("expires_in").Int()),
			Scope:       ar.Get("scope").String(),
		}
	}
	if status.Status == FlowStatusFailed {
		if e := res.Get("error"); e.Exists() {
			status.AuthorizeResponse = &CallbackResult{
				Error:            e.Get("code").String(),
				ErrorDescription: e.Get("message").String(),
			}
		}
	}
	return status
}

// flowError turns a flow API error body into an OAuthError, preferring the
// first detail message, which names the offending field.
func flowError(status int, body []byte) error {
	oauthErr := apperrors.ParseOAuthError(status, body)
	if oauthErr == nil {
		return statusError(status, body)
	}
	if detail := gjson.GetBytes(body, "details.0.message"); detail.Exists() && detail.String() != "" {
		oauthErr.Description = detail.String()
	}
	return oauthErr
}

func mergeCookies(prev []FlowCookie, current []*http.Cookie) []FlowCookie {
	byName := make(map[string]FlowCookie, len(prev)+len(current))
	order := make([]string, 0, len(prev)+len(current))
	for _, ck := range prev {
		if _, ok := byName[ck.Name]; !ok {
			order = append(order, ck.Name)
		}
		byName[ck.Name] = ck
	}
	for _, ck := range current {
		if _, ok := byName[ck.Name]; !ok {
			order = append(order, ck.Name)
		}
		byName[ck.Name] = FlowCookie{Name: ck.Name, Value: ck.Value, Path: "/"}
	}
	out := make([]FlowCookie, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}
