package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/pkce"
	"github.com/flowlab/oauth-playground/internal/store"
	"golang.org/x/sync/errgroup"
)

// stateLength is the length of generated state and nonce values.
const stateLength = 32

// Begin starts the flow from scratch. It generates state, nonce and PKCE
// codes, then performs the flow's first step: building the authorize URL,
// pushing a PAR request, starting device authorization, requesting a client
// credentials token, or starting a redirectless flow.
func (c *Controller) Begin(ctx context.Context, session string) (*StepResult, error) {
	if err := c.Reset(ctx, session); err != nil {
		return nil, err
	}
	step := c.def.Steps[0].ID
	return c.run(ctx, session, step, func(ctx context.Context, st *store.FlowState, client *oauth.Client, creds *store.Credentials) (interface{}, interface{}, error) {
		if problems := flows.Validate(creds.Request(c.kind)); len(problems) > 0 {
			return nil, problems, flows.ProblemsError(problems)
		}
		st.SpecVersion = creds.SpecVersion
		if st.SpecVersion == "" {
			st.SpecVersion = c.def.DefaultSpecVersion
		}

		switch c.kind {
		case flows.KindClientCredentials:
			scopes := creds.Scopes
			request := map[string]interface{}{"grant_type": flows.GrantClientCredentials, "scope": strings.Join(scopes, " ")}
			if len(creds.AuthorizationDetails) > 0 {
				request["authorization_details"] = creds.AuthorizationDetails
			}
			tokens, err := client.ClientCredentials(ctx, scopes, creds.AuthorizationDetails)
			if err != nil {
				return request, nil, err
			}
			st.Tokens = tokens
			return request, tokens, nil

		case flows.KindDevice:
			request := map[string]interface{}{"scope": strings.Join(client.Config().Scopes, " ")}
			da, err := client.StartDeviceAuthorization(ctx, nil)
			if err != nil {
				return request, nil, err
			}
			st.DeviceAuthorization = da
			return request, da, nil
		}

		req, err := c.authorizeRequest(st, client, creds)
		if err != nil {
			return nil, nil, err
		}

		switch c.kind {
		case flows.KindPAR:
			par, err := client.PushAuthorizationRequest(ctx, req)
			if err != nil {
				return req, nil, err
			}
			st.PARRequestURI = par.RequestURI
			if par.ExpiresIn > 0 {
				st.PARExpiresAt = c.now().Add(time.Duration(par.ExpiresIn) * time.Second)
			}
			st.AuthorizeURL, err = client.AuthorizeURL(oauth.AuthorizeRequest{RequestURI: par.RequestURI})
			if err != nil {
				return req, par, err
			}
			return req, map[string]interface{}{"request_uri": par.RequestURI, "expires_in": par.ExpiresIn, "authorize_url": st.AuthorizeURL}, nil

		case flows.KindRedirectless:
			flow, err := client.StartRedirectless(ctx, req)
			if err != nil {
				return req, nil, err
			}
			st.Redirectless = flow
			if flow.Completed() {
				if err = c.acceptCallback(st, flow.AuthorizeResponse); err != nil {
					return req, flow, err
				}
			}
			return req, flow, nil
		}

		st.AuthorizeURL, err = client.AuthorizeURL(req)
		if err != nil {
			return req, nil, err
		}
		return req, map[string]string{"authorize_url": st.AuthorizeURL}, nil
	})
}

// authorizeRequest fills the authorize parameters and stores the
// generated secrets on st.
func (c *Controller) authorizeRequest(st *store.FlowState, client *oauth.Client, creds *store.Credentials) (oauth.AuthorizeRequest, error) {
	responseType := creds.ResponseType
	if responseType == "" {
		responseType = c.def.DefaultResponseType
	}
	req := client.NewAuthorizeRequest(string(responseType), nil)

	var err error
	if st.State, err = pkce.RandomString(stateLength); err != nil {
		return req, err
	}
	req.State = st.State
	if responseType.Includes("id_token") || strings.Contains(" "+req.Scope+" ", " openid ") {
		if st.Nonce, err = pkce.RandomString(stateLength); err != nil {
			return req, err
		}
		req.Nonce = st.Nonce
	}

	if c.def.RequiresPKCE || (creds.UsePKCE && c.def.SupportsPKCE) {
		method, errMethod := pkce.ParseMethod(creds.PKCEMethod)
		if errMethod != nil {
			return req, errMethod
		}
		if st.PKCE, err = pkce.Generate(method); err != nil {
			return req, err
		}
		req.CodeChallenge = st.PKCE.CodeChallenge
		req.CodeChallengeMethod = string(st.PKCE.Method)
	}

	switch {
	case c.kind == flows.KindRedirectless:
		req.ResponseMode = flows.ResponseModePiFlow
	case creds.ResponseMode != "":
		req.ResponseMode = creds.ResponseMode
	case c.kind == flows.KindImplicit || c.kind == flows.KindHybrid:
		req.ResponseMode = responseType.DefaultResponseMode()
	}
	req.Prompt = creds.Prompt
	req.LoginHint = creds.LoginHint
	req.MaxAge = creds.MaxAge
	req.ACRValues = creds.ACRValues
	if len(creds.AuthorizationDetails) > 0 {
		req.AuthorizationDetails = string(creds.AuthorizationDetails)
	}
	return req, nil
}

// HandleCallback parses the redirect the browser landed on. raw may be the
// full URL or just its query or fragment.
func (c *Controller) HandleCallback(ctx context.Context, session, raw string) (*StepResult, error) {
	if !c.def.HasStep(flows.StepCallback) {
		return nil, fmt.Errorf("%w: %s has no redirect", ErrWrongStep, c.def.Title)
	}
	return c.run(ctx, session, flows.StepCallback, func(_ context.Context, st *store.FlowState, _ *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		if st.State == "" {
			return nil, nil, fmt.Errorf("%w: begin the flow before handling a callback", ErrWrongStep)
		}
		res, err := oauth.ParseCallback(raw, st.State)
		if res != nil {
			st.Callback = res
		}
		if err != nil {
			return nil, res, err
		}
		return nil, res, c.acceptCallback(st, res)
	})
}

// acceptCallback stores the code and front channel tokens of res.
func (c *Controller) acceptCallback(st *store.FlowState, res *oauth.CallbackResult) error {
	if res == nil {
		return nil
	}
	if res.State != "" && st.State != "" && res.State != st.State {
		return oauth.ErrStateMismatch
	}
	st.Callback = res
	if res.IDToken != "" && st.Nonce != "" {
		decoded, err := oauth.DecodeIDToken(res.IDToken)
		if err != nil {
			return err
		}
		if nonce, _ := decoded.Claims["nonce"].(string); nonce != st.Nonce {
			return ErrNonceMismatch
		}
	}
	st.AuthCode = res.Code
	if tokens := oauth.TokenSetFromCallback(res, c.now()); tokens != nil {
		st.Tokens = tokens
	}
	return nil
}

// Exchange redeems the authorization code. Tokens already delivered on the
// front channel (hybrid) are merged with the token response.
func (c *Controller) Exchange(ctx context.Context, session string) (*StepResult, error) {
	if !c.def.HasStep(flows.StepExchange) {
		return nil, fmt.Errorf("%w: %s does not exchange a code", ErrWrongStep, c.def.Title)
	}
	return c.run(ctx, session, flows.StepExchange, func(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		if st.AuthCode == "" {
			return nil, nil, fmt.Errorf("%w: no authorization code, complete the callback first", ErrWrongStep)
		}
		verifier := ""
		if st.PKCE != nil {
			verifier = st.PKCE.CodeVerifier
		}
		request := map[string]interface{}{
			"grant_type":    flows.GrantAuthorizationCode,
			"code":          st.AuthCode,
			"redirect_uri":  client.Config().RedirectURI,
			"code_verifier": verifier != "",
		}
		tokens, err := client.ExchangeCode(ctx, st.AuthCode, verifier)
		// codes are single use whatever the outcome
		st.AuthCode = ""
		if err != nil {
			return request, nil, err
		}
		if tokens.IDToken != "" && st.Nonce != "" {
			decoded, errDecode := oauth.DecodeIDToken(tokens.IDToken)
			if errDecode != nil {
				return request, tokens, errDecode
			}
			// a missing nonce claim is a mismatch once one was sent
			if nonce, _ := decoded.Claims["nonce"].(string); nonce != st.Nonce {
				return request, tokens, ErrNonceMismatch
			}
		}
		if st.Tokens == nil {
			st.Tokens = tokens
		} else {
			st.Tokens.Merge(tokens)
		}
		return request, tokens, nil
	})
}

// PollDevice makes one device token request. A pending answer is recorded
// with status pending and returns an error matching
// oauth.ErrAuthorizationPending or oauth.ErrSlowDown.
func (c *Controller) PollDevice(ctx context.Context, session string) (*StepResult, error) {
	if c.kind != flows.KindDevice {
		return nil, fmt.Errorf("%w: %s is not a device flow", ErrWrongStep, c.def.Title)
	}
	return c.run(ctx, session, flows.StepDevicePoll, func(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		da := st.DeviceAuthorization
		if da == nil {
			return nil, nil, fmt.Errorf("%w: start device authorization first", ErrWrongStep)
		}
		request := map[string]interface{}{"grant_type": flows.GrantDeviceCode, "interval": da.Interval}
		if next := da.NextPoll(); c.now().Before(next) {
			return request, map[string]interface{}{"retry_after": next}, oauth.ErrSlowDown
		}
		tokens, err := client.PollDeviceToken(ctx, da)
		if err != nil {
			return request, da, err
		}
		st.Tokens = tokens
		return request, tokens, nil
	})
}

// SubmitLogin posts the username and password to the redirectless flow.
// The password never reaches the step history.
func (c *Controller) SubmitLogin(ctx context.Context, session, username, password string) (*StepResult, error) {
	if c.kind != flows.KindRedirectless {
		return nil, fmt.Errorf("%w: %s has no embedded login", ErrWrongStep, c.def.Title)
	}
	return c.run(ctx, session, flows.StepLogin, func(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		if st.Redirectless == nil {
			return nil, nil, fmt.Errorf("%w: start the redirectless flow first", ErrWrongStep)
		}
		request := map[string]string{"flow_id": st.Redirectless.ID, "username": username}
		flow, err := client.SubmitCredentials(ctx, st.Redirectless, username, password)
		if err != nil {
			return request, nil, err
		}
		st.Redirectless = flow
		if flow.Completed() {
			if err = c.acceptCallback(st, flow.AuthorizeResponse); err != nil {
				return request, flow, err
			}
		}
		return request, flow, nil
	})
}

func accessToken(st *store.FlowState) (string, error) {
	if st.Tokens == nil || st.Tokens.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token yet", ErrWrongStep)
	}
	return st.Tokens.AccessToken, nil
}

// UserInfo calls the userinfo endpoint with the access token.
func (c *Controller) UserInfo(ctx context.Context, session string) (*StepResult, error) {
	return c.run(ctx, session, flows.StepUserInfo, c.userInfoStep)
}

func (c *Controller) userInfoStep(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
	token, err := accessToken(st)
	if err != nil {
		return nil, nil, err
	}
	info, err := client.UserInfo(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	st.UserInfo = info
	return nil, info, nil
}

// Introspect asks the provider whether the access token is active.
func (c *Controller) Introspect(ctx context.Context, session string) (*StepResult, error) {
	return c.run(ctx, session, flows.StepIntrospect, c.introspectStep)
}

func (c *Controller) introspectStep(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
	token, err := accessToken(st)
	if err != nil {
		return nil, nil, err
	}
	request := map[string]string{"token_type_hint": "access_token"}
	out, err := client.Introspect(ctx, token, "access_token")
	if err != nil {
		return request, nil, err
	}
	st.Introspection = out
	return request, out, nil
}

// Revoke revokes the refresh token, or the access token when there is
// none, and forgets it.
func (c *Controller) Revoke(ctx context.Context, session string) (*StepResult, error) {
	return c.run(ctx, session, flows.StepRevoke, func(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		if st.Tokens == nil || (st.Tokens.RefreshToken == "" && st.Tokens.AccessToken == "") {
			return nil, nil, fmt.Errorf("%w: no token to revoke", ErrWrongStep)
		}
		token, hint := st.Tokens.RefreshToken, "refresh_token"
		if token == "" {
			token, hint = st.Tokens.AccessToken, "access_token"
		}
		request := map[string]string{"token_type_hint": hint}
		if err := client.Revoke(ctx, token, hint); err != nil {
			return request, nil, err
		}
		if hint == "refresh_token" {
			st.Tokens.RefreshToken = ""
		} else {
			st.Tokens.AccessToken = ""
			st.Introspection = nil
		}
		return request, map[string]bool{"revoked": true}, nil
	})
}

// Refresh trades the refresh token for new tokens.
func (c *Controller) Refresh(ctx context.Context, session string) (*StepResult, error) {
	return c.run(ctx, session, flows.StepRefresh, func(ctx context.Context, st *store.FlowState, client *oauth.Client, _ *store.Credentials) (interface{}, interface{}, error) {
		if st.Tokens == nil || st.Tokens.RefreshToken == "" {
			return nil, nil, fmt.Errorf("%w: no refresh token, request offline_access", ErrWrongStep)
		}
		request := map[string]string{"grant_type": flows.GrantRefreshToken}
		tokens, err := client.Refresh(ctx, st.Tokens.RefreshToken, nil)
		if err != nil {
			return request, nil, err
		}
		st.Tokens.Merge(tokens)
		return request, tokens, nil
	})
}

// Inspect fetches userinfo and introspects the access token in parallel and
// records both as steps. The returned error joins both failures.
func (c *Controller) Inspect(ctx context.Context, session string) ([]*StepResult, error) {
	unlock := c.locks.lock(session + ":" + string(c.kind))
	defer unlock()

	st, err := c.vault.LoadOrNewFlowState(ctx, session, c.kind)
	if err != nil {
		return nil, err
	}
	if _, err = accessToken(st); err != nil {
		return nil, err
	}
	client, creds, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}

	// each call works on a copy so the goroutines never share the state
	userState, introState := *st, *st
	var userRes, introRes execResult
	var g errgroup.Group
	g.Go(func() error {
		userState.History = nil
		userRes = c.exec(ctx, &userState, client, creds, flows.StepUserInfo, c.userInfoStep)
		return nil
	})
	g.Go(func() error {
		introState.History = nil
		introRes = c.exec(ctx, &introState, client, creds, flows.StepIntrospect, c.introspectStep)
		return nil
	})
	_ = g.Wait()

	if userRes.err == nil {
		st.UserInfo = userState.UserInfo
	}
	if introRes.err == nil {
		st.Introspection = introState.Introspection
	}
	st.AddStep(userRes.record)
	st.AddStep(introRes.record)
	if err = c.vault.SaveFlowState(ctx, st); err != nil {
		return nil, err
	}
	return []*StepResult{&userRes.record, &introRes.record}, errors.Join(userRes.err, introRes.err)
}
