package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/flowlab/oauth-playground/internal/controller"
	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/itchyny/gojq"
)

// flowSummary is one row of GET /api/flows.
type flowSummary struct {
	flows.Definition
	Configured  bool       `json:"configured"`
	CurrentStep flows.Step `json:"current_step,omitempty"`
}

// ListFlows returns the catalog with per-session progress.
func (h *Handler) ListFlows(c *gin.Context) {
	ctx := c.Request.Context()
	creds, err := h.vault.ListCredentials(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	states, err := h.vault.ListFlows(ctx, session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	progress := make(map[flows.Kind]flows.Step, len(states))
	for _, st := range states {
		progress[st.FlowKey] = st.CurrentStep
	}

	out := make([]flowSummary, 0, len(flows.Catalog()))
	for _, def := range flows.Catalog() {
		_, ok := creds[def.Kind]
		out = append(out, flowSummary{Definition: def, Configured: ok, CurrentStep: progress[def.Kind]})
	}
	c.JSON(http.StatusOK, gin.H{"flows": out})
}

// GetFlow returns the definition, the redacted credentials and the state.
func (h *Handler) GetFlow(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	resp := gin.H{"flow": ctrl.Definition()}
	if creds, err := h.vault.LoadCredentials(ctx, ctrl.Kind()); err == nil {
		resp["credentials"] = creds.Redacted()
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	if st, err := ctrl.State(ctx, session(c)); err == nil {
		resp["state"] = st
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetState returns the session's flow state. The optional q parameter is a
// jq expression evaluated against it, e.g. q=.tokens.access_token.
func (h *Handler) GetState(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	st, err := ctrl.State(c.Request.Context(), session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	expr := strings.TrimSpace(c.Query("q"))
	if expr == "" {
		c.JSON(http.StatusOK, st)
		return
	}
	results, err := queryState(c.Request.Context(), st, expr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": expr, "results": results})
}

// queryState runs a jq expression over the JSON form of st.
func queryState(ctx context.Context, st *store.FlowState, expr string) ([]interface{}, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, apperrors.BadRequest("invalid_query", "unable to parse query: "+err.Error(), err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, apperrors.BadRequest("invalid_query", "unable to compile query: "+err.Error(), err)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err = json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	results := []interface{}{}
	iter := code.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if errRun, isErr := v.(error); isErr {
			return nil, apperrors.BadRequest("invalid_query", errRun.Error(), errRun)
		}
		results = append(results, v)
	}
	return results, nil
}

// stepResponse answers a step call. Provider failures still carry the
// step so the page can show the exchange and the toast.
func (h *Handler) stepResponse(c *gin.Context, ctrl *controller.Controller, results []*controller.StepResult, err error) {
	var st *store.FlowState
	if len(results) > 0 {
		st, _ = ctrl.State(c.Request.Context(), session(c))
	}
	body := gin.H{"steps": results, "state": st}
	if err == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	if len(results) == 0 {
		respondError(c, err)
		return
	}
	appErr := toAppError(err)
	status := appErr.HTTPStatusCode
	if errors.Is(err, oauth.ErrAuthorizationPending) || errors.Is(err, oauth.ErrSlowDown) {
		status = http.StatusAccepted
	}
	body["error"] = appErr
	c.JSON(status, body)
}

func (h *Handler) runStep(c *gin.Context, fn func(ctrl *controller.Controller, ctx context.Context, session string) (*controller.StepResult, error)) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	res, err := fn(ctrl, c.Request.Context(), session(c))
	var results []*controller.StepResult
	if res != nil {
		results = append(results, res)
	}
	h.stepResponse(c, ctrl, results, err)
}

// Begin starts the flow.
func (h *Handler) Begin(c *gin.Context) {
	h.runStep(c, (*controller.Controller).Begin)
}

type callbackBody struct {
	URL string `json:"url" binding:"required"`
}

// Callback hands a redirect URL (or its fragment) to the flow.
func (h *Handler) Callback(c *gin.Context) {
	var body callbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "url is required", err))
		return
	}
	h.runStep(c, func(ctrl *controller.Controller, ctx context.Context, sess string) (*controller.StepResult, error) {
		return ctrl.HandleCallback(ctx, sess, body.URL)
	})
}

// CallbackAnyFlow routes a redirect to the flow whose state it carries.
func (h *Handler) CallbackAnyFlow(c *gin.Context) {
	var body callbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "url is required", err))
		return
	}
	kind, err := h.flowForCallback(c.Request.Context(), session(c), body.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Params = append(c.Params, gin.Param{Key: "flow", Value: string(kind)})
	h.runStep(c, func(ctrl *controller.Controller, ctx context.Context, sess string) (*controller.StepResult, error) {
		return ctrl.HandleCallback(ctx, sess, body.URL)
	})
}

// flowForCallback finds the session's flow waiting for the state in raw.
func (h *Handler) flowForCallback(ctx context.Context, sess, raw string) (flows.Kind, error) {
	res, _ := oauth.ParseCallback(raw, "")
	if res == nil || res.State == "" {
		return "", apperrors.BadRequest("callback_rejected", "the redirect carries no state", nil)
	}
	states, err := h.vault.ListFlows(ctx, sess)
	if err != nil {
		return "", err
	}
	for _, st := range states {
		if st.State == res.State {
			return st.FlowKey, nil
		}
	}
	return "", apperrors.NotFound("unknown_state", "no flow in this session is waiting for that state")
}

// Exchange redeems the authorization code.
func (h *Handler) Exchange(c *gin.Context) {
	h.runStep(c, (*controller.Controller).Exchange)
}

// PollDevice polls the device token once. Pending answers are 202.
func (h *Handler) PollDevice(c *gin.Context) {
	h.runStep(c, (*controller.Controller).PollDevice)
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login submits credentials to the redirectless flow.
func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "username and password are required", err))
		return
	}
	h.runStep(c, func(ctrl *controller.Controller, ctx context.Context, sess string) (*controller.StepResult, error) {
		return ctrl.SubmitLogin(ctx, sess, body.Username, body.Password)
	})
}

// UserInfo fetches the userinfo claims.
func (h *Handler) UserInfo(c *gin.Context) {
	h.runStep(c, (*controller.Controller).UserInfo)
}

// Introspect introspects the access token.
func (h *Handler) Introspect(c *gin.Context) {
	h.runStep(c, (*controller.Controller).Introspect)
}

// Revoke revokes the refresh or access token.
func (h *Handler) Revoke(c *gin.Context) {
	h.runStep(c, (*controller.Controller).Revoke)
}

// Refresh uses the refresh token.
func (h *Handler) Refresh(c *gin.Context) {
	h.runStep(c, (*controller.Controller).Refresh)
}

// Inspect fetches userinfo and introspection in parallel.
func (h *Handler) Inspect(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	results, err := ctrl.Inspect(c.Request.Context(), session(c))
	h.stepResponse(c, ctrl, results, err)
}

// Reset forgets the session's progress for the flow.
func (h *Handler) Reset(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	if err := ctrl.Reset(c.Request.Context(), session(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
