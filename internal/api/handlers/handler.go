// Package handlers implements the playground HTTP endpoints: the wizard
// pages, the JSON API the pages call, and the live log stream.
package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/flowlab/oauth-playground/internal/api/middleware"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/controller"
	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/postman"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handler serves every playground route.
type Handler struct {
	manager    *controller.Manager
	vault      *store.Vault
	httpClient *http.Client
	console    *logging.RingBuffer

	cfgMu sync.RWMutex
	cfg   *config.Config
}

// NewHandler wires the handler. httpClient is used for discovery and JWKS
// calls and may be nil.
func NewHandler(cfg *config.Config, manager *controller.Manager, httpClient *http.Client, console *logging.RingBuffer) *Handler {
	if console == nil {
		console = logging.Console
	}
	return &Handler{
		manager:    manager,
		vault:      manager.Vault(),
		httpClient: httpClient,
		console:    console,
		cfg:        cfg,
	}
}

// SetConfig swaps the configuration after a reload.
func (h *Handler) SetConfig(cfg *config.Config) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

func (h *Handler) config() *config.Config {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// controllerFor resolves the :flow path parameter.
func (h *Handler) controllerFor(c *gin.Context) (*controller.Controller, bool) {
	kind, err := flows.ParseKind(c.Param("flow"))
	if err != nil {
		respondError(c, apperrors.NotFound("unknown_flow", err.Error()))
		return nil, false
	}
	ctrl, err := h.manager.Controller(kind)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) publisher() (*postman.Publisher, error) {
	cfg := h.config()
	if cfg == nil || !cfg.Postman.Bucket.Enabled() {
		return nil, nil
	}
	return postman.NewPublisher(cfg.Postman.Bucket)
}

func (h *Handler) metadataClient(endpoints *pingone.Endpoints) *pingone.Client {
	opts := pingone.Options{HTTPClient: h.httpClient}
	if cfg := h.config(); cfg != nil {
		opts.Timeout = time.Duration(cfg.Provider.DiscoveryTimeoutSeconds) * time.Second
		opts.Retries = cfg.Provider.DiscoveryRetries
	}
	return pingone.NewClient(endpoints, opts)
}

// toAppError classifies err for the JSON response.
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var problems flows.ProblemsError
	if errors.As(err, &problems) {
		return apperrors.BadRequest("invalid_configuration", "the flow configuration is invalid", err).
			WithDetail("problems", []flows.Problem(problems))
	}
	switch {
	case errors.Is(err, controller.ErrNoCredentials):
		return apperrors.New(http.StatusPreconditionFailed, "no_credentials", "save the application credentials for this flow first", err)
	case errors.Is(err, controller.ErrWrongStep):
		return apperrors.New(http.StatusConflict, "wrong_step", err.Error(), err)
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("not_found", "nothing stored yet")
	case errors.Is(err, oauth.ErrStateMismatch), errors.Is(err, controller.ErrNonceMismatch):
		return apperrors.BadRequest("callback_rejected", err.Error(), err)
	case errors.Is(err, pingone.ErrInvalidEnvironmentID), errors.Is(err, pingone.ErrUnknownRegion),
		errors.Is(err, oauth.ErrMissingClientID):
		return apperrors.BadRequest("invalid_credentials", err.Error(), err)
	}
	return apperrors.FromError(err)
}

func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatusCode >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.AbortWithStatusJSON(appErr.HTTPStatusCode, appErr)
}

func session(c *gin.Context) string {
	return middleware.SessionID(c)
}

// Register attaches every route to engine.
func (h *Handler) Register(engine *gin.Engine) {
	engine.GET("/", h.IndexPage)
	engine.GET("/flows/:flow", h.FlowPage)
	engine.GET("/callback", h.CallbackPage)
	engine.GET("/mock/:company/login", h.MockLoginPage)
	engine.POST("/mock/:company/login", h.MockLoginSubmit)
	engine.GET("/ws/logs", h.LogStream)

	api := engine.Group("/api")
	{
		api.GET("/flows", h.ListFlows)
		api.GET("/flows/:flow", h.GetFlow)
		api.GET("/flows/:flow/state", h.GetState)
		api.POST("/flows/:flow/begin", h.Begin)
		api.POST("/flows/:flow/callback", h.Callback)
		api.POST("/flows/:flow/exchange", h.Exchange)
		api.POST("/flows/:flow/device/poll", h.PollDevice)
		api.POST("/flows/:flow/login", h.Login)
		api.POST("/flows/:flow/userinfo", h.UserInfo)
		api.POST("/flows/:flow/introspect", h.Introspect)
		api.POST("/flows/:flow/revoke", h.Revoke)
		api.POST("/flows/:flow/refresh", h.Refresh)
		api.POST("/flows/:flow/inspect", h.Inspect)
		api.POST("/flows/:flow/reset", h.Reset)
		api.POST("/callback", h.CallbackAnyFlow)

		api.GET("/credentials/:flow", h.GetCredentials)
		api.PUT("/credentials/:flow", h.PutCredentials)
		api.DELETE("/credentials/:flow", h.DeleteCredentials)

		api.POST("/validate", h.Validate)
		api.POST("/postman", h.Postman)
		api.GET("/discovery", h.Discovery)
		api.POST("/decode", h.Decode)
		api.GET("/logs", h.Logs)
	}
}
