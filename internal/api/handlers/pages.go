package handlers

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/*.html")
}

type indexView struct {
	Version    string
	Flows      []flowSummary
	Companies  []config.MockCompany
	Configured int
}

// IndexPage lists the flows.
func (h *Handler) IndexPage(c *gin.Context) {
	ctx := c.Request.Context()
	creds, err := h.vault.ListCredentials(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	view := indexView{Version: buildinfo.Version}
	for _, def := range flows.Catalog() {
		_, ok := creds[def.Kind]
		if ok {
			view.Configured++
		}
		view.Flows = append(view.Flows, flowSummary{Definition: def, Configured: ok})
	}
	if cfg := h.config(); cfg != nil {
		view.Companies = cfg.MockCompanies
	}
	c.HTML(http.StatusOK, "index.html", view)
}

// FlowPage renders the step by step wizard of one flow. The page drives
// the JSON API itself.
func (h *Handler) FlowPage(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "flow.html", gin.H{
		"Version": buildinfo.Version,
		"Flow":    ctrl.Definition(),
	})
}

// CallbackPage is the redirect URI. Query responses are handled here;
// fragment responses never reach the server, so the page posts its own
// location to /api/callback.
func (h *Handler) CallbackPage(c *gin.Context) {
	if c.Request.URL.RawQuery == "" || c.Query("state") == "" {
		c.HTML(http.StatusOK, "callback.html", gin.H{"Version": buildinfo.Version})
		return
	}
	ctx := c.Request.Context()
	raw := "?" + c.Request.URL.RawQuery
	kind, err := h.flowForCallback(ctx, session(c), raw)
	if err != nil {
		c.HTML(toAppError(err).HTTPStatusCode, "callback.html", gin.H{"Version": buildinfo.Version, "Error": toAppError(err)})
		return
	}
	ctrl, err := h.manager.Controller(kind)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err = ctrl.HandleCallback(ctx, session(c), raw); err != nil {
		log.WithError(err).WithField("flow", kind).Warn("callback rejected")
	}
	// the flow page shows the recorded step, failed or not
	c.Redirect(http.StatusSeeOther, "/flows/"+string(kind))
}

type mockLoginView struct {
	Version    string
	Company    config.MockCompany
	Username   string
	Error      string
	Configured bool
}

func (h *Handler) company(c *gin.Context) (config.MockCompany, bool) {
	cfg := h.config()
	if cfg == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return config.MockCompany{}, false
	}
	company, ok := cfg.Company(c.Param("company"))
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return config.MockCompany{}, false
	}
	return company, true
}

// MockLoginPage renders a branded login form backed by the redirectless flow.
func (h *Handler) MockLoginPage(c *gin.Context) {
	company, ok := h.company(c)
	if !ok {
		return
	}
	_, err := h.vault.LoadCredentials(c.Request.Context(), flows.KindRedirectless)
	c.HTML(http.StatusOK, "mock_login.html", mockLoginView{
		Version:    buildinfo.Version,
		Company:    company,
		Configured: err == nil,
	})
}

// MockLoginSubmit runs the whole redirectless flow with the posted
// username and password, then shows the result on the flow page.
func (h *Handler) MockLoginSubmit(c *gin.Context) {
	company, ok := h.company(c)
	if !ok {
		return
	}
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	view := mockLoginView{Version: buildinfo.Version, Company: company, Username: username, Configured: true}
	if username == "" || password == "" {
		view.Error = "Enter your username and password."
		c.HTML(http.StatusBadRequest, "mock_login.html", view)
		return
	}

	if err := h.redirectlessLogin(c, username, password); err != nil {
		appErr := toAppError(err)
		view.Error = appErr.Message
		if errors.Is(err, store.ErrNotFound) || appErr.Code == "no_credentials" {
			view.Configured = false
		}
		log.WithError(err).WithField("company", company.ID).Warn("mock login failed")
		c.HTML(appErr.HTTPStatusCode, "mock_login.html", view)
		return
	}
	c.Redirect(http.StatusSeeOther, "/flows/"+string(flows.KindRedirectless))
}

func (h *Handler) redirectlessLogin(c *gin.Context, username, password string) error {
	ctrl, err := h.manager.Controller(flows.KindRedirectless)
	if err != nil {
		return err
	}
	ctx, sess := c.Request.Context(), session(c)
	if _, err = ctrl.Begin(ctx, sess); err != nil {
		return err
	}
	st, err := ctrl.State(ctx, sess)
	if err != nil {
		return err
	}
	if st.AuthCode == "" {
		if _, err = ctrl.SubmitLogin(ctx, sess, username, password); err != nil {
			return err
		}
	}
	_, err = ctrl.Exchange(ctx, sess)
	return err
}
