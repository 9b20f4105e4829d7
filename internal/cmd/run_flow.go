package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
)

// DefaultCallbackTimeout bounds the wait for the browser redirect.
const DefaultCallbackTimeout = 5 * time.Minute

// RunOptions configure RunFlow.
type RunOptions struct {
	// Session keys the flow state. Defaults to "cli".
	Session string
	// NoBrowser prints URLs instead of opening them.
	NoBrowser bool
	// CallbackPort is the local redirect listener port.
	CallbackPort int
	// CallbackTimeout bounds the wait for the redirect.
	CallbackTimeout time.Duration
	// Verbose prints every request and response.
	Verbose bool
	In      io.Reader
	Out     io.Writer
	// OpenBrowser overrides the system browser.
	OpenBrowser func(string) error
}

func (o *RunOptions) applyDefaults(cfg *App) {
	if o.Session == "" {
		o.Session = "cli"
	}
	if o.CallbackPort == 0 {
		o.CallbackPort = cfg.Config.CallbackPort
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = DefaultCallbackTimeout
	}
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.OpenBrowser == nil {
		o.OpenBrowser = browser.OpenURL
	}
}

// flowRun drives one flow from the terminal.
type flowRun struct {
	app  *App
	ctrl *controller.Controller
	def  flows.Definition
	opts RunOptions
	p    *prompter
	out  io.Writer
}

// RunFlow runs every step of kind in order, prompting for credentials when
// none are saved and catching the redirect on a local listener.
func RunFlow(ctx context.Context, app *App, kind flows.Kind, opts RunOptions) error {
	opts.applyDefaults(app)
	ctrl, err := app.Manager.Controller(kind)
	if err != nil {
		return err
	}
	r := &flowRun{
		app:  app,
		ctrl: ctrl,
		def:  ctrl.Definition(),
		opts: opts,
		p:    newPrompter(opts.In, opts.Out),
		out:  opts.Out,
	}
	if _, err = r.ensureCredentials(ctx); err != nil {
		return err
	}
	if err = ctrl.Reset(ctx, opts.Session); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "\n%s%s%s%s\n%s%s%s\n", colorBold, colorCyan, r.def.Title, colorReset, colorDim, rule, colorReset)
	return r.run(ctx)
}

func (r *flowRun) ensureCredentials(ctx context.Context) (*store.Credentials, error) {
	creds, err := r.app.Vault.LoadCredentials(ctx, r.def.Kind)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	fmt.Fprintf(r.out, "%sNo credentials saved for %s. They are stored for the next run.%s\n", colorYellow, r.def.Title, colorReset)
	c := store.DefaultCredentials(r.def, r.app.Config)
	if r.def.RequiresRedirect {
		c.RedirectURI = fmt.Sprintf("http://localhost:%d/callback", r.opts.CallbackPort)
	}
	if c.EnvironmentID, err = r.p.ask("Environment ID", c.EnvironmentID); err != nil {
		return nil, err
	}
	if c.ClientID, err = r.p.ask("Client ID", c.ClientID); err != nil {
		return nil, err
	}
	method, err := r.p.ask("Auth method", string(c.AuthMethod))
	if err != nil {
		return nil, err
	}
	c.AuthMethod = flows.AuthMethod(method)
	if c.AuthMethod.NeedsSecret() {
		if c.ClientSecret, err = r.p.secret("Client secret"); err != nil {
			return nil, err
		}
		if c.ClientSecret == "" {
			c.ClientSecret = r.app.Config.Defaults.ClientSecret
		}
	}
	if r.def.RequiresRedirect {
		if c.RedirectURI, err = r.p.ask("Redirect URI", c.RedirectURI); err != nil {
			return nil, err
		}
	}
	scopes, err := r.p.ask("Scopes", strings.Join(c.Scopes, " "))
	if err != nil {
		return nil, err
	}
	c.Scopes = strings.Fields(scopes)

	if problems := flows.Validate(c.Request(r.def.Kind)); len(problems) > 0 {
		return nil, flows.ProblemsError(problems)
	}
	c.UpdatedAt = time.Now().UTC()
	if err = r.app.Vault.SaveCredentials(ctx, r.def.Kind, &c); err != nil {
		return nil, err
	}
	log.WithField("flow", r.def.Kind).Info("credentials saved")
	return &c, nil
}

func (r *flowRun) state(ctx context.Context) (*store.FlowState, error) {
	return r.ctrl.State(ctx, r.opts.Session)
}

func (r *flowRun) run(ctx context.Context) error {
	res, err := r.ctrl.Begin(ctx, r.opts.Session)
	printStep(r.out, res, r.opts.Verbose)
	if err != nil {
		return err
	}

	switch {
	case r.def.HasStep(flows.StepCallback):
		err = r.redirect(ctx)
	case r.def.HasStep(flows.StepDevicePoll):
		err = r.device(ctx)
	case r.def.HasStep(flows.StepLogin):
		err = r.login(ctx)
	}
	if err != nil {
		return err
	}

	st, err := r.state(ctx)
	if err != nil {
		return err
	}
	if r.def.HasStep(flows.StepExchange) && st.AuthCode != "" {
		res, err = r.ctrl.Exchange(ctx, r.opts.Session)
		printStep(r.out, res, r.opts.Verbose)
		if err != nil {
			return err
		}
	}
	if r.def.HasStep(flows.StepUserInfo) {
		// a failed userinfo call still leaves usable tokens
		res, _ = r.ctrl.UserInfo(ctx, r.opts.Session)
		printStep(r.out, res, true)
	}
	if st, err = r.state(ctx); err != nil {
		return err
	}
	printTokens(r.out, st)
	return nil
}

func (r *flowRun) open(target string) {
	if r.opts.NoBrowser {
		fmt.Fprintf(r.out, "Open this URL in a browser:\n  %s\n", target)
		return
	}
	if err := r.opts.OpenBrowser(target); err != nil {
		fmt.Fprintf(r.out, "%sCould not open a browser.%s Open this URL:\n  %s\n", colorYellow, colorReset, target)
		return
	}
	fmt.Fprintf(r.out, "%sOpened %s%s\n", colorDim, target, colorReset)
}

// listener returns a callback server when the redirect URI points at the
// local callback port, or nil.
func (r *flowRun) listener(redirectURI string) *CallbackServer {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return nil
	}
	if port, _ := strconv.Atoi(u.Port()); port != r.opts.CallbackPort {
		return nil
	}
	srv := NewCallbackServer(r.opts.CallbackPort, u.Path)
	if err = srv.Start(); err != nil {
		log.Warnf("redirect listener unavailable: %v", err)
		return nil
	}
	return srv
}

func (r *flowRun) redirect(ctx context.Context) error {
	st, err := r.state(ctx)
	if err != nil {
		return err
	}
	if st.AuthorizeURL == "" {
		return fmt.Errorf("%s did not produce an authorize URL", r.def.Title)
	}
	creds, err := r.app.Vault.LoadCredentials(ctx, r.def.Kind)
	if err != nil {
		return err
	}

	srv := r.listener(creds.RedirectURI)
	if srv != nil {
		defer func() {
			if errStop := srv.Stop(context.Background()); errStop != nil {
				log.Debugf("failed to stop callback server: %v", errStop)
			}
		}()
	}
	r.open(st.AuthorizeURL)

	var raw string
	if srv != nil {
		fmt.Fprintf(r.out, "Waiting for the redirect on %s ...\n", srv.URL())
		raw, err = srv.WaitForCallback(ctx, r.opts.CallbackTimeout)
	} else {
		raw, err = r.p.ask("Paste the URL the browser was redirected to", "")
	}
	if err != nil {
		return err
	}

	res, err := r.ctrl.HandleCallback(ctx, r.opts.Session, raw)
	printStep(r.out, res, r.opts.Verbose)
	return err
}

func (r *flowRun) device(ctx context.Context) error {
	st, err := r.state(ctx)
	if err != nil {
		return err
	}
	d := st.DeviceAuthorization
	if d == nil {
		return fmt.Errorf("device authorization missing from flow state")
	}
	fmt.Fprintf(r.out, "\nVisit %s%s%s and enter the code %s%s%s\n\n", colorCyan, d.VerificationURI, colorReset, colorBold, d.UserCode, colorReset)
	if d.VerificationURIComplete != "" {
		r.open(d.VerificationURIComplete)
	}

	for {
		wait := time.NewTimer(d.PollInterval())
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}

		res, err := r.ctrl.PollDevice(ctx, r.opts.Session)
		if err == nil {
			printStep(r.out, res, r.opts.Verbose)
			return nil
		}
		if res == nil || res.Status != store.StatusPending {
			printStep(r.out, res, r.opts.Verbose)
			return err
		}
		if r.opts.Verbose {
			printStep(r.out, res, false)
		}
		// slow_down raises the interval
		if st, err = r.state(ctx); err == nil && st.DeviceAuthorization != nil {
			d = st.DeviceAuthorization
		}
	}
}

func (r *flowRun) login(ctx context.Context) error {
	st, err := r.state(ctx)
	if err != nil {
		return err
	}
	// an existing provider session completes without a login
	if st.AuthCode != "" {
		return nil
	}
	username, err := r.p.ask("Username", "")
	if err != nil {
		return err
	}
	password, err := r.p.secret("Password")
	if err != nil {
		return err
	}
	res, err := r.ctrl.SubmitLogin(ctx, r.opts.Session, username, password)
	printStep(r.out, res, r.opts.Verbose)
	return err
}
