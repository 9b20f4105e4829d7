// Package tui is the terminal wizard: pick a flow, edit its credentials
// and run its steps one at a time while the results and toasts show up in
// place.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
)

type screen int

const (
	screenFlows screen = iota
	screenFlow
	screenForm
	screenPaste
	screenLogin
	screenLogs
)

type action int

const (
	actionBegin action = iota
	actionOpen
	actionPaste
	actionLogin
	actionExchange
	actionPoll
	actionUserInfo
	actionIntrospect
	actionRefresh
	actionRevoke
)

// actionFor decides what running step i of def does. The first step always
// starts the flow; PAR's authorize step only opens the browser.
func actionFor(def *flows.Definition, i int) action {
	if i <= 0 || i >= len(def.Steps) {
		return actionBegin
	}
	switch def.Steps[i].ID {
	case flows.StepAuthorize:
		return actionOpen
	case flows.StepCallback:
		return actionPaste
	case flows.StepLogin:
		return actionLogin
	case flows.StepExchange:
		return actionExchange
	case flows.StepDevicePoll:
		return actionPoll
	case flows.StepUserInfo:
		return actionUserInfo
	case flows.StepIntrospect:
		return actionIntrospect
	case flows.StepRefresh:
		return actionRefresh
	case flows.StepRevoke:
		return actionRevoke
	}
	return actionBegin
}

type stepDoneMsg struct {
	kind    flows.Kind
	results []*controller.StepResult
	err     error
	state   *store.FlowState
}

type savedMsg struct {
	kind flows.Kind
	err  error
}

type callbackMsg string

type pollMsg struct{ kind flows.Kind }

// Options tune the wizard.
type Options struct {
	// Session keys the flow state; the CLI uses a fixed one per user.
	Session string
	// Callbacks delivers redirects caught by a local callback listener.
	Callbacks <-chan string
	// OpenBrowser opens URLs; nil disables opening.
	OpenBrowser func(string) error
	// Console is the log buffer shown on the logs screen.
	Console *logging.RingBuffer
	// Config pre-fills the credential form; may be nil.
	Config *config.Config
}

// Model is the wizard state.
type Model struct {
	ctx     context.Context
	manager *controller.Manager
	opts    Options

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	logs    viewport.Model

	screen screen
	width  int
	height int

	cursor     int
	stepCursor int
	kind       flows.Kind
	configured map[flows.Kind]bool

	state   *store.FlowState
	last    *controller.StepResult
	toast   *controller.Toast
	busy    bool
	message string

	form     credForm
	paste    textinput.Model
	username textinput.Model
	password textinput.Model
}

// NewModel builds the wizard on top of manager.
func NewModel(ctx context.Context, manager *controller.Manager, opts Options) Model {
	if opts.Session == "" {
		opts.Session = "cli"
	}
	if opts.Console == nil {
		opts.Console = logging.Console
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(AccentColor)

	paste := textinput.New()
	paste.Placeholder = "http://localhost:3001/callback?code=...&state=..."
	paste.CharLimit = 8192
	paste.Width = 72

	username := textinput.New()
	username.Placeholder = "username"
	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	m := Model{
		ctx:        ctx,
		manager:    manager,
		opts:       opts,
		keys:       DefaultKeyMap(),
		help:       help.New(),
		spinner:    s,
		logs:       viewport.New(100, 20),
		width:      100,
		height:     32,
		configured: make(map[flows.Kind]bool),
		paste:      paste,
		username:   username,
		password:   password,
	}
	m.refreshConfigured()
	return m
}

func (m *Model) refreshConfigured() {
	creds, err := m.manager.Vault().ListCredentials(m.ctx)
	if err != nil {
		return
	}
	m.configured = make(map[flows.Kind]bool, len(creds))
	for kind := range creds {
		m.configured[kind] = true
	}
}

func (m Model) definition() *flows.Definition {
	def, _ := flows.Lookup(m.kind)
	return &def
}

func (m Model) controller() *controller.Controller {
	c, _ := m.manager.Controller(m.kind)
	return c
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForCallback())
}

func (m Model) waitForCallback() tea.Cmd {
	if m.opts.Callbacks == nil {
		return nil
	}
	ch := m.opts.Callbacks
	return func() tea.Msg {
		raw, ok := <-ch
		if !ok {
			return nil
		}
		return callbackMsg(raw)
	}
}

// runStep runs fn off the UI goroutine and reports the outcome.
func (m Model) runStep(fn func(c *controller.Controller, ctx context.Context, session string) ([]*controller.StepResult, error)) tea.Cmd {
	ctrl := m.controller()
	kind, session, ctx := m.kind, m.opts.Session, m.ctx
	return func() tea.Msg {
		results, err := fn(ctrl, ctx, session)
		st, _ := ctrl.State(ctx, session)
		return stepDoneMsg{kind: kind, results: results, err: err, state: st}
	}
}

func single(fn func(*controller.Controller, context.Context, string) (*controller.StepResult, error)) func(*controller.Controller, context.Context, string) ([]*controller.StepResult, error) {
	return func(c *controller.Controller, ctx context.Context, session string) ([]*controller.StepResult, error) {
		res, err := fn(c, ctx, session)
		if res == nil {
			return nil, err
		}
		return []*controller.StepResult{res}, err
	}
}

func (m Model) loadState() tea.Cmd {
	return m.runStep(func(*controller.Controller, context.Context, string) ([]*controller.StepResult, error) {
		return nil, nil
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logs.Width = msg.Width - 4
		m.logs.Height = msg.Height - 6
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stepDoneMsg:
		if msg.kind != m.kind {
			return m, nil
		}
		m.busy = false
		m.state = msg.state
		m.last, m.toast = nil, nil
		if n := len(msg.results); n > 0 {
			m.last = msg.results[n-1]
			m.toast = m.last.Toast
		}
		m.message = ""
		if msg.err != nil && m.toast == nil {
			m.message = msg.err.Error()
		}
		return m, m.afterStep()

	case pollMsg:
		if msg.kind != m.kind || m.screen != screenFlow || m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.runStep(single((*controller.Controller).PollDevice))

	case savedMsg:
		if msg.err != nil {
			m.form.err = msg.err.Error()
			return m, nil
		}
		m.configured[msg.kind] = true
		m.screen = screenFlow
		m.message = "Credentials saved."
		return m, nil

	case callbackMsg:
		return m.handleCallback(string(msg))

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenFlows:
			return m.updateFlows(msg)
		case screenFlow:
			return m.updateFlow(msg)
		case screenForm:
			return m.updateForm(msg)
		case screenPaste:
			return m.updatePaste(msg)
		case screenLogin:
			return m.updateLogin(msg)
		case screenLogs:
			if key.Matches(msg, m.keys.Back) || key.Matches(msg, m.keys.Logs) {
				m.screen = screenFlow
				if m.kind == "" {
					m.screen = screenFlows
				}
				return m, nil
			}
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			return m, cmd
		}
	}

	if m.screen == screenForm {
		var cmd tea.Cmd
		m.form, cmd = m.form.update(msg)
		return m, cmd
	}
	return m, nil
}

// afterStep opens the browser after an authorize URL appears and keeps
// polling a pending device flow.
func (m Model) afterStep() tea.Cmd {
	if m.last == nil || m.state == nil {
		return nil
	}
	switch {
	case m.last.Status == store.StatusOK && m.state.AuthorizeURL != "" && m.kind != flows.KindRedirectless &&
		(m.last.Step == flows.StepAuthorize || m.last.Step == flows.StepPAR):
		if m.opts.OpenBrowser != nil {
			if err := m.opts.OpenBrowser(m.state.AuthorizeURL); err != nil {
				m.message = "Open this URL to sign in: " + m.state.AuthorizeURL
			}
		}
	case m.last.Step == flows.StepDevicePoll && m.last.Status == store.StatusPending && m.state.DeviceAuthorization != nil:
		kind := m.kind
		return tea.Tick(m.state.DeviceAuthorization.PollInterval(), func(time.Time) tea.Msg { return pollMsg{kind: kind} })
	}
	return nil
}

func (m Model) updateFlows(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	catalog := flows.Catalog()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(catalog)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Select):
		m.kind = catalog[m.cursor].Kind
		m.screen = screenFlow
		m.stepCursor = 0
		m.state, m.last, m.toast, m.message = nil, nil, nil, ""
		if !m.configured[m.kind] {
			return m.openForm()
		}
		return m, m.loadState()
	case key.Matches(msg, m.keys.Logs):
		return m.openLogs()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m Model) updateFlow(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	def := m.definition()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back):
		m.screen = screenFlows
		m.kind = ""
		return m, nil
	case key.Matches(msg, m.keys.Up):
		if m.stepCursor > 0 {
			m.stepCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.stepCursor < len(def.Steps)-1 {
			m.stepCursor++
		}
	case key.Matches(msg, m.keys.Credentials):
		return m.openForm()
	case key.Matches(msg, m.keys.Logs):
		return m.openLogs()
	case key.Matches(msg, m.keys.Open):
		return m.openAuthorize()
	case key.Matches(msg, m.keys.Paste):
		return m.openPaste()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Reset):
		if m.busy {
			return m, nil
		}
		if err := m.controller().Reset(m.ctx, m.opts.Session); err != nil {
			m.message = err.Error()
			return m, nil
		}
		m.state, m.last, m.toast, m.stepCursor = nil, nil, nil, 0
		m.message = "Flow reset."
	case key.Matches(msg, m.keys.Select):
		if m.busy {
			return m, nil
		}
		return m.runAction(actionFor(def, m.stepCursor))
	}
	return m, nil
}

func (m Model) runAction(a action) (tea.Model, tea.Cmd) {
	var fn func(*controller.Controller, context.Context, string) ([]*controller.StepResult, error)
	switch a {
	case actionOpen:
		return m.openAuthorize()
	case actionPaste:
		return m.openPaste()
	case actionLogin:
		m.screen = screenLogin
		m.username.Focus()
		m.password.Blur()
		return m, textinput.Blink
	case actionBegin:
		fn = single((*controller.Controller).Begin)
	case actionExchange:
		fn = single((*controller.Controller).Exchange)
	case actionPoll:
		fn = single((*controller.Controller).PollDevice)
	case actionUserInfo:
		fn = single((*controller.Controller).UserInfo)
	case actionIntrospect:
		fn = single((*controller.Controller).Introspect)
	case actionRefresh:
		fn = single((*controller.Controller).Refresh)
	case actionRevoke:
		fn = single((*controller.Controller).Revoke)
	}
	m.busy = true
	m.message = ""
	return m, tea.Batch(m.spinner.Tick, m.runStep(fn))
}

func (m Model) openAuthorize() (tea.Model, tea.Cmd) {
	if m.state == nil || m.state.AuthorizeURL == "" {
		m.message = "Run the first step to build the authorize URL."
		return m, nil
	}
	if m.opts.OpenBrowser == nil {
		m.message = "Open this URL to sign in: " + m.state.AuthorizeURL
		return m, nil
	}
	if err := m.opts.OpenBrowser(m.state.AuthorizeURL); err != nil {
		m.message = "Open this URL to sign in: " + m.state.AuthorizeURL
	}
	return m, nil
}

func (m Model) openPaste() (tea.Model, tea.Cmd) {
	if !m.definition().HasStep(flows.StepCallback) {
		return m, nil
	}
	m.screen = screenPaste
	m.paste.SetValue("")
	m.paste.Focus()
	return m, textinput.Blink
}

func (m Model) openLogs() (tea.Model, tea.Cmd) {
	m.screen = screenLogs
	var b strings.Builder
	for _, e := range m.opts.Console.Recent(200) {
		fmt.Fprintf(&b, "%s %-5s %s\n", e.Timestamp.Format("15:04:05"), strings.ToUpper(e.Level), e.Message)
	}
	m.logs.SetContent(b.String())
	m.logs.GotoBottom()
	return m, nil
}

func (m Model) openForm() (tea.Model, tea.Cmd) {
	def := m.definition()
	creds, err := m.manager.Vault().LoadCredentials(m.ctx, m.kind)
	if err != nil {
		defaults := store.DefaultCredentials(*def, m.opts.Config)
		creds = &defaults
	}
	m.form = newCredForm(*def, *creds)
	m.screen = screenForm
	return m, textinput.Blink
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.screen = screenFlow
		return m, m.loadState()
	case key.Matches(msg, m.keys.NextField):
		m.form.move(1)
		return m, nil
	case key.Matches(msg, m.keys.PrevField):
		m.form.move(-1)
		return m, nil
	case key.Matches(msg, m.keys.Save), msg.Type == tea.KeyEnter && m.form.focus == len(m.form.fields)-1:
		return m.saveForm()
	case msg.Type == tea.KeyEnter:
		m.form.move(1)
		return m, nil
	}
	var cmd tea.Cmd
	m.form, cmd = m.form.update(msg)
	return m, cmd
}

func (m Model) saveForm() (tea.Model, tea.Cmd) {
	vault := m.manager.Vault()
	prev, err := vault.LoadCredentials(m.ctx, m.kind)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.form.err = err.Error()
		return m, nil
	}
	creds, err := m.form.credentials(prev)
	if err != nil {
		m.form.err = err.Error()
		return m, nil
	}
	m.form.err = ""
	m.form.problems = flows.Validate(creds.Request(m.kind))
	if len(m.form.problems) > 0 {
		return m, nil
	}
	kind, ctx := m.kind, m.ctx
	creds.UpdatedAt = time.Now().UTC()
	return m, func() tea.Msg {
		return savedMsg{kind: kind, err: vault.SaveCredentials(ctx, kind, &creds)}
	}
}

func (m Model) updatePaste(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.screen = screenFlow
		return m, nil
	case tea.KeyEnter:
		raw := strings.TrimSpace(m.paste.Value())
		if raw == "" {
			return m, nil
		}
		m.screen = screenFlow
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.runStep(single(func(c *controller.Controller, ctx context.Context, session string) (*controller.StepResult, error) {
			return c.HandleCallback(ctx, session, raw)
		})))
	}
	var cmd tea.Cmd
	m.paste, cmd = m.paste.Update(msg)
	return m, cmd
}

// handleCallback feeds a redirect caught by the local listener to the
// open flow and re-arms the listener.
func (m Model) handleCallback(raw string) (tea.Model, tea.Cmd) {
	next := m.waitForCallback()
	if m.kind == "" || !m.definition().HasStep(flows.StepCallback) {
		m.message = "Received a redirect but no redirect based flow is open."
		return m, next
	}
	m.busy = true
	return m, tea.Batch(next, m.spinner.Tick, m.runStep(single(func(c *controller.Controller, ctx context.Context, session string) (*controller.StepResult, error) {
		return c.HandleCallback(ctx, session, raw)
	})))
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.screen = screenFlow
		return m, nil
	case tea.KeyTab, tea.KeyShiftTab:
		if m.username.Focused() {
			m.username.Blur()
			m.password.Focus()
		} else {
			m.password.Blur()
			m.username.Focus()
		}
		return m, nil
	case tea.KeyEnter:
		if m.username.Focused() {
			m.username.Blur()
			m.password.Focus()
			return m, nil
		}
		username, password := strings.TrimSpace(m.username.Value()), m.password.Value()
		if username == "" || password == "" {
			return m, nil
		}
		m.password.SetValue("")
		m.screen = screenFlow
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.runStep(single(func(c *controller.Controller, ctx context.Context, session string) (*controller.StepResult, error) {
			return c.SubmitLogin(ctx, session, username, password)
		})))
	}
	var cmd tea.Cmd
	if m.username.Focused() {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	width := m.width - 4
	if width < 40 {
		width = 40
	}
	var body string
	switch m.screen {
	case screenFlows:
		body = m.viewFlows(width)
	case screenFlow:
		body = m.viewFlow(width)
	case screenForm:
		body = m.form.view(m.definition().Title, width)
		return lipgloss.JoinVertical(lipgloss.Left, body, m.help.View(formKeys{m.keys}))
	case screenPaste:
		body = PanelStyle.Width(width).Render(TitleStyle.Render("Paste the redirect URL") + "\n" + m.paste.View() + "\n\n" + DimStyle.Render("enter to submit · esc to cancel"))
	case screenLogin:
		body = PanelStyle.Width(width).Render(TitleStyle.Render("Sign in") + "\n" +
			LabelStyle.Render("Username") + m.username.View() + "\n" +
			LabelStyle.Render("Password") + m.password.View() + "\n\n" +
			DimStyle.Render("tab to switch · enter to submit · esc to cancel"))
	case screenLogs:
		body = PanelStyle.Width(width).Render(TitleStyle.Render("Logs") + "\n" + m.logs.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.help.View(m.keys))
}

func (m Model) viewFlows(width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("PingOne OAuth Playground"))
	b.WriteString("\n")
	for i, def := range flows.Catalog() {
		mark := DimStyle.Render("○")
		if m.configured[def.Kind] {
			mark = DoneItemStyle.Render("●")
		}
		line := fmt.Sprintf("%s %-32s %s", mark, def.Title, DimStyle.Render(strings.Join(def.RFCs, ", ")))
		if i == m.cursor {
			line = SelectedItemStyle.Render("> " + line)
		} else {
			line = MenuItemStyle.Render("  " + line)
		}
		b.WriteString(line + "\n")
	}
	if def := flows.Catalog()[m.cursor]; def.Summary != "" {
		b.WriteString("\n" + SubtitleStyle.Width(width-4).Render(def.Summary))
	}
	return PanelStyle.Width(width).Render(b.String())
}

func (m Model) viewFlow(width int) string {
	def := m.definition()
	var b strings.Builder
	b.WriteString(TitleStyle.Render(def.Title))
	b.WriteString("\n")

	done := make(map[flows.Step]bool)
	if m.state != nil {
		for _, rec := range m.state.History {
			if rec.Status == store.StatusOK {
				done[rec.Step] = true
			}
		}
	}
	for i, step := range def.Steps {
		mark := "○"
		if done[step.ID] {
			mark = DoneItemStyle.Render("✓")
		}
		line := fmt.Sprintf("%s %d. %s", mark, i+1, step.Title)
		if i == m.stepCursor {
			b.WriteString(SelectedItemStyle.Render("> "+line) + "\n")
			b.WriteString(DimStyle.Width(width-6).PaddingLeft(4).Render(step.Description) + "\n")
		} else {
			b.WriteString(MenuItemStyle.Render("  "+line) + "\n")
		}
	}

	if m.busy {
		b.WriteString("\n" + m.spinner.View() + " working...\n")
	}
	if m.toast != nil {
		b.WriteString("\n" + toastStyle(m.toast.Level).Render(m.toast.Title) + " " + m.toast.Message + "\n")
	}
	if m.message != "" {
		b.WriteString("\n" + SubtitleStyle.Width(width-4).Render(m.message) + "\n")
	}
	if m.state != nil && m.state.DeviceAuthorization != nil && (m.state.Tokens == nil || m.state.Tokens.AccessToken == "") {
		d := m.state.DeviceAuthorization
		fmt.Fprintf(&b, "\nVisit %s and enter %s\n", d.VerificationURI, lipgloss.NewStyle().Bold(true).Render(d.UserCode))
	}
	if m.last != nil && len(m.last.Response) > 0 {
		b.WriteString("\n" + DimStyle.Render("response") + "\n")
		b.WriteString(prettyJSON(m.last.Response, width-4, 14))
	}
	return PanelStyle.Width(width).Render(b.String())
}

// prettyJSON indents raw and keeps at most maxLines lines.
func prettyJSON(raw json.RawMessage, width, maxLines int) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	lines := strings.Split(string(out), "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}
	for i, line := range lines {
		lines[i] = util.Truncate(line, width)
	}
	return strings.Join(lines, "\n")
}
