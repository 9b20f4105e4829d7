// Package cmd provides the CLI command implementations of the playground.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

const rule = "───────────────────────────────────────────────────────────────"

func toastColor(level string) string {
	switch level {
	case store.ToastSuccess:
		return colorGreen
	case store.ToastWarning:
		return colorYellow
	case store.ToastError:
		return colorRed
	default:
		return colorBlue
	}
}

func statusMark(status string) string {
	switch status {
	case store.StatusOK:
		return colorGreen + "✓" + colorReset
	case store.StatusPending:
		return colorYellow + "…" + colorReset
	default:
		return colorRed + "✗" + colorReset
	}
}

// printStep writes one step outcome. verbose adds the request and response.
func printStep(out io.Writer, res *controller.StepResult, verbose bool) {
	if res == nil {
		return
	}
	title, msg, color := string(res.Step), "", colorBlue
	if res.Toast != nil {
		title, msg, color = res.Toast.Title, res.Toast.Message, toastColor(res.Toast.Level)
	}
	fmt.Fprintf(out, "%s %s%s%s %s\n", statusMark(res.Status), colorBold, title, colorReset, color+msg+colorReset)
	if !verbose {
		return
	}
	for _, ex := range res.Exchanges {
		fmt.Fprintf(out, "  %s%s %s -> %d (%dms)%s\n", colorDim, ex.Method, ex.URL, ex.Status, ex.DurationMS, colorReset)
	}
	if len(res.Response) > 0 {
		fmt.Fprintf(out, "%s\n", indentJSON(res.Response, "  "))
	}
}

// printTokens summarises the tokens a flow ended with.
func printTokens(out io.Writer, st *store.FlowState) {
	if st == nil || st.Tokens == nil {
		return
	}
	t := st.Tokens
	fmt.Fprintf(out, "\n%s%sTokens%s\n%s%s%s\n", colorBold, colorCyan, colorReset, colorDim, rule, colorReset)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "  %-14s %s\n", label, value)
		}
	}
	row("access_token", util.Truncate(t.AccessToken, 48))
	row("token_type", t.TokenType)
	row("scope", t.Scope)
	if !t.Expiry.IsZero() {
		row("expires", t.Expiry.Local().Format("15:04:05"))
	}
	row("refresh_token", util.Truncate(t.RefreshToken, 48))
	row("id_token", util.Truncate(t.IDToken, 48))
	if len(t.AuthorizationDetails) > 0 {
		row("auth_details", string(t.AuthorizationDetails))
	}
}

func indentJSON(raw json.RawMessage, prefix string) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return prefix + string(raw)
	}
	out, err := json.MarshalIndent(v, prefix, "  ")
	if err != nil {
		return prefix + string(raw)
	}
	return prefix + string(out)
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}
