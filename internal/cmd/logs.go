package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/flowlab/oauth-playground/internal/util"
)

// DefaultLogLines is the default number of log lines to show
const DefaultLogLines = 50

// LogsOutput is the JSON shape of ShowLogs.
type LogsOutput struct {
	Count   int                `json:"count"`
	Entries []logging.LogEntry `json:"entries"`
}

// ShowLogs prints the recent log entries of the running server.
func ShowLogs(ctx context.Context, app *App, n int, level string, jsonOutput bool) error {
	if n <= 0 {
		n = DefaultLogLines
	}
	entries, err := fetchLogs(ctx, app, n, level)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(LogsOutput{Count: len(entries), Entries: entries})
	}
	return outputLogsTable(entries)
}

// serverURL is the base URL of the configured server.
func serverURL(app *App) string {
	host := app.Config.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(app.Config.Port))
}

func fetchLogs(ctx context.Context, app *App, n int, level string) ([]logging.LogEntry, error) {
	q := url.Values{"n": {strconv.Itoa(n)}}
	if level != "" {
		q.Set("level", level)
	}
	endpoint := serverURL(app) + "/api/logs?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	// the server is local; never route it through the provider proxy
	resp, err := (&http.Client{Timeout: time.Duration(app.Config.RequestTimeoutOrDefault()) * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logs request returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Entries []logging.LogEntry `json:"entries"`
	}
	if err = json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}
	return out.Entries, nil
}

func outputLogsTable(entries []logging.LogEntry) error {
	if len(entries) == 0 {
		fmt.Printf("%sNo log entries available%s\n", colorYellow, colorReset)
		fmt.Printf("%sLogs are captured while the server runs.%s\n", colorDim, colorReset)
		return nil
	}

	fmt.Printf("\n%s%sPlayground Logs%s (%d entries)\n", colorBold, colorCyan, colorReset, len(entries))
	fmt.Printf("%s%s%s\n\n", colorDim, rule, colorReset)
	for _, entry := range entries {
		message := util.Truncate(strings.TrimRight(entry.Message, "\r\n"), 100)
		fmt.Printf("%s%s%s %s %s\n", colorDim, entry.Timestamp.Format("15:04:05"), colorReset, formatLogLevel(entry.Level), message)
	}
	fmt.Printf("\n%s%s%s\n", colorDim, rule, colorReset)
	return nil
}

func formatLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return colorDim + "[DEBUG]" + colorReset
	case "info":
		return colorBlue + "[INFO] " + colorReset
	case "warn", "warning":
		return colorYellow + "[WARN] " + colorReset
	case "error":
		return colorRed + "[ERROR]" + colorReset
	case "fatal", "panic":
		return colorRed + colorBold + "[FATAL]" + colorReset
	default:
		return "[" + strings.ToUpper(level) + "]"
	}
}
