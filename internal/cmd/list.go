package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowlab/oauth-playground/internal/flows"
)

// FlowEntry is one row of ListFlows.
type FlowEntry struct {
	Kind       flows.Kind `json:"kind"`
	Title      string     `json:"title"`
	RFCs       []string   `json:"rfcs"`
	Steps      []string   `json:"steps"`
	Configured bool       `json:"configured"`
	ClientID   string     `json:"client_id,omitempty"`
}

// ListFlows prints the flow catalog and which flows have saved credentials.
func ListFlows(ctx context.Context, app *App, jsonOutput bool) error {
	entries, err := collectFlows(ctx, app)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(entries)
	}

	fmt.Printf("\n%s%sOAuth flows%s (%d)\n", colorBold, colorCyan, colorReset, len(entries))
	fmt.Printf("%s%s%s\n", colorDim, rule, colorReset)
	for _, e := range entries {
		mark := colorDim + "○" + colorReset
		client := colorDim + "not configured" + colorReset
		if e.Configured {
			mark = colorGreen + "●" + colorReset
			client = "client " + e.ClientID
		}
		fmt.Printf("%s %s%-20s%s %-36s %s\n", mark, colorBold, e.Kind, colorReset, e.Title, client)
		fmt.Printf("  %s%s · %s%s\n", colorDim, strings.Join(e.RFCs, ", "), strings.Join(e.Steps, " → "), colorReset)
	}
	fmt.Println()
	return nil
}

func collectFlows(ctx context.Context, app *App) ([]FlowEntry, error) {
	saved, err := app.Vault.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	catalog := flows.Catalog()
	entries := make([]FlowEntry, 0, len(catalog))
	for _, def := range catalog {
		e := FlowEntry{Kind: def.Kind, Title: def.Title, RFCs: def.RFCs}
		for _, s := range def.Steps {
			e.Steps = append(e.Steps, string(s.ID))
		}
		if creds, ok := saved[def.Kind]; ok {
			e.Configured = true
			e.ClientID = creds.ClientID
		}
		entries = append(entries, e)
	}
	return entries, nil
}
