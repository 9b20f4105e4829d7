package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
)

// ExportBundle is a portable set of saved flow credentials.
type ExportBundle struct {
	Version    string         `json:"version"`
	ExportedAt string         `json:"exported_at"`
	Flows      []ExportedFlow `json:"flows"`
}

// ExportedFlow is the credentials of one flow.
type ExportedFlow struct {
	Kind        flows.Kind        `json:"kind"`
	Credentials store.Credentials `json:"credentials"`
}

// ImportResult reports what happened to one imported flow.
type ImportResult struct {
	Kind   flows.Kind `json:"kind"`
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// ExportCredentials writes every saved credential set to outputPath, or
// stdout for "" and "-". Secrets are redacted unless includeSecrets.
func ExportCredentials(ctx context.Context, app *App, outputPath string, includeSecrets bool) error {
	saved, err := app.Vault.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	bundle := ExportBundle{
		Version:    buildinfo.Version,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Flows:      make([]ExportedFlow, 0, len(saved)),
	}
	for _, kind := range flows.Kinds() {
		creds, ok := saved[kind]
		if !ok {
			continue
		}
		c := *creds
		if !includeSecrets {
			c = c.Redacted()
		}
		bundle.Flows = append(bundle.Flows, ExportedFlow{Kind: kind, Credentials: c})
	}

	var out io.Writer = os.Stdout
	if outputPath != "" && outputPath != "-" {
		f, errCreate := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if errCreate != nil {
			return fmt.Errorf("failed to create output file: %w", errCreate)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err = enc.Encode(bundle); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if outputPath != "" && outputPath != "-" {
		fmt.Fprintf(os.Stderr, "%sExported %d flows to %s%s\n", colorGreen, len(bundle.Flows), outputPath, colorReset)
		if !includeSecrets {
			fmt.Fprintf(os.Stderr, "%sNote: client secrets redacted. Use -include-secrets to include them.%s\n", colorYellow, colorReset)
		}
	}
	return nil
}

// ImportCredentials saves the flows of a bundle written by
// ExportCredentials. Existing credentials are kept unless force; a redacted
// secret keeps the existing secret or skips the flow when there is none.
func ImportCredentials(ctx context.Context, app *App, inputPath string, force bool) ([]ImportResult, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var bundle ExportBundle
	if err = json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}

	results := make([]ImportResult, 0, len(bundle.Flows))
	for _, entry := range bundle.Flows {
		results = append(results, importFlow(ctx, app, entry, force))
	}
	return results, nil
}

func importFlow(ctx context.Context, app *App, entry ExportedFlow, force bool) ImportResult {
	res := ImportResult{Kind: entry.Kind}
	if _, ok := flows.Lookup(entry.Kind); !ok {
		res.Status, res.Reason = "skipped", "unknown flow"
		return res
	}
	existing, err := app.Vault.LoadCredentials(ctx, entry.Kind)
	switch {
	case err != nil && !errors.Is(err, store.ErrNotFound):
		res.Status, res.Reason = "error", err.Error()
		return res
	case existing != nil && !force:
		res.Status, res.Reason = "skipped", "already configured"
		return res
	}

	creds := entry.Credentials
	creds.KeepSecrets(existing)
	if creds.ClientSecret == util.RedactedValue || creds.PrivateKeyPEM == util.RedactedValue {
		res.Status, res.Reason = "skipped", "redacted secret"
		return res
	}
	if problems := flows.Validate(creds.Request(entry.Kind)); len(problems) > 0 {
		res.Status, res.Reason = "skipped", flows.ProblemsError(problems).Error()
		return res
	}
	creds.UpdatedAt = time.Now().UTC()
	if err = app.Vault.SaveCredentials(ctx, entry.Kind, &creds); err != nil {
		res.Status, res.Reason = "error", err.Error()
		return res
	}
	res.Status = "imported"
	return res
}

// PrintImportResults writes the import summary.
func PrintImportResults(results []ImportResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(results)
	}
	var imported, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case "imported":
			imported++
		case "skipped":
			skipped++
			fmt.Fprintf(os.Stderr, "%sSkipping %s (%s).%s\n", colorYellow, r.Kind, r.Reason, colorReset)
		default:
			failed++
			fmt.Fprintf(os.Stderr, "%sFailed to import %s: %s%s\n", colorRed, r.Kind, r.Reason, colorReset)
		}
	}
	fmt.Printf("\n%s%sImport Summary%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%s─────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("  Imported: %s%d%s\n", colorGreen, imported, colorReset)
	if skipped > 0 {
		fmt.Printf("  Skipped:  %s%d%s\n", colorYellow, skipped, colorReset)
	}
	if failed > 0 {
		fmt.Printf("  Failed:   %s%d%s\n", colorRed, failed, colorReset)
	}
	fmt.Println()
	return nil
}
