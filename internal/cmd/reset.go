package cmd

import (
	"context"
	"fmt"

	"github.com/flowlab/oauth-playground/internal/flows"
	log "github.com/sirupsen/logrus"
)

// ResetFlows forgets the saved credentials and CLI flow state of one flow,
// or of every flow when target is empty or "all". It returns the flows it
// cleared.
func ResetFlows(ctx context.Context, app *App, target string) ([]flows.Kind, error) {
	kinds := flows.Kinds()
	if target != "" && target != "all" {
		kind, err := flows.ParseKind(target)
		if err != nil {
			return nil, err
		}
		kinds = []flows.Kind{kind}
	}

	var cleared []flows.Kind
	for _, kind := range kinds {
		if err := app.Vault.DeleteCredentials(ctx, kind); err != nil {
			return cleared, fmt.Errorf("failed to delete %s credentials: %w", kind, err)
		}
		if err := app.Vault.ResetFlow(ctx, "cli", kind); err != nil {
			return cleared, fmt.Errorf("failed to reset %s: %w", kind, err)
		}
		cleared = append(cleared, kind)
	}
	log.WithField("flows", len(cleared)).Info("flow credentials reset")
	return cleared, nil
}

// PrintReset reports the result of ResetFlows.
func PrintReset(cleared []flows.Kind) {
	for _, kind := range cleared {
		fmt.Printf("%s✓%s %s reset\n", colorGreen, colorReset, kind)
	}
}
