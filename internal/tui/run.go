package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/flowlab/oauth-playground/internal/controller"
)

// Run starts the wizard and blocks until the user quits. A nil
// opts.OpenBrowser uses the system browser.
func Run(ctx context.Context, manager *controller.Manager, opts Options) error {
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = openBrowser
	}
	p := tea.NewProgram(NewModel(ctx, manager, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// RunWithStdio runs the wizard on custom streams, without the alternate
// screen.
func RunWithStdio(ctx context.Context, manager *controller.Manager, opts Options, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(
		NewModel(ctx, manager, opts),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}
