package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/flowlab/oauth-playground/internal/tui"
	log "github.com/sirupsen/logrus"
)

// TUIOptions configure RunTUI.
type TUIOptions struct {
	NoBrowser    bool
	CallbackPort int
}

// RunTUI starts the terminal wizard with a local redirect listener feeding
// callbacks into the open flow.
func RunTUI(ctx context.Context, app *App, opts TUIOptions) error {
	port := opts.CallbackPort
	if port == 0 {
		port = app.Config.CallbackPort
	}
	topts := tui.Options{Session: "cli", Config: app.Config}

	srv := NewCallbackServer(port, "/callback")
	if err := srv.Start(); err != nil {
		log.Warnf("redirect listener unavailable, paste redirects instead: %v", err)
	} else {
		defer func() {
			if errStop := srv.Stop(context.Background()); errStop != nil {
				log.Debugf("failed to stop callback server: %v", errStop)
			}
		}()
		topts.Callbacks = srv.Results()
	}
	if opts.NoBrowser {
		topts.OpenBrowser = func(string) error { return errors.New("browser disabled") }
	}

	// the wizard owns the terminal; logs stay visible on its logs screen
	if !app.Config.LoggingToFile {
		prev := log.StandardLogger().Out
		log.SetOutput(io.Discard)
		defer log.SetOutput(prev)
	}
	return tui.Run(ctx, app.Manager, topts)
}
