package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowlab/oauth-playground/internal/api"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/logging"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 10 * time.Second

// Serve runs the web playground until ctx is cancelled. When configPath is
// set the file is watched and reloads are applied to the running server.
func Serve(ctx context.Context, app *App, configPath string, opts ...api.ServerOption) error {
	srv, err := api.NewServer(app.Config, app.Manager, app.HTTPClient, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(cfg *config.Config) {
			if errLog := logging.ConfigureLogOutput(cfg); errLog != nil {
				log.Warnf("failed to apply log settings: %v", errLog)
			}
			srv.UpdateConfig(cfg)
		})
		if errWatch := watcher.Start(); errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		} else {
			defer func() {
				if errStop := watcher.Stop(); errStop != nil {
					log.Debugf("failed to stop config watcher: %v", errStop)
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Stop(shutdownCtx); err != nil {
		return err
	}
	if err = <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
