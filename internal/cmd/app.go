package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/registry"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/flowlab/oauth-playground/internal/util"
)

// Service names in the App registry.
const (
	svcConfig  = "config"
	svcVault   = "vault"
	svcHTTP    = "http-client"
	svcManager = "flow-manager"
)

// App bundles what every command needs: the loaded configuration, the
// credential vault and the flow controllers.
type App struct {
	Config     *config.Config
	Vault      *store.Vault
	Manager    *controller.Manager
	HTTPClient *http.Client

	services *registry.Registry
}

// NewApp opens the configured storage backend and builds the controllers.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	vault, err := store.OpenVault(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return NewAppWithVault(cfg, vault), nil
}

// NewAppWithVault builds an App on an already opened vault. The vault is
// owned by the App and closed with it.
func NewAppWithVault(cfg *config.Config, vault *store.Vault) *App {
	services := newServices(cfg, vault)
	ctx := context.Background()
	// the factories below cannot fail once config and vault are set
	manager, err := registry.Get[*controller.Manager](ctx, services, svcManager)
	if err != nil {
		panic(err)
	}
	httpClient, _ := registry.Get[*http.Client](ctx, services, svcHTTP)
	return &App{Config: cfg, Vault: vault, Manager: manager, HTTPClient: httpClient, services: services}
}

func newServices(cfg *config.Config, vault *store.Vault) *registry.Registry {
	r := registry.New()
	r.MustRegister(svcConfig, nil, func(context.Context, registry.Deps) (any, error) {
		return cfg, nil
	})
	r.MustRegister(svcVault, nil, func(context.Context, registry.Deps) (any, error) {
		return vault, nil
	})
	r.MustRegister(svcHTTP, []string{svcConfig}, func(_ context.Context, deps registry.Deps) (any, error) {
		c, err := registry.Dep[*config.Config](deps, svcConfig)
		if err != nil {
			return nil, err
		}
		return util.SetProxy(&c.SDKConfig, &http.Client{
			Timeout: time.Duration(c.RequestTimeoutOrDefault()) * time.Second,
		}), nil
	})
	r.MustRegister(svcManager, []string{svcConfig, svcVault, svcHTTP}, func(_ context.Context, deps registry.Deps) (any, error) {
		c, err := registry.Dep[*config.Config](deps, svcConfig)
		if err != nil {
			return nil, err
		}
		v, err := registry.Dep[*store.Vault](deps, svcVault)
		if err != nil {
			return nil, err
		}
		hc, err := registry.Dep[*http.Client](deps, svcHTTP)
		if err != nil {
			return nil, err
		}
		return controller.NewManager(v, controller.Options{
			HTTPClient:      hc,
			Region:          c.Provider.Region,
			BaseURLOverride: c.Provider.BaseURLOverride,
			LogExchanges:    c.RequestLog,
		}), nil
	})
	return r
}

// Services describes the App's services and what each depends on.
func (a *App) Services() []string {
	return a.services.Describe()
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.services == nil {
		return a.Vault.Close()
	}
	return a.services.Close()
}

// metadataClient returns a discovery and JWKS client for endpoints.
func (a *App) metadataClient(endpoints *pingone.Endpoints) *pingone.Client {
	return pingone.NewClient(endpoints, pingone.Options{
		HTTPClient: a.HTTPClient,
		Timeout:    time.Duration(a.Config.Provider.DiscoveryTimeoutSeconds) * time.Second,
		Retries:    a.Config.Provider.DiscoveryRetries,
	})
}
