package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/pingone"
)

// DiscoverOptions pick the environment to inspect. Flow takes the
// environment from that flow's saved credentials; EnvironmentID and Region
// override it.
type DiscoverOptions struct {
	Flow          string
	EnvironmentID string
	Region        string
}

// Discover fetches the OpenID configuration of an environment and prints
// the endpoints and capabilities the playground relies on.
func Discover(ctx context.Context, app *App, opts DiscoverOptions, jsonOutput bool) error {
	envID, region := app.Config.Provider.EnvironmentID, app.Config.Provider.Region
	if opts.Flow != "" {
		kind, err := flows.ParseKind(opts.Flow)
		if err != nil {
			return err
		}
		creds, err := app.Vault.LoadCredentials(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to load %s credentials: %w", kind, err)
		}
		envID = creds.EnvironmentID
		if creds.Region != "" {
			region = creds.Region
		}
	}
	if opts.EnvironmentID != "" {
		envID = opts.EnvironmentID
	}
	if opts.Region != "" {
		region = opts.Region
	}

	r, err := pingone.ParseRegion(region)
	if err != nil {
		return err
	}
	endpoints, err := pingone.NewEndpoints(r, envID, app.Config.Provider.BaseURLOverride)
	if err != nil {
		return err
	}
	doc, err := app.metadataClient(endpoints).Discover(ctx)
	if err != nil {
		return err
	}
	endpoints.ApplyDiscovery(doc)

	if jsonOutput {
		return writeJSON(map[string]interface{}{"discovery": doc, "endpoints": endpoints})
	}

	fmt.Printf("\n%s%sOpenID configuration%s %s\n", colorBold, colorCyan, colorReset, doc.Issuer)
	fmt.Printf("%s%s%s\n", colorDim, rule, colorReset)
	row := func(label, value string) {
		if value == "" {
			value = colorDim + "not advertised" + colorReset
		}
		fmt.Printf("  %-22s %s\n", label, value)
	}
	row("authorization", doc.AuthorizationEndpoint)
	row("token", doc.TokenEndpoint)
	row("userinfo", doc.UserInfoEndpoint)
	row("introspection", doc.IntrospectionEndpoint)
	row("revocation", doc.RevocationEndpoint)
	row("par", doc.PushedAuthorizationRequestEndpoint)
	row("device_authorization", doc.DeviceAuthorizationEndpoint)
	row("jwks", doc.JWKSURI)
	row("end_session", doc.EndSessionEndpoint)
	fmt.Println()
	row("response_types", strings.Join(doc.ResponseTypesSupported, ", "))
	row("grant_types", strings.Join(doc.GrantTypesSupported, ", "))
	row("auth_methods", strings.Join(doc.TokenEndpointAuthMethodsSupported, ", "))
	row("pkce_methods", strings.Join(doc.CodeChallengeMethodsSupported, ", "))
	row("scopes", strings.Join(doc.ScopesSupported, " "))
	fmt.Println()
	return nil
}
