// Package main is the entry point of the OAuth playground. It serves the
// web playground, runs single flows from the terminal, launches the
// terminal UI and generates Postman collections.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowlab/oauth-playground/internal/buildinfo"
	"github.com/flowlab/oauth-playground/internal/cmd"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		serve          bool
		flowName       string
		postmanFlows   string
		postmanName    string
		postmanOut     string
		postmanEnv     bool
		publish        bool
		listFlows      bool
		resetTarget    string
		discover       bool
		environmentID  string
		region         string
		launchTUI      bool
		configPath     string
		noBrowser      bool
		callbackPort   int
		showVersion    bool
		jsonOutput     bool
		verbose        bool
		exportPath     string
		importPath     string
		includeSecrets bool
		force          bool
		showLogs       bool
		logLines       int
		logLevel       string
	)

	flag.BoolVar(&serve, "serve", false, "Run the web playground")
	flag.StringVar(&flowName, "flow", "", "Run one flow in the terminal (authorization-code, pkce, implicit, client-credentials, device, hybrid, par, rar, redirectless)")
	flag.StringVar(&postmanFlows, "postman", "", "Generate a Postman collection for the given flows (comma separated, \"all\" for every configured flow)")
	flag.StringVar(&postmanName, "postman-name", "", "Collection name (used with -postman)")
	flag.StringVar(&postmanOut, "postman-out", "", "Output directory (used with -postman)")
	flag.BoolVar(&postmanEnv, "postman-env", true, "Also write a Postman environment (used with -postman)")
	flag.BoolVar(&publish, "publish", false, "Upload the generated Postman files to the configured bucket")
	flag.BoolVar(&listFlows, "list", false, "List the flows and whether they are configured")
	flag.StringVar(&resetTarget, "reset", "", "Forget saved credentials and state of a flow (or all)")
	flag.BoolVar(&discover, "discover", false, "Print the OpenID configuration of an environment")
	flag.StringVar(&environmentID, "environment", "", "Environment ID (used with -discover)")
	flag.StringVar(&region, "region", "", "Region: NA, EU, CA, AP, AU or SG (used with -discover)")
	flag.BoolVar(&launchTUI, "tui", false, "Launch the interactive terminal playground")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser automatically")
	flag.IntVar(&callbackPort, "callback-port", 0, "Override the local redirect listener port")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flag.BoolVar(&verbose, "verbose", false, "Show every request and response")
	flag.StringVar(&exportPath, "export", "", "Export saved credentials to a JSON file (use - for stdout)")
	flag.StringVar(&importPath, "import", "", "Import credentials from a JSON file")
	flag.BoolVar(&includeSecrets, "include-secrets", false, "Include client secrets (used with -export and -postman)")
	flag.BoolVar(&force, "force", false, "Overwrite existing credentials on import")
	flag.BoolVar(&showLogs, "logs", false, "View recent logs of the running server and exit")
	flag.IntVar(&logLines, "n", cmd.DefaultLogLines, "Number of log lines to show (used with -logs)")
	flag.StringVar(&logLevel, "level", "", "Minimum log level to show (used with -logs)")
	flag.Parse()

	if showVersion {
		fmt.Printf("oauth-playground %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})
	cfg, err := config.LoadConfigOptional(configPath, !explicitConfig)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Debug = true
		log.SetLevel(log.DebugLevel)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -logs talks to a running server and needs no local state.
	if showLogs {
		exit(cmd.ShowLogs(ctx, &cmd.App{Config: cfg}, logLines, logLevel, jsonOutput))
		return
	}

	app, err := cmd.NewApp(ctx, cfg)
	if err != nil {
		log.Errorf("failed to open credential store: %v", err)
		os.Exit(1)
	}
	defer app.Close()

	switch {
	case listFlows:
		err = cmd.ListFlows(ctx, app, jsonOutput)
	case resetTarget != "":
		var cleared []flows.Kind
		if cleared, err = cmd.ResetFlows(ctx, app, resetTarget); err == nil {
			cmd.PrintReset(cleared)
		}
	case exportPath != "":
		err = cmd.ExportCredentials(ctx, app, exportPath, includeSecrets)
	case importPath != "":
		var results []cmd.ImportResult
		if results, err = cmd.ImportCredentials(ctx, app, importPath, force); err == nil {
			err = cmd.PrintImportResults(results, jsonOutput)
		}
	case discover:
		err = cmd.Discover(ctx, app, cmd.DiscoverOptions{Flow: flowName, EnvironmentID: environmentID, Region: region}, jsonOutput)
	case postmanFlows != "":
		err = runPostman(ctx, app, cmd.PostmanOptions{
			Name:               postmanName,
			OutputDir:          postmanOut,
			IncludeEnvironment: postmanEnv,
			IncludeSecrets:     includeSecrets,
			Publish:            publish,
		}, postmanFlows, jsonOutput)
	case flowName != "":
		var kind flows.Kind
		if kind, err = flows.ParseKind(flowName); err == nil {
			err = cmd.RunFlow(ctx, app, kind, cmd.RunOptions{
				NoBrowser:    noBrowser,
				CallbackPort: callbackPort,
				Verbose:      verbose,
			})
		}
	case launchTUI:
		err = cmd.RunTUI(ctx, app, cmd.TUIOptions{NoBrowser: noBrowser, CallbackPort: callbackPort})
	default:
		// -serve is also the default mode
		err = cmd.Serve(ctx, app, watchablePath(configPath))
	}
	exit(err)
}

func runPostman(ctx context.Context, app *cmd.App, opts cmd.PostmanOptions, selected string, jsonOutput bool) error {
	if selected != "all" {
		opts.Flows = []string{selected}
	}
	res, err := cmd.GeneratePostman(ctx, app, opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, p := range res.Paths {
		fmt.Printf("wrote %s\n", p)
	}
	for _, p := range res.Published {
		fmt.Printf("published %s\n", p)
	}
	return nil
}

// watchablePath returns path when it names an existing file.
func watchablePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func exit(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	var problems flows.ProblemsError
	if errors.As(err, &problems) {
		fmt.Fprintln(os.Stderr, "The credentials are not valid:")
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p.String())
		}
		os.Exit(2)
	}
	log.Error(err)
	os.Exit(1)
}
