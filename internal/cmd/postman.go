package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/postman"
	"github.com/flowlab/oauth-playground/internal/store"
	log "github.com/sirupsen/logrus"
)

// PostmanOptions configure GeneratePostman.
type PostmanOptions struct {
	// Flows are flow names; empty selects every configured flow.
	Flows []string
	// Name is the collection name.
	Name string
	// OutputDir overrides the configured output directory.
	OutputDir string
	// IncludeEnvironment also writes a Postman environment.
	IncludeEnvironment bool
	// IncludeSecrets writes the client secret into the environment.
	IncludeSecrets bool
	// Publish uploads the files to the configured bucket.
	Publish bool
}

// PostmanResult lists what GeneratePostman produced.
type PostmanResult struct {
	Paths     []string `json:"paths"`
	Published []string `json:"published,omitempty"`
}

// GeneratePostman builds a collection for the selected flows from the saved
// credentials, writes it to disk and optionally publishes it.
func GeneratePostman(ctx context.Context, app *App, opts PostmanOptions) (*PostmanResult, error) {
	answers, err := postmanAnswers(ctx, app, opts)
	if err != nil {
		return nil, err
	}
	files, err := postman.Generate(answers)
	if err != nil {
		return nil, err
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = app.Config.Postman.OutputDir
	}
	res := &PostmanResult{}
	if res.Paths, err = postman.Write(dir, files); err != nil {
		return res, err
	}
	log.WithFields(log.Fields{"flows": len(answers.Flows), "dir": dir}).Info("postman collection written")

	if !opts.Publish {
		return res, nil
	}
	if !app.Config.Postman.Bucket.Enabled() {
		return res, fmt.Errorf("publishing needs postman.bucket.endpoint and postman.bucket.name")
	}
	publisher, err := postman.NewPublisher(app.Config.Postman.Bucket)
	if err != nil {
		return res, err
	}
	res.Published, err = publisher.Publish(ctx, files)
	return res, err
}

func postmanAnswers(ctx context.Context, app *App, opts PostmanOptions) (postman.WizardAnswers, error) {
	answers := postman.WizardAnswers{
		CollectionName:     opts.Name,
		IncludeEnvironment: opts.IncludeEnvironment,
		IncludeSecrets:     opts.IncludeSecrets,
		Region:             app.Config.Provider.Region,
		BaseURL:            app.Config.Provider.BaseURLOverride,
	}
	saved, err := app.Vault.ListCredentials(ctx)
	if err != nil {
		return answers, fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(opts.Flows) == 0 {
		for _, kind := range flows.Kinds() {
			if _, ok := saved[kind]; ok {
				answers.Flows = append(answers.Flows, kind)
			}
		}
		if len(answers.Flows) == 0 {
			return answers, errors.New("no flow has saved credentials; pass -flow or configure one first")
		}
	}
	for _, name := range opts.Flows {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			kind, errKind := flows.ParseKind(part)
			if errKind != nil {
				return answers, errKind
			}
			answers.Flows = append(answers.Flows, kind)
		}
	}

	// the first selected flow with saved credentials fills the environment
	for _, kind := range answers.Flows {
		if creds, ok := saved[kind]; ok {
			answers.Credentials = *creds
			break
		}
	}
	if answers.Credentials.ClientID == "" {
		def, _ := flows.Lookup(answers.Flows[0])
		answers.Credentials = store.DefaultCredentials(def, app.Config)
	}
	if answers.Credentials.Region != "" {
		answers.Region = answers.Credentials.Region
	}
	return answers, nil
}
