package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/oauth"
	"github.com/flowlab/oauth-playground/internal/pingone"
	"github.com/flowlab/oauth-playground/internal/postman"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type validateBody struct {
	Flow        string            `json:"flow" binding:"required"`
	Credentials store.Credentials `json:"credentials"`
}

// Validate checks a credential form without saving it and lists the
// choices the form should offer.
func (h *Handler) Validate(c *gin.Context) {
	var body validateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "flow is required", err))
		return
	}
	kind, err := flows.ParseKind(body.Flow)
	if err != nil {
		respondError(c, apperrors.BadRequest("unknown_flow", err.Error(), err))
		return
	}
	def, _ := flows.Lookup(kind)
	creds := body.Credentials
	if creds.SpecVersion == "" {
		creds.SpecVersion = def.DefaultSpecVersion
	}
	problems := flows.Validate(creds.Request(kind))
	if problems == nil {
		problems = []flows.Problem{}
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":          len(problems) == 0,
		"problems":       problems,
		"response_types": flows.ValidResponseTypes(kind, creds.SpecVersion),
		"auth_methods":   flows.ValidAuthMethods(kind, creds.SpecVersion),
	})
}

// endpointsFor resolves the environment to talk to: the saved credentials
// of ?flow= first, then explicit query parameters, then the config.
func (h *Handler) endpointsFor(c *gin.Context) (*pingone.Endpoints, *store.Credentials, error) {
	var envID, region, base string
	if cfg := h.config(); cfg != nil {
		envID, region, base = cfg.Provider.EnvironmentID, cfg.Provider.Region, cfg.Provider.BaseURLOverride
	}
	var creds *store.Credentials
	if name := c.Query("flow"); name != "" {
		kind, err := flows.ParseKind(name)
		if err != nil {
			return nil, nil, apperrors.BadRequest("unknown_flow", err.Error(), err)
		}
		creds, err = h.vault.LoadCredentials(c.Request.Context(), kind)
		if err != nil {
			return nil, nil, err
		}
		envID = creds.EnvironmentID
		if creds.Region != "" {
			region = creds.Region
		}
	}
	if v := c.Query("environment_id"); v != "" {
		envID = v
	}
	if v := c.Query("region"); v != "" {
		region = v
	}
	r, err := pingone.ParseRegion(region)
	if err != nil {
		return nil, nil, err
	}
	endpoints, err := pingone.NewEndpoints(r, envID, base)
	if err != nil {
		return nil, nil, err
	}
	return endpoints, creds, nil
}

// Discovery fetches the environment's OpenID configuration.
func (h *Handler) Discovery(c *gin.Context) {
	endpoints, _, err := h.endpointsFor(c)
	if err != nil {
		respondError(c, err)
		return
	}
	doc, err := h.metadataClient(endpoints).Discover(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	endpoints.ApplyDiscovery(doc)
	c.JSON(http.StatusOK, gin.H{"discovery": doc, "endpoints": endpoints})
}

type decodeBody struct {
	Token  string `json:"token" binding:"required"`
	Verify bool   `json:"verify"`
	Nonce  string `json:"nonce,omitempty"`
}

// Decode splits a JWT for display. With verify set, the signature and the
// standard claims are checked against the environment's JWKS; pass ?flow=
// to pick the environment and the audience.
func (h *Handler) Decode(c *gin.Context) {
	var body decodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "token is required", err))
		return
	}
	decoded, err := oauth.DecodeIDToken(body.Token)
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid_token", err.Error(), err))
		return
	}
	resp := gin.H{"token": decoded}
	if !body.Verify {
		c.JSON(http.StatusOK, resp)
		return
	}

	endpoints, creds, err := h.endpointsFor(c)
	if err != nil {
		respondError(c, err)
		return
	}
	opts := pingone.VerifyOptions{Nonce: body.Nonce}
	if creds != nil {
		opts.Audience = creds.ClientID
	}
	verified, err := h.metadataClient(endpoints).VerifyIDToken(c.Request.Context(), body.Token, opts)
	if err != nil {
		if !errors.Is(err, pingone.ErrInvalidIDToken) {
			respondError(c, err)
			return
		}
		resp["verified"] = false
		resp["verification_error"] = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["verified"] = true
	resp["verification"] = verified
	c.JSON(http.StatusOK, resp)
}

type postmanBody struct {
	postman.WizardAnswers
	// UseSaved fills the credentials from the first selected flow.
	UseSaved bool `json:"use_saved"`
	// IncludeTokens copies the session's tokens into the environment.
	IncludeTokens bool `json:"include_tokens"`
	Publish       bool `json:"publish"`
}

type generatedFile struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

// Postman generates a collection (and optionally an environment) for the
// selected flows and optionally publishes them to the configured bucket.
func (h *Handler) Postman(c *gin.Context) {
	var body postmanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "postman answers must be a JSON object", err))
		return
	}
	ctx := c.Request.Context()
	if err := h.completeAnswers(ctx, session(c), &body); err != nil {
		respondError(c, err)
		return
	}

	files, err := postman.Generate(body.WizardAnswers)
	if err != nil {
		var schemaErr *postman.ValidationError
		if errors.As(err, &schemaErr) {
			respondError(c, apperrors.New(http.StatusInternalServerError, "invalid_collection", err.Error(), err).
				WithDetail("problems", schemaErr.Problems))
			return
		}
		respondError(c, apperrors.BadRequest("invalid_answers", err.Error(), err))
		return
	}

	out := make([]generatedFile, 0, len(files))
	for _, f := range files {
		out = append(out, generatedFile{Name: f.Name, Content: f.Data})
	}
	resp := gin.H{"files": out}
	if body.Publish {
		pub, errPub := h.publisher()
		if errPub != nil {
			respondError(c, errPub)
			return
		}
		if pub == nil {
			respondError(c, apperrors.BadRequest("publish_disabled", "no postman bucket is configured", nil))
			return
		}
		objects, errPub := pub.Publish(ctx, files)
		if errPub != nil {
			respondError(c, errPub)
			return
		}
		log.WithField("objects", objects).Info("postman files published")
		resp["published"] = objects
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) completeAnswers(ctx context.Context, sess string, body *postmanBody) error {
	if len(body.Flows) == 0 {
		return apperrors.BadRequest("invalid_answers", "select at least one flow", nil)
	}
	first := body.Flows[0]
	if body.UseSaved {
		saved, err := h.vault.LoadCredentials(ctx, first)
		if err != nil {
			return err
		}
		posted := body.Credentials
		body.Credentials = *saved
		if strings.TrimSpace(posted.LoginHint) != "" {
			body.Credentials.LoginHint = posted.LoginHint
		}
	} else if saved, err := h.vault.LoadCredentials(ctx, first); err == nil {
		body.Credentials.KeepSecrets(saved)
	}
	if body.Region == "" {
		body.Region = body.Credentials.Region
	}
	if body.BaseURL == "" {
		if cfg := h.config(); cfg != nil {
			body.BaseURL = cfg.Provider.BaseURLOverride
			if body.Region == "" {
				body.Region = cfg.Provider.Region
			}
		}
	}
	if !body.IncludeTokens {
		return nil
	}
	st, err := h.vault.LoadFlowState(ctx, sess, first)
	if err != nil || st.Tokens == nil {
		return nil
	}
	if body.Values == nil {
		body.Values = make(map[string]string)
	}
	for key, value := range map[string]string{
		"accessToken":  st.Tokens.AccessToken,
		"refreshToken": st.Tokens.RefreshToken,
		"idToken":      st.Tokens.IDToken,
	} {
		if value != "" {
			body.Values[key] = value
		}
	}
	body.IncludeEnvironment = true
	return nil
}
