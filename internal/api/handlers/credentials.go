package handlers

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/flowlab/oauth-playground/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// defaultCredentials pre-fills the form for a flow nobody configured yet.
func (h *Handler) defaultCredentials(def flows.Definition) store.Credentials {
	return store.DefaultCredentials(def, h.config())
}

// GetCredentials returns the saved credentials with secrets redacted, or
// the pre-filled defaults when none are saved.
func (h *Handler) GetCredentials(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	creds, err := h.vault.LoadCredentials(c.Request.Context(), ctrl.Kind())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"configured": false, "credentials": h.defaultCredentials(ctrl.Definition())})
		return
	case err != nil:
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "credentials": creds.Redacted()})
}

// PutCredentials validates and saves the credentials for a flow. Redacted
// secrets posted back by the form keep their stored value.
func (h *Handler) PutCredentials(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	var creds store.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondError(c, apperrors.BadRequest("invalid_body", "credentials must be a JSON object", err))
		return
	}
	ctx := c.Request.Context()
	prev, err := h.vault.LoadCredentials(ctx, ctrl.Kind())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	creds.KeepSecrets(prev)
	if creds.SpecVersion == "" {
		creds.SpecVersion = ctrl.Definition().DefaultSpecVersion
	}

	if problems := flows.Validate(creds.Request(ctrl.Kind())); len(problems) > 0 {
		respondError(c, flows.ProblemsError(problems))
		return
	}
	creds.UpdatedAt = time.Now().UTC()
	if err = h.vault.SaveCredentials(ctx, ctrl.Kind(), &creds); err != nil {
		respondError(c, err)
		return
	}
	log.WithFields(log.Fields{"flow": ctrl.Kind(), "client_id": creds.ClientID}).Info("credentials saved")
	c.JSON(http.StatusOK, gin.H{"configured": true, "credentials": creds.Redacted()})
}

// DeleteCredentials forgets the credentials for a flow.
func (h *Handler) DeleteCredentials(c *gin.Context) {
	ctrl, ok := h.controllerFor(c)
	if !ok {
		return
	}
	if err := h.vault.DeleteCredentials(c.Request.Context(), ctrl.Kind()); err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
