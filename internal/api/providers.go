package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medvoice/internal/apperrors"
	"medvoice/internal/provider"
)

type providerHandler struct {
	registry *provider.Registry
}

// List returns the status of every registered provider, circuit state
// included.
func (h *providerHandler) List(c *gin.Context) {
	statuses := h.registry.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"providers": statuses, "count": len(statuses)})
}

// Get returns the status of one provider name. A name registered under
// several kinds yields one status per kind.
func (h *providerHandler) Get(c *gin.Context) {
	name := c.Param("name")
	var statuses []provider.Status
	for _, st := range h.registry.Snapshot(c.Request.Context()) {
		if st.Name == name {
			statuses = append(statuses, st)
		}
	}
	if len(statuses) == 0 {
		respondError(c, apperrors.Wrapf(apperrors.ErrProviderNotFound, "%s", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses, "count": len(statuses)})
}

// Reset closes the circuit for every registration of the named provider.
func (h *providerHandler) Reset(c *gin.Context) {
	name := c.Param("name")
	entries := h.registry.Find(name)
	if len(entries) == 0 {
		respondError(c, apperrors.Wrapf(apperrors.ErrProviderNotFound, "%s", name))
		return
	}
	for _, e := range entries {
		if err := e.Breaker.Reset(c.Request.Context()); err != nil {
			respondError(c, apperrors.Wrapf(err, "reset %s/%s", e.Config.Kind, name))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "reset": len(entries)})
}
