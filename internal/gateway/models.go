package gateway

import (
	"net/http"

	"github.com/haasonsaas/relay/pkg/models"
)

// handleListModels enumerates the merged catalog across every configured
// provider.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	catalog := s.engine.Providers().Catalog()
	writeJSON(w, http.StatusOK, models.NewList(catalog, false, func(m models.Model) string {
		return m.ID
	}))
}
