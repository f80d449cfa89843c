package handlers

import "net/http"

// HealthHandler serves the service banner.
type HealthHandler struct {
	Service string
	Version string
}

// Health handles GET /.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": h.Service,
		"version": h.Version,
		"status":  "operational",
	})
}
