package api

import (
	"net/http"
	"time"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/respond"
)

// health handles GET /api/health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "UP",
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}
	status, code := "UP", http.StatusOK
	if !s.deps.Health.IsHealthy() {
		status, code = "DOWN", http.StatusServiceUnavailable
	}
	respond.WriteJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": s.deps.Health.Components(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}
