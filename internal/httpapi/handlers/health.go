package handlers

import (
	"net/http"
	"os"

	"tilesmith/internal/httpkit"
)

// Health reports whether the served output tree is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"service": "tileserve",
		"root":    h.root,
	}
	if _, err := os.Stat(h.root); err != nil {
		health["status"] = "degraded"
		health["error"] = err.Error()
		h.log.FromContext(r.Context()).Warn("output tree unreachable", "root", h.root)
	}
	httpkit.WriteJSON(w, http.StatusOK, health)
}
