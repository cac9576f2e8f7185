// Package httpapi is the preview server's HTTP surface: a slippy tile
// endpoint over a rendered output tree, with meta-tile containers
// unpacked on the fly.
package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"tilesmith/internal/httpapi/handlers"
	"tilesmith/internal/httpkit"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/pkg/middleware"
)

// Deps wires the router.
type Deps struct {
	// Root is the rendered output directory being served.
	Root string
	// MetaSize is the meta-tile grid dimension used when falling back
	// to packed containers.
	MetaSize int
	Log      *logger.Logger
}

// NewRouter builds the preview server handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: envCSV("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}))

	h := handlers.New(handlers.Deps{
		Root:     d.Root,
		MetaSize: d.MetaSize,
		Log:      log,
	})

	r.Get("/health", h.Health)
	r.Get("/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.{ext:[a-z]+}", h.GetTile)

	return r
}

func envCSV(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
