package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tilesmith/internal/httpkit"
	"tilesmith/internal/output"
	"tilesmith/internal/pkg/errors"
)

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// GetTile serves a single tile. Loose tiles are read straight from the
// output tree; when a tile is missing the handler falls back to the
// meta-tile container covering its grid cell and extracts the blob.
func (h *Handler) GetTile(w http.ResponseWriter, r *http.Request) {
	z, okZ := parseCoord(chi.URLParam(r, "z"))
	x, okX := parseCoord(chi.URLParam(r, "x"))
	y, okY := parseCoord(chi.URLParam(r, "y"))
	ext := chi.URLParam(r, "ext")

	contentType, okExt := contentTypes[ext]
	if !okZ || !okX || !okY || !okExt {
		httpkit.WriteErr(w, http.StatusBadRequest, "BAD_REQUEST", "invalid tile address", nil)
		return
	}
	if z > 22 || x >= 1<<z || y >= 1<<z {
		httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "tile outside world", nil)
		return
	}

	// Coordinates are re-rendered from integers, so the path cannot
	// escape the output root.
	path := filepath.Join(h.root, fmt.Sprintf("%d/%d/%d.%s", z, x, y, ext))
	if data, err := os.ReadFile(path); err == nil {
		h.writeTile(w, contentType, data)
		return
	}

	data, err := h.extractFromMeta(z, x, y)
	if err != nil {
		if errors.IsCode(err, errors.CodeFile) {
			httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "tile not found", nil)
			return
		}
		h.log.FromContext(r.Context()).Error("meta-tile extraction failed",
			"z", z, "x", x, "y", y, "error", err)
		httpkit.WriteError(w, err)
		return
	}
	h.writeTile(w, contentType, data)
}

// extractFromMeta locates the container holding tile z/x/y and returns
// the packed blob for it.
func (h *Handler) extractFromMeta(z, x, y uint32) ([]byte, error) {
	n := h.metaSize
	if world := uint32(1) << z; n > world {
		n = world
	}
	ox := x &^ (n - 1)
	oy := y &^ (n - 1)

	path := filepath.Join(h.root, fmt.Sprintf("%d/%d/%d.meta", z, ox, oy))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeFile, "handlers.extractFromMeta", "meta-tile not found")
	}

	hdr, tiles, err := output.DecodeMeta(raw)
	if err != nil {
		return nil, err
	}
	if hdr.Count != n*n || hdr.OriginX != ox || hdr.OriginY != oy {
		return nil, errors.New(errors.CodeInternal, "meta-tile container does not match its path")
	}

	idx := (y-oy)*n + (x-ox)
	if idx >= uint32(len(tiles)) {
		return nil, errors.New(errors.CodeInternal, "tile index outside container")
	}
	if len(tiles[idx]) == 0 {
		return nil, errors.New(errors.CodeFile, "tile empty in container")
	}
	return tiles[idx], nil
}

func (h *Handler) writeTile(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseCoord(s string) (uint32, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
