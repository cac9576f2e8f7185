// Package handlers implements the preview server endpoints.
package handlers

import (
	"tilesmith/internal/pkg/logger"
)

// Deps wires the handler set.
type Deps struct {
	Root     string
	MetaSize int
	Log      *logger.Logger
}

// Handler serves tiles from a rendered output tree.
type Handler struct {
	root     string
	metaSize uint32
	log      *logger.Logger
}

// New builds the handler set.
func New(d Deps) *Handler {
	if d.MetaSize <= 0 {
		d.MetaSize = 8
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		root:     d.Root,
		metaSize: uint32(d.MetaSize),
		log:      log.WithComponent("tileserve"),
	}
}
