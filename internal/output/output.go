// Package output writes rendered artifacts: encoded tiles in a slippy
// directory tree, single images, and packed meta-tile containers. All
// writes go through a temp file and an atomic rename so a failed run
// never leaves a partial artifact behind.
package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/tiff"

	"tilesmith/internal/pkg/errors"
)

// Format is a supported raster encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatTIFF Format = "tiff"
)

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png", "":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", errors.ConfigField("format", fmt.Sprintf("unsupported image format %q", s))
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

const jpegQuality = 90

// Encode serializes the image in the requested format.
func Encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: jpegQuality})
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return nil, errors.Newf(errors.CodeConfig, "unsupported image format %q", string(f))
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeResource, "output.encode", "image encode failed").
			WithField("format", string(f))
	}
	return buf.Bytes(), nil
}

// Sink receives finished artifacts. Implementations must be safe for
// concurrent use; workers write tiles as regions complete.
type Sink interface {
	// WriteTile stores one encoded tile at the slippy location
	// {z}/{x}/{y}.{ext}.
	WriteTile(z, x, y uint32, ext string, data []byte) error

	// WriteFile stores one artifact at a path relative to the output
	// root.
	WriteFile(relpath string, data []byte) error
}

// FS is the filesystem sink.
type FS struct {
	root string
}

// NewFS returns a sink rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.ConfigField("output", "output path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeFile, "output.fs", "cannot create output directory").
			WithField("path", dir)
	}
	return &FS{root: dir}, nil
}

// Root returns the sink's base directory.
func (s *FS) Root() string { return s.root }

func (s *FS) WriteTile(z, x, y uint32, ext string, data []byte) error {
	rel := filepath.Join(fmt.Sprintf("%d", z), fmt.Sprintf("%d", x), fmt.Sprintf("%d.%s", y, ext))
	return s.WriteFile(rel, data)
}

func (s *FS) WriteFile(relpath string, data []byte) error {
	path := filepath.Join(s.root, relpath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "output.fs", "cannot create tile directory").
			WithField("path", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "output.fs", "cannot create temp file").
			WithField("path", path)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.CodeFile, "output.fs", "tile write failed").
			WithField("path", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.CodeFile, "output.fs", "tile close failed").
			WithField("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.CodeFile, "output.fs", "tile rename failed").
			WithField("path", path)
	}
	return nil
}
