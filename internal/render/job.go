// Package render drives a render job end to end: it expands the job
// into regions, fans the regions out over a worker pool, runs every
// layer against each region in registration order and hands finished
// rasters to the output sink.
package render

import (
	"runtime"
	"strings"

	"github.com/paulmach/orb"

	"tilesmith/internal/layer"
	"tilesmith/internal/output"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
)

// Mode selects what a job produces.
type Mode string

const (
	// ModeTiles writes individual slippy tiles for the requested range.
	ModeTiles Mode = "tiles"
	// ModeMetaTiles writes one packed container per grid cell.
	ModeMetaTiles Mode = "meta-tiles"
	// ModeImage writes a single image covering the bounding box.
	ModeImage Mode = "image"
	// ModeAnimation writes a frame sequence stepping script time.
	ModeAnimation Mode = "animation"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "tiles", "":
		return ModeTiles, nil
	case "meta-tiles", "metatiles":
		return ModeMetaTiles, nil
	case "image":
		return ModeImage, nil
	case "animation":
		return ModeAnimation, nil
	default:
		return "", errors.ConfigField("mode", "unknown render mode "+s)
	}
}

// DefaultMetaSize is the meta-tile grid dimension when a job does not
// set one.
const DefaultMetaSize = 8

const maxZoomLevel = 22

// Job is one immutable render request. Construct it, validate it, and
// hand it to an Orchestrator; nothing mutates it after the run starts.
type Job struct {
	Title string
	Mode  Mode

	// ZoomMin/ZoomMax bound the tile pyramid for tile modes.
	ZoomMin int
	ZoomMax int

	// Bound is the requested area in WGS84 lon/lat.
	Bound orb.Bound

	// DstSRID is the spatial reference features are projected into
	// before rasterization.
	DstSRID int

	// TileSize is the tile edge in pixels; must be a power of two.
	TileSize int
	// MetaSize is the meta-tile grid dimension; defaults to
	// DefaultMetaSize, must be a power of two.
	MetaSize int

	// ImageWidth/ImageHeight/Padding size single-image renders.
	ImageWidth  int
	ImageHeight int
	Padding     int

	// FrameCount is the number of animation frames.
	FrameCount int

	Format     output.Format
	Background paint.Color

	// Workers caps concurrent regions; defaults to GOMAXPROCS.
	Workers int

	// Layers render in slice order, bottom-most first.
	Layers []layer.Layer
}

// Normalize fills defaulted fields in place.
func (j *Job) Normalize() {
	if j.Mode == "" {
		j.Mode = ModeTiles
	}
	if j.DstSRID == 0 {
		j.DstSRID = 3857
	}
	if j.TileSize == 0 {
		j.TileSize = 256
	}
	if j.MetaSize == 0 {
		j.MetaSize = DefaultMetaSize
	}
	if j.Format == "" {
		j.Format = output.FormatPNG
	}
	if j.Workers <= 0 {
		j.Workers = runtime.GOMAXPROCS(0)
	}
}

// Validate rejects jobs that cannot run. Called once before a run; a
// failure here is CONFIG_ERROR and fatal.
func (j *Job) Validate() error {
	switch j.Mode {
	case ModeTiles, ModeMetaTiles, ModeImage, ModeAnimation:
	default:
		return errors.ConfigField("mode", "unknown render mode "+string(j.Mode))
	}

	if len(j.Layers) == 0 {
		return errors.ConfigField("layers", "job has no layers")
	}
	for _, l := range j.Layers {
		min, max := l.ZoomRange()
		if min > max {
			return errors.Configf("layer %q: zoom range %d..%d is inverted", l.Name(), min, max)
		}
	}

	b := j.Bound
	if b.Min[0] >= b.Max[0] || b.Min[1] >= b.Max[1] {
		return errors.ConfigField("bbox", "bounding box must have min < max on both axes")
	}
	if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
		return errors.ConfigField("bbox", "bounding box exceeds WGS84 coordinate range")
	}

	switch j.Mode {
	case ModeTiles, ModeMetaTiles:
		if j.ZoomMin < 0 || j.ZoomMax > maxZoomLevel || j.ZoomMin > j.ZoomMax {
			return errors.Configf("zoom range %d..%d outside 0..%d", j.ZoomMin, j.ZoomMax, maxZoomLevel)
		}
		if !powerOfTwo(j.TileSize) || j.TileSize < 64 || j.TileSize > 4096 {
			return errors.ConfigField("tile-size", "tile size must be a power of two between 64 and 4096")
		}
		if !powerOfTwo(j.MetaSize) || j.MetaSize > 64 {
			return errors.ConfigField("meta-size", "meta-tile grid must be a power of two no larger than 64")
		}
	case ModeImage, ModeAnimation:
		if j.ImageWidth <= 0 || j.ImageHeight <= 0 {
			return errors.ConfigField("image-size", "image modes require positive width and height")
		}
		if j.ImageWidth > 16384 || j.ImageHeight > 16384 {
			return errors.ConfigField("image-size", "image dimensions capped at 16384")
		}
		if j.Padding < 0 {
			return errors.ConfigField("padding", "padding cannot be negative")
		}
	}
	if j.Mode == ModeAnimation && j.FrameCount < 2 {
		return errors.ConfigField("frames", "animations need at least 2 frames")
	}

	switch j.Format {
	case output.FormatPNG, output.FormatJPEG, output.FormatWebP, output.FormatTIFF:
	default:
		return errors.ConfigField("format", "unsupported image format "+string(j.Format))
	}
	return nil
}

func powerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
