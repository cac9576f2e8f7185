package layer

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/pkg/errors"
)

// Indexed polygon file layout:
//
//	4 bytes   signature "POLY"
//	2 bytes   endianness marker: "II" little, "MM" big
//	uint32    feature count
//	6 float64 global bounding box (minX minY minZ maxX maxY maxZ)
//	int64     spatial reference id
//	then per feature, fixed size:
//	  int64     file position of the feature body
//	  6 float64 feature bounding box
//	  int32     part count
//	  int32     point count
//	feature bodies: partCount int32 part-start vertex indices,
//	followed by pointCount (x, y) float64 pairs.
//
// The index is loaded into memory on first use; vertex data stays on
// disk and is read per region with positioned reads, so the shared
// handle needs no seek coordination across workers.

var polySignature = [4]byte{'P', 'O', 'L', 'Y'}

const (
	polyMarkerLittle = 0x4949 // "II"
	polyMarkerBig    = 0x4D4D // "MM"

	polyHeaderSize = 4 + 2 + 4 + 48 + 8
	polyIndexSize  = 8 + 48 + 4 + 4
)

// PolygonConfig is the source descriptor for an indexed polygon file.
type PolygonConfig struct {
	Path string
}

type polyIndexEntry struct {
	filePos    int64
	bound      orb.Bound
	partCount  int32
	pointCount int32
}

// Polygon reads the custom indexed binary polygon format.
type Polygon struct {
	state
	cfg PolygonConfig

	file     *os.File
	order    binary.ByteOrder
	fileSRID int64
	index    []polyIndexEntry

	// bodyReads counts feature body reads; overlap rejection must
	// keep it from growing for features outside the region.
	bodyReads atomic.Int64
}

// NewPolygon builds an indexed-polygon-file layer.
func NewPolygon(opts Options, cfg PolygonConfig) (*Polygon, error) {
	if cfg.Path == "" {
		return nil, errors.ConfigField("path", "polygon layer requires a file path")
	}
	s, err := newState(opts)
	if err != nil {
		return nil, err
	}
	return &Polygon{state: s, cfg: cfg}, nil
}

// ensureOpen opens the file and loads the index exactly once per run.
func (l *Polygon) ensureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errLayerReleased
	}
	if l.opened {
		return nil
	}

	f, err := os.Open(l.cfg.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "layer.polygon.open", "cannot open polygon file").
			WithField("path", l.cfg.Path)
	}

	header := make([]byte, polyHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return errors.WrapWithCode(err, errors.CodeFile, "layer.polygon.header", "short header read").
			WithField("path", l.cfg.Path)
	}
	if [4]byte(header[:4]) != polySignature {
		f.Close()
		return errors.Newf(errors.CodeFile, "bad signature %q in %s", header[:4], l.cfg.Path)
	}

	var order binary.ByteOrder
	switch binary.LittleEndian.Uint16(header[4:6]) {
	case polyMarkerLittle:
		order = binary.LittleEndian
	case polyMarkerBig:
		order = binary.BigEndian
	default:
		f.Close()
		return errors.Newf(errors.CodeFile, "bad endianness marker in %s", l.cfg.Path)
	}

	count := order.Uint32(header[6:10])
	// Global bbox at header[10:58] is informational; the per-feature
	// boxes drive overlap tests.
	l.fileSRID = int64(order.Uint64(header[58:66]))

	indexBuf := make([]byte, int(count)*polyIndexSize)
	if _, err := io.ReadFull(f, indexBuf); err != nil {
		f.Close()
		return errors.WrapWithCode(err, errors.CodeFile, "layer.polygon.index", "short index read").
			WithField("path", l.cfg.Path)
	}

	index := make([]polyIndexEntry, count)
	for i := range index {
		rec := indexBuf[i*polyIndexSize:]
		index[i] = polyIndexEntry{
			filePos: int64(order.Uint64(rec[0:8])),
			bound: orb.Bound{
				Min: orb.Point{
					math.Float64frombits(order.Uint64(rec[8:16])),
					math.Float64frombits(order.Uint64(rec[16:24])),
				},
				Max: orb.Point{
					math.Float64frombits(order.Uint64(rec[32:40])),
					math.Float64frombits(order.Uint64(rec[40:48])),
				},
			},
			partCount:  int32(order.Uint32(rec[56:60])),
			pointCount: int32(order.Uint32(rec[60:64])),
		}
	}

	l.file = f
	l.order = order
	l.index = index
	l.opened = true
	l.log.Debug("polygon index loaded", "features", count, "srid", l.fileSRID)
	return nil
}

// Render scans the in-memory index for bounding-box overlap and
// streams only the matching feature bodies off disk.
func (l *Polygon) Render(ctx context.Context, reg *Region) error {
	if _, err := l.projection(); err != nil {
		return err
	}

	fetchStart := time.Now()
	if err := l.ensureOpen(); err != nil {
		return err
	}
	reg.Stats.FetchTime += time.Since(fetchStart)

	want := l.sourceBound(reg)

	for i := range l.index {
		if err := ctx.Err(); err != nil {
			return errors.Canceled("layer.polygon.render")
		}
		entry := &l.index[i]
		if !want.Intersects(entry.bound) {
			continue
		}

		drawStart := time.Now()
		rec, err := l.readFeature(entry)
		if err != nil {
			reg.Stats.CountError(err)
			l.log.Debug("feature body read failed, feature skipped", "error", err.Error())
			continue
		}
		reg.Stats.RowsFetched++
		l.paintRecord(reg, rec, map[string]any{})
		reg.Stats.DrawTime += time.Since(drawStart)
	}
	return nil
}

// readFeature reads one body with positioned reads, ring by ring.
func (l *Polygon) readFeature(entry *polyIndexEntry) (geom.Record, error) {
	l.bodyReads.Add(1)

	partBuf := make([]byte, int(entry.partCount)*4)
	if _, err := l.file.ReadAt(partBuf, entry.filePos); err != nil {
		return geom.Record{}, errors.WrapWithCode(err, errors.CodeFile, "layer.polygon.parts", "short part-offset read")
	}
	parts := make([]int32, entry.partCount)
	for i := range parts {
		parts[i] = int32(l.order.Uint32(partBuf[i*4:]))
	}

	vertexBase := entry.filePos + int64(entry.partCount)*4
	rings := make([]geom.Ring, 0, entry.partCount)
	ringBuf := make([]byte, 0)

	for i := range parts {
		start := parts[i]
		end := entry.pointCount
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end < start || end > entry.pointCount {
			return geom.Record{}, errors.Newf(errors.CodeFile, "invalid part range [%d, %d) of %d points", start, end, entry.pointCount)
		}

		n := int(end - start)
		need := n * 16
		if cap(ringBuf) < need {
			ringBuf = make([]byte, need)
		}
		ringBuf = ringBuf[:need]
		if _, err := l.file.ReadAt(ringBuf, vertexBase+int64(start)*16); err != nil {
			return geom.Record{}, errors.WrapWithCode(err, errors.CodeFile, "layer.polygon.vertices", "short vertex read")
		}

		ring := make(geom.Ring, n)
		for j := 0; j < n; j++ {
			ring[j] = orb.Point{
				math.Float64frombits(l.order.Uint64(ringBuf[j*16:])),
				math.Float64frombits(l.order.Uint64(ringBuf[j*16+8:])),
			}
		}
		rings = append(rings, ring)
	}

	return geom.NewPath(rings), nil
}

// Release closes the file and frees the index exactly once.
func (l *Polygon) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.index = nil
	l.log.Debug("layer released")
}
