package layer

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/pkg/errors"
)

// PolyFeature is one feature destined for an indexed polygon file.
type PolyFeature struct {
	Rings []geom.Ring
}

// WritePolygonFile produces an indexed polygon file from the features,
// used for round-trip tests and for converting foreign data into the
// renderer's native format. The write goes through a temporary file
// and an atomic rename.
func WritePolygonFile(path string, srid int64, features []PolyFeature, order binary.AppendByteOrder) error {
	marker := uint16(polyMarkerLittle)
	if order == binary.AppendByteOrder(binary.BigEndian) {
		marker = polyMarkerBig
	}

	type meta struct {
		bound      orb.Bound
		partStarts []int32
		points     int32
	}
	metas := make([]meta, len(features))

	var global orb.Bound
	globalSet := false
	for i, f := range features {
		m := meta{partStarts: make([]int32, len(f.Rings))}
		start := int32(0)
		boundSet := false
		for r, ring := range f.Rings {
			m.partStarts[r] = start
			start += int32(len(ring))
			for _, pt := range ring {
				if !boundSet {
					m.bound = orb.Bound{Min: pt, Max: pt}
					boundSet = true
				} else {
					m.bound = m.bound.Extend(pt)
				}
			}
		}
		m.points = start
		metas[i] = m
		if !globalSet {
			global = m.bound
			globalSet = true
		} else {
			global = global.Union(m.bound)
		}
	}

	appendF64 := func(buf []byte, v float64) []byte {
		return order.AppendUint64(buf, math.Float64bits(v))
	}
	appendBound := func(buf []byte, b orb.Bound) []byte {
		buf = appendF64(buf, b.Min[0])
		buf = appendF64(buf, b.Min[1])
		buf = appendF64(buf, 0) // minZ
		buf = appendF64(buf, b.Max[0])
		buf = appendF64(buf, b.Max[1])
		buf = appendF64(buf, 0) // maxZ
		return buf
	}

	buf := make([]byte, 0, polyHeaderSize+len(features)*polyIndexSize)
	buf = append(buf, polySignature[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, marker)
	buf = order.AppendUint32(buf, uint32(len(features)))
	buf = appendBound(buf, global)
	buf = order.AppendUint64(buf, uint64(srid))

	bodyPos := int64(polyHeaderSize + len(features)*polyIndexSize)
	var bodies bytes.Buffer
	for i, f := range features {
		m := metas[i]
		buf = order.AppendUint64(buf, uint64(bodyPos))
		buf = appendBound(buf, m.bound)
		buf = order.AppendUint32(buf, uint32(len(m.partStarts)))
		buf = order.AppendUint32(buf, uint32(m.points))

		var body []byte
		for _, start := range m.partStarts {
			body = order.AppendUint32(body, uint32(start))
		}
		for _, ring := range f.Rings {
			for _, pt := range ring {
				body = appendF64(body, pt[0])
				body = appendF64(body, pt[1])
			}
		}
		bodies.Write(body)
		bodyPos += int64(len(body))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".poly-*")
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "polyfile.write", "cannot create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return errors.WrapWithCode(err, errors.CodeFile, "polyfile.write", "header write failed")
	}
	if _, err := tmp.Write(bodies.Bytes()); err != nil {
		tmp.Close()
		return errors.WrapWithCode(err, errors.CodeFile, "polyfile.write", "body write failed")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "polyfile.write", "close failed")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "polyfile.write", "rename failed")
	}
	return nil
}
