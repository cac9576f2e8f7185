// Package wkb decodes OGC Well-Known Binary geometry records into the
// pipeline's geometry representation. Every multi-byte field honors the
// record's own byte-order flag, and every read is checked against the
// declared buffer length: a truncated buffer or an absurd count is a
// decode error, never an out-of-range read.
package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/pkg/errors"
)

// Geometry type codes per the OGC simple-features specification.
const (
	typePoint           = 1
	typeLineString      = 2
	typePolygon         = 3
	typeMultiPoint      = 4
	typeMultiLineString = 5
	typeMultiPolygon    = 6
)

// EWKB flag bits. PostGIS sets these on the type word; only the SRID
// flag is tolerated (and its payload skipped), Z/M geometries are not.
const (
	ewkbZ    = 0x80000000
	ewkbM    = 0x40000000
	ewkbSRID = 0x20000000
)

const (
	byteOrderBig    = 0
	byteOrderLittle = 1
)

// Decode parses one WKB record.
func Decode(buf []byte) (geom.Record, error) {
	r := &reader{buf: buf}
	rec, err := r.geometry()
	if err != nil {
		return geom.Record{}, err
	}
	return rec, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) order() (binary.ByteOrder, error) {
	if r.remaining() < 1 {
		return nil, errors.New(errors.CodeGeometryDecode, "truncated record: missing byte-order flag").
			WithField("offset", r.pos)
	}
	flag := r.buf[r.pos]
	r.pos++
	switch flag {
	case byteOrderLittle:
		return binary.LittleEndian, nil
	case byteOrderBig:
		return binary.BigEndian, nil
	default:
		return nil, errors.Newf(errors.CodeGeometryDecode, "invalid byte-order flag 0x%02x", flag).
			WithField("offset", r.pos-1)
	}
}

func (r *reader) uint32(order binary.ByteOrder) (uint32, error) {
	if r.remaining() < 4 {
		return 0, errors.New(errors.CodeGeometryDecode, "truncated record: short uint32").
			WithField("offset", r.pos)
	}
	v := order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) point(order binary.ByteOrder) (orb.Point, error) {
	if r.remaining() < 16 {
		return orb.Point{}, errors.New(errors.CodeGeometryDecode, "truncated record: short coordinate pair").
			WithField("offset", r.pos)
	}
	x := math.Float64frombits(order.Uint64(r.buf[r.pos:]))
	y := math.Float64frombits(order.Uint64(r.buf[r.pos+8:]))
	r.pos += 16
	return orb.Point{x, y}, nil
}

// checkCount rejects counts that could not possibly fit in the bytes
// left, before any allocation or element read happens.
func (r *reader) checkCount(n uint32, minBytesPer int) error {
	if int64(n)*int64(minBytesPer) > int64(r.remaining()) {
		return errors.Newf(errors.CodeGeometryDecode, "declared count %d exceeds remaining %d bytes", n, r.remaining()).
			WithField("offset", r.pos)
	}
	return nil
}

func (r *reader) header() (binary.ByteOrder, uint32, error) {
	order, err := r.order()
	if err != nil {
		return nil, 0, err
	}
	typ, err := r.uint32(order)
	if err != nil {
		return nil, 0, err
	}
	if typ&(ewkbZ|ewkbM) != 0 {
		return nil, 0, errors.New(errors.CodeGeometryDecode, "geometries with Z or M dimensions are not supported").
			WithField("wkb_type", typ)
	}
	if typ&ewkbSRID != 0 {
		if _, err := r.uint32(order); err != nil {
			return nil, 0, err
		}
		typ &^= ewkbSRID
	}
	return order, typ, nil
}

func (r *reader) geometry() (geom.Record, error) {
	order, typ, err := r.header()
	if err != nil {
		return geom.Record{}, err
	}

	switch typ {
	case typePoint:
		pt, err := r.point(order)
		if err != nil {
			return geom.Record{}, err
		}
		return geom.NewPoint(pt), nil

	case typeLineString:
		ring, err := r.ring(order)
		if err != nil {
			return geom.Record{}, err
		}
		return geom.NewPath([]geom.Ring{ring}), nil

	case typePolygon:
		rings, err := r.rings(order)
		if err != nil {
			return geom.Record{}, err
		}
		return geom.NewPath(rings), nil

	case typeMultiLineString:
		return r.multi(order, typeLineString)

	case typeMultiPolygon:
		return r.multi(order, typePolygon)

	default:
		return geom.Record{}, errors.Newf(errors.CodeGeometryDecode, "unsupported geometry type %d", typ).
			WithField("wkb_type", typ)
	}
}

func (r *reader) ring(order binary.ByteOrder) (geom.Ring, error) {
	n, err := r.uint32(order)
	if err != nil {
		return nil, err
	}
	if err := r.checkCount(n, 16); err != nil {
		return nil, err
	}
	ring := make(geom.Ring, n)
	for i := range ring {
		pt, err := r.point(order)
		if err != nil {
			return nil, err
		}
		ring[i] = pt
	}
	return ring, nil
}

func (r *reader) rings(order binary.ByteOrder) ([]geom.Ring, error) {
	n, err := r.uint32(order)
	if err != nil {
		return nil, err
	}
	// A ring needs at least its own 4-byte vertex count.
	if err := r.checkCount(n, 4); err != nil {
		return nil, err
	}
	rings := make([]geom.Ring, n)
	for i := range rings {
		ring, err := r.ring(order)
		if err != nil {
			return nil, err
		}
		rings[i] = ring
	}
	return rings, nil
}

// multi decodes a MultiLineString or MultiPolygon into one path record,
// concatenating the members' rings in order.
func (r *reader) multi(order binary.ByteOrder, wantType uint32) (geom.Record, error) {
	n, err := r.uint32(order)
	if err != nil {
		return geom.Record{}, err
	}
	// Each member carries at least a byte-order flag and a type word.
	if err := r.checkCount(n, 5); err != nil {
		return geom.Record{}, err
	}

	var rings []geom.Ring
	for i := uint32(0); i < n; i++ {
		memberOrder, memberType, err := r.header()
		if err != nil {
			return geom.Record{}, err
		}
		if memberType != wantType {
			return geom.Record{}, errors.Newf(errors.CodeGeometryDecode, "multi geometry member has type %d, want %d", memberType, wantType).
				WithField("wkb_type", memberType)
		}
		switch wantType {
		case typeLineString:
			ring, err := r.ring(memberOrder)
			if err != nil {
				return geom.Record{}, err
			}
			rings = append(rings, ring)
		case typePolygon:
			member, err := r.rings(memberOrder)
			if err != nil {
				return geom.Record{}, err
			}
			rings = append(rings, member...)
		}
	}
	return geom.NewPath(rings), nil
}
