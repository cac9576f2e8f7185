package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
)

// ByteOrder selects the encoding for the Encode* helpers.
type ByteOrder byte

const (
	// BigEndian encodes with network byte order.
	BigEndian ByteOrder = byteOrderBig
	// LittleEndian encodes with little-endian byte order.
	LittleEndian ByteOrder = byteOrderLittle
)

func (o ByteOrder) order() binary.AppendByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type writer struct {
	buf   []byte
	order binary.AppendByteOrder
}

func newWriter(o ByteOrder) *writer {
	return &writer{order: o.order()}
}

func (w *writer) flag(o ByteOrder) {
	w.buf = append(w.buf, byte(o))
}

func (w *writer) uint32(v uint32) {
	w.buf = w.order.AppendUint32(w.buf, v)
}

func (w *writer) point(pt orb.Point) {
	w.buf = w.order.AppendUint64(w.buf, math.Float64bits(pt[0]))
	w.buf = w.order.AppendUint64(w.buf, math.Float64bits(pt[1]))
}

func (w *writer) ring(ring geom.Ring) {
	w.uint32(uint32(len(ring)))
	for _, pt := range ring {
		w.point(pt)
	}
}

// EncodePoint encodes a WKB Point.
func EncodePoint(o ByteOrder, pt orb.Point) []byte {
	w := newWriter(o)
	w.flag(o)
	w.uint32(typePoint)
	w.point(pt)
	return w.buf
}

// EncodeLineString encodes a WKB LineString.
func EncodeLineString(o ByteOrder, line geom.Ring) []byte {
	w := newWriter(o)
	w.flag(o)
	w.uint32(typeLineString)
	w.ring(line)
	return w.buf
}

// EncodePolygon encodes a WKB Polygon; rings after the first are holes.
func EncodePolygon(o ByteOrder, rings []geom.Ring) []byte {
	w := newWriter(o)
	w.flag(o)
	w.uint32(typePolygon)
	w.uint32(uint32(len(rings)))
	for _, ring := range rings {
		w.ring(ring)
	}
	return w.buf
}

// EncodeMultiLineString encodes a WKB MultiLineString with one member
// per input line.
func EncodeMultiLineString(o ByteOrder, lines []geom.Ring) []byte {
	w := newWriter(o)
	w.flag(o)
	w.uint32(typeMultiLineString)
	w.uint32(uint32(len(lines)))
	for _, line := range lines {
		w.buf = append(w.buf, EncodeLineString(o, line)...)
	}
	return w.buf
}

// EncodeMultiPolygon encodes a WKB MultiPolygon.
func EncodeMultiPolygon(o ByteOrder, polygons [][]geom.Ring) []byte {
	w := newWriter(o)
	w.flag(o)
	w.uint32(typeMultiPolygon)
	w.uint32(uint32(len(polygons)))
	for _, rings := range polygons {
		w.buf = append(w.buf, EncodePolygon(o, rings)...)
	}
	return w.buf
}
