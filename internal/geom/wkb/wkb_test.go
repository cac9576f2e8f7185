package wkb

import (
	"testing"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/pkg/errors"
)

func TestDecodePoint(t *testing.T) {
	for _, o := range []ByteOrder{LittleEndian, BigEndian} {
		rec, err := Decode(EncodePoint(o, orb.Point{13.4, 52.5}))
		if err != nil {
			t.Fatalf("order %d: unexpected error: %v", o, err)
		}
		if rec.Kind != geom.KindPoint {
			t.Fatalf("order %d: expected point record, got %s", o, rec.Kind)
		}
		if rec.Point[0] != 13.4 || rec.Point[1] != 52.5 {
			t.Errorf("order %d: expected (13.4, 52.5), got %v", o, rec.Point)
		}
	}
}

func TestDecodeLineString(t *testing.T) {
	line := geom.Ring{{0, 0}, {1, 1}, {2, 0}}
	rec, err := Decode(EncodeLineString(LittleEndian, line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Kind != geom.KindPath {
		t.Fatalf("expected path record, got %s", rec.Kind)
	}
	if len(rec.Rings) != 1 {
		t.Fatalf("expected 1 ring, got %d", len(rec.Rings))
	}
	if len(rec.Rings[0]) != 3 {
		t.Errorf("expected 3 vertices, got %d", len(rec.Rings[0]))
	}
}

func TestDecodePolygonWithHole(t *testing.T) {
	outer := geom.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := geom.Ring{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}
	buf := EncodePolygon(LittleEndian, []geom.Ring{outer, hole})

	rec, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Rings) != 2 {
		t.Fatalf("expected exactly 2 rings, got %d", len(rec.Rings))
	}
	if len(rec.Rings[0]) != len(outer) {
		t.Errorf("outer ring: expected %d vertices, got %d", len(outer), len(rec.Rings[0]))
	}
	if len(rec.Rings[1]) != len(hole) {
		t.Errorf("hole ring: expected %d vertices, got %d", len(hole), len(rec.Rings[1]))
	}
}

func TestDecodeTruncated(t *testing.T) {
	outer := geom.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := geom.Ring{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}
	buf := EncodePolygon(LittleEndian, []geom.Ring{outer, hole})

	// Chop bytes off the tail; every prefix must fail cleanly, never panic.
	for cut := 1; cut <= len(buf); cut++ {
		if cut == len(buf) {
			continue
		}
		_, err := Decode(buf[:cut])
		if err == nil {
			t.Fatalf("expected error decoding %d-byte prefix of %d-byte record", cut, len(buf))
		}
		if !errors.IsCode(err, errors.CodeGeometryDecode) {
			t.Fatalf("expected GEOMETRY_DECODE_ERROR, got %v", err)
		}
	}

	// The specific case from the pipeline contract: 10 bytes short.
	if _, err := Decode(buf[:len(buf)-10]); err == nil {
		t.Error("expected error for record truncated by 10 bytes")
	}
}

func TestDecodeMultiLineString(t *testing.T) {
	lines := []geom.Ring{
		{{0, 0}, {1, 0}},
		{{0, 1}, {1, 1}, {2, 1}},
	}
	rec, err := Decode(EncodeMultiLineString(BigEndian, lines))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Rings) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(rec.Rings))
	}
	if len(rec.Rings[1]) != 3 {
		t.Errorf("second line: expected 3 vertices, got %d", len(rec.Rings[1]))
	}
}

func TestDecodeMultiPolygon(t *testing.T) {
	a := []geom.Ring{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	b := []geom.Ring{
		{{5, 5}, {9, 5}, {9, 9}, {5, 5}},
		{{6, 6}, {7, 6}, {7, 7}, {6, 6}},
	}
	rec, err := Decode(EncodeMultiPolygon(LittleEndian, [][]geom.Ring{a, b}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Ring order preserved: a's outer, then b's outer, then b's hole.
	if len(rec.Rings) != 3 {
		t.Fatalf("expected 3 rings, got %d", len(rec.Rings))
	}
}

func TestDecodeUnsupportedType(t *testing.T) {
	w := newWriter(LittleEndian)
	w.flag(LittleEndian)
	w.uint32(typeMultiPoint)
	w.uint32(0)

	_, err := Decode(w.buf)
	if err == nil {
		t.Fatal("expected error for unsupported geometry type")
	}
	if !errors.IsCode(err, errors.CodeGeometryDecode) {
		t.Fatalf("expected GEOMETRY_DECODE_ERROR, got %v", err)
	}
	fields := errors.GetFields(err)
	if fields["wkb_type"] != uint32(typeMultiPoint) {
		t.Errorf("expected wkb_type field %d, got %v", typeMultiPoint, fields["wkb_type"])
	}
}

func TestDecodeAbsurdCount(t *testing.T) {
	w := newWriter(LittleEndian)
	w.flag(LittleEndian)
	w.uint32(typeLineString)
	w.uint32(0xFFFFFFFF)

	_, err := Decode(w.buf)
	if err == nil {
		t.Fatal("expected error for vertex count exceeding buffer")
	}
}

func TestDecodeBadByteOrderFlag(t *testing.T) {
	if _, err := Decode([]byte{0x07, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for invalid byte-order flag")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty buffer")
	}
}

func TestDecodeEWKBWithSRID(t *testing.T) {
	// PostGIS-style EWKB: SRID flag set, 4-byte SRID before the payload.
	w := newWriter(LittleEndian)
	w.flag(LittleEndian)
	w.uint32(typePoint | ewkbSRID)
	w.uint32(4326)
	w.point(orb.Point{1, 2})

	rec, err := Decode(w.buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Point != (orb.Point{1, 2}) {
		t.Errorf("expected (1, 2), got %v", rec.Point)
	}
}
