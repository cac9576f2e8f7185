package output

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"tilesmith/internal/pkg/errors"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"png", FormatPNG, false},
		{"", FormatPNG, false},
		{"jpg", FormatJPEG, false},
		{"JPEG", FormatJPEG, false},
		{"webp", FormatWebP, false},
		{"tif", FormatTIFF, false},
		{"bmp", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tt.in)
			} else if !errors.IsCode(err, errors.CodeConfig) {
				t.Errorf("ParseFormat(%q): expected CONFIG_ERROR, got %v", tt.in, errors.GetCode(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeFormats(t *testing.T) {
	img := testImage()
	for _, f := range []Format{FormatPNG, FormatJPEG, FormatWebP, FormatTIFF} {
		data, err := Encode(img, f)
		if err != nil {
			t.Errorf("Encode(%s): unexpected error %v", f, err)
			continue
		}
		if len(data) == 0 {
			t.Errorf("Encode(%s): empty output", f)
		}
	}
	if _, err := Encode(img, Format("gif")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestFSWriteTile(t *testing.T) {
	root := t.TempDir()
	sink, err := NewFS(root)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	data := []byte("tile-bytes")
	if err := sink.WriteTile(7, 63, 42, "png", data); err != nil {
		t.Fatalf("write tile: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "7", "63", "42.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q, got %q", data, got)
	}

	// No temp files should survive the rename.
	entries, err := os.ReadDir(filepath.Join(root, "7", "63"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file in tile directory, got %d", len(entries))
	}
}

func TestFSOverwrite(t *testing.T) {
	sink, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.WriteFile("a/b.png", []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := sink.WriteFile("a/b.png", []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(sink.Root(), "a", "b.png"))
	if string(got) != "second" {
		t.Errorf("expected overwrite to win, got %q", got)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	tiles := [][]byte{
		[]byte("tile-0"),
		[]byte("tile-one"),
		[]byte(""),
		[]byte("tile-three-larger"),
	}
	blob := EncodeMeta(16, 24, 5, 256, tiles)

	h, got, err := DecodeMeta(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Count != 4 || h.OriginX != 16 || h.OriginY != 24 || h.Zoom != 5 || h.TileSize != 256 {
		t.Errorf("unexpected header %+v", h)
	}
	if h.Ordering != "row-major" {
		t.Errorf("expected row-major ordering token, got %q", h.Ordering)
	}
	if len(got) != len(tiles) {
		t.Fatalf("expected %d tiles, got %d", len(tiles), len(got))
	}
	for i := range tiles {
		if !bytes.Equal(got[i], tiles[i]) {
			t.Errorf("tile %d: expected %q, got %q", i, tiles[i], got[i])
		}
	}
}

func TestMetaDecodeErrors(t *testing.T) {
	blob := EncodeMeta(0, 0, 3, 256, [][]byte{[]byte("abc")})

	if _, _, err := DecodeMeta(blob[:10]); err == nil {
		t.Error("expected error for truncated header")
	}
	if _, _, err := DecodeMeta(blob[:metaHeaderSize+4]); err == nil {
		t.Error("expected error for truncated index")
	}

	bad := append([]byte(nil), blob...)
	copy(bad, "NOPE")
	if _, _, err := DecodeMeta(bad); err == nil {
		t.Error("expected error for bad signature")
	}

	// An offset near the uint64 ceiling must fail the bounds check, not
	// wrap it and panic on the slice.
	wrap := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint64(wrap[metaHeaderSize:], ^uint64(0))
	if _, _, err := DecodeMeta(wrap); err == nil {
		t.Error("expected error for wrapping offset")
	}

	huge := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint64(huge[metaHeaderSize+8:], ^uint64(0))
	if _, _, err := DecodeMeta(huge); err == nil {
		t.Error("expected error for oversized tile")
	}
}
