package output

import (
	"encoding/binary"
	"strings"

	"tilesmith/internal/pkg/errors"
)

// Meta-tile container layout, all integers little-endian:
//
//	4 bytes   "META"
//	uint32    tile count
//	uint32    origin tile x
//	uint32    origin tile y
//	uint32    zoom
//	uint32    tile size in pixels
//	16 bytes  ordering token, zero padded ("row-major")
//	count ×   {uint64 offset, uint64 size}  offsets from container start
//	          encoded tile blobs
const (
	metaMagic      = "META"
	metaOrdering   = "row-major"
	metaTokenSize  = 16
	metaHeaderSize = 4 + 5*4 + metaTokenSize
	metaEntrySize  = 16
)

// MetaHeader describes a decoded container.
type MetaHeader struct {
	Count    uint32
	OriginX  uint32
	OriginY  uint32
	Zoom     uint32
	TileSize uint32
	Ordering string
}

// EncodeMeta packs the encoded tiles of one grid cell, row-major from
// the origin, into a single container blob.
func EncodeMeta(originX, originY, zoom uint32, tileSize int, tiles [][]byte) []byte {
	n := uint32(len(tiles))
	total := metaHeaderSize + int(n)*metaEntrySize
	for _, t := range tiles {
		total += len(t)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, metaMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, n)
	buf = binary.LittleEndian.AppendUint32(buf, originX)
	buf = binary.LittleEndian.AppendUint32(buf, originY)
	buf = binary.LittleEndian.AppendUint32(buf, zoom)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tileSize))

	var token [metaTokenSize]byte
	copy(token[:], metaOrdering)
	buf = append(buf, token[:]...)

	offset := uint64(metaHeaderSize + int(n)*metaEntrySize)
	for _, t := range tiles {
		buf = binary.LittleEndian.AppendUint64(buf, offset)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t)))
		offset += uint64(len(t))
	}
	for _, t := range tiles {
		buf = append(buf, t...)
	}
	return buf
}

// DecodeMeta parses a container and returns its header and tile blobs.
func DecodeMeta(data []byte) (MetaHeader, [][]byte, error) {
	if len(data) < metaHeaderSize {
		return MetaHeader{}, nil, errors.New(errors.CodeFile, "meta container truncated")
	}
	if string(data[:4]) != metaMagic {
		return MetaHeader{}, nil, errors.New(errors.CodeFile, "bad meta container signature")
	}

	h := MetaHeader{
		Count:    binary.LittleEndian.Uint32(data[4:]),
		OriginX:  binary.LittleEndian.Uint32(data[8:]),
		OriginY:  binary.LittleEndian.Uint32(data[12:]),
		Zoom:     binary.LittleEndian.Uint32(data[16:]),
		TileSize: binary.LittleEndian.Uint32(data[20:]),
		Ordering: strings.TrimRight(string(data[24:24+metaTokenSize]), "\x00"),
	}

	tableEnd := metaHeaderSize + int(h.Count)*metaEntrySize
	if len(data) < tableEnd {
		return MetaHeader{}, nil, errors.New(errors.CodeFile, "meta container index truncated")
	}

	tiles := make([][]byte, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		base := metaHeaderSize + i*metaEntrySize
		offset := binary.LittleEndian.Uint64(data[base:])
		size := binary.LittleEndian.Uint64(data[base+8:])
		// Operands checked separately: offset+size can wrap uint64.
		if offset > uint64(len(data)) || size > uint64(len(data))-offset {
			return MetaHeader{}, nil, errors.Newf(errors.CodeFile, "meta tile %d extends past container end", i)
		}
		tiles = append(tiles, data[offset:offset+size])
	}
	return h, tiles, nil
}
