// Package container implements the structured record container used by the
// binary catalog and native formats: named, typed, chunk-compressed datasets
// plus a JSON attribute table, written once and read through mmap.
//
// Container format:
//
//	[Header: magic(4) | version(4) | codec(4) | dataset_count(4) | index_offset(8) | attr_offset(8)]
//	[Data: compressed chunks, each covering up to chunk_len elements of one dataset]
//	[Index: per dataset name | dtype | length | chunk_len | chunk offsets, sizes, crc32s]
//	[Attributes: json_len(4) | JSON object]
//	[Footer: crc32 of index and attributes (4)]
//
// Dataset names are slash-separated paths ("File0/TreeInfo/TreeRootID");
// groups are the directory-like prefixes of those paths. Attribute names
// follow the same convention.
package container

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

const (
	Magic   = 0x41524243 // "ARBC"
	Version = 1

	// DefaultChunkLen is the number of elements compressed together.
	DefaultChunkLen = 65536
)

var (
	ErrNotContainer    = errors.New("not an arbor container")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrAttrNotFound    = errors.New("attribute not found")
	ErrChecksum        = errors.New("container checksum mismatch")
	ErrWriterClosed    = errors.New("container writer is closed")
)

// Codec selects the chunk compression.
type Codec uint32

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint32(c))
}

// ParseCodec converts a configuration name into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	case "none":
		return CodecNone, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// Header is the fixed-size file header.
type Header struct {
	Magic        uint32
	Version      uint32
	Codec        uint32
	DatasetCount uint32
	IndexOffset  uint64
	AttrOffset   uint64
}

// chunkRef locates one compressed chunk.
type chunkRef struct {
	Offset uint64
	Size   uint32
	CRC    uint32
}

// datasetMeta is one index entry.
type datasetMeta struct {
	Name     string
	DType    fields.DType
	Length   uint64
	ChunkLen uint32
	Chunks   []chunkRef
}

func dtypeCode(dt fields.DType) (uint8, error) {
	switch dt {
	case fields.Int64:
		return 1, nil
	case fields.Float32:
		return 2, nil
	case fields.Float64:
		return 3, nil
	}
	return 0, fmt.Errorf("unsupported dtype %q", dt)
}

func dtypeFromCode(c uint8) (fields.DType, error) {
	switch c {
	case 1:
		return fields.Int64, nil
	case 2:
		return fields.Float32, nil
	case 3:
		return fields.Float64, nil
	}
	return "", fmt.Errorf("unknown dtype code %d", c)
}

// Options configures a Writer.
type Options struct {
	Codec    Codec
	ChunkLen int
}
