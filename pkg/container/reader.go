package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/pools"
)

// Reader is a memory-mapped, read-only view of a container.
type Reader struct {
	path     string
	mmap     *mmap.ReaderAt
	header   Header
	datasets []*datasetMeta
	byName   map[string]*datasetMeta
	attrs    map[string]json.RawMessage
}

// IsContainer reports whether path starts with the container magic.
func IsContainer(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return false
	}
	return magic == Magic
}

// Open maps path and validates its header, index and footer checksum.
func Open(path string) (*Reader, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := load(path, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return r, nil
}

func load(path string, reader *mmap.ReaderAt) (*Reader, error) {
	headerSize := binary.Size(Header{})
	if reader.Len() < headerSize+4 {
		return nil, fmt.Errorf("%w: %s is too short", ErrNotContainer, path)
	}

	headerBuf := make([]byte, headerSize)
	if _, err := reader.ReadAt(headerBuf, 0); err != nil {
		return nil, err
	}
	var header Header
	if err := binary.Read(bytes.NewReader(headerBuf), binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != Magic {
		return nil, fmt.Errorf("%w: %s has magic %x", ErrNotContainer, path, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrNotContainer, path, header.Version)
	}

	end := int64(reader.Len()) - 4
	if int64(header.IndexOffset) > end || header.AttrOffset < header.IndexOffset || int64(header.AttrOffset) > end {
		return nil, fmt.Errorf("%w: %s has corrupt offsets", ErrChecksum, path)
	}

	tail := make([]byte, end-int64(header.IndexOffset))
	if _, err := reader.ReadAt(tail, int64(header.IndexOffset)); err != nil {
		return nil, err
	}
	footer := make([]byte, 4)
	if _, err := reader.ReadAt(footer, end); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(tail) != binary.LittleEndian.Uint32(footer) {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, path)
	}

	indexLen := header.AttrOffset - header.IndexOffset
	datasets, err := readIndex(tail[:indexLen], int(header.DatasetCount))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	attrs, err := readAttrs(tail[indexLen:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	byName := make(map[string]*datasetMeta, len(datasets))
	for _, d := range datasets {
		byName[d.Name] = d
	}

	return &Reader{
		path:     path,
		mmap:     reader,
		header:   header,
		datasets: datasets,
		byName:   byName,
		attrs:    attrs,
	}, nil
}

func readIndex(buf []byte, count int) ([]*datasetMeta, error) {
	r := bytes.NewReader(buf)
	datasets := make([]*datasetMeta, 0, count)
	for i := 0; i < count; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("read index entry %d: %w", i, err)
		}
		if int(nameLen) > r.Len() {
			return nil, fmt.Errorf("index entry %d: name length %d overflows index", i, nameLen)
		}
		name := make([]byte, nameLen)
		if _, err := r.Read(name); err != nil {
			return nil, err
		}
		code, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		dt, err := dtypeFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}

		d := &datasetMeta{Name: string(name), DType: dt}
		var nchunks uint32
		if err := binary.Read(r, binary.LittleEndian, &d.Length); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &d.ChunkLen); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &nchunks); err != nil {
			return nil, err
		}
		d.Chunks = make([]chunkRef, nchunks)
		for c := range d.Chunks {
			if err := binary.Read(r, binary.LittleEndian, &d.Chunks[c]); err != nil {
				return nil, err
			}
		}
		datasets = append(datasets, d)
	}
	return datasets, nil
}

func readAttrs(buf []byte) (map[string]json.RawMessage, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("attribute table truncated")
	}
	n := binary.LittleEndian.Uint32(buf)
	if int(n) > len(buf)-4 {
		return nil, fmt.Errorf("attribute table length %d overflows file", n)
	}
	attrs := make(map[string]json.RawMessage)
	if err := json.Unmarshal(buf[4:4+n], &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// Codec returns the chunk compression of the file.
func (r *Reader) Codec() Codec {
	return Codec(r.header.Codec)
}

// Close unmaps the file.
func (r *Reader) Close() error {
	if r.mmap == nil {
		return nil
	}
	err := r.mmap.Close()
	r.mmap = nil
	return err
}

// Has reports whether the named dataset exists.
func (r *Reader) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Datasets lists the datasets under prefix in write order. An empty prefix
// lists everything.
func (r *Reader) Datasets(prefix string) []string {
	p := groupPrefix(prefix)
	var out []string
	for _, d := range r.datasets {
		if strings.HasPrefix(d.Name, p) {
			out = append(out, d.Name)
		}
	}
	return out
}

// Groups lists the immediate child groups of prefix, sorted.
func (r *Reader) Groups(prefix string) []string {
	p := groupPrefix(prefix)
	seen := make(map[string]bool)
	var out []string
	for _, d := range r.datasets {
		if !strings.HasPrefix(d.Name, p) {
			continue
		}
		rest := d.Name[len(p):]
		slash := strings.IndexByte(rest, '/')
		if slash <= 0 {
			continue
		}
		g := rest[:slash]
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

func groupPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Len returns the element count of a dataset.
func (r *Reader) Len(name string) (int, error) {
	d, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", ErrDatasetNotFound, name, r.path)
	}
	return int(d.Length), nil
}

// DType returns the element type of a dataset.
func (r *Reader) DType(name string) (fields.DType, error) {
	d, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrDatasetNotFound, name, r.path)
	}
	return d.DType, nil
}

// Read returns a whole dataset.
func (r *Reader) Read(name string) (fields.Array, error) {
	d, ok := r.byName[name]
	if !ok {
		return fields.Array{}, fmt.Errorf("%w: %q in %s", ErrDatasetNotFound, name, r.path)
	}
	return r.ReadRange(name, 0, int(d.Length))
}

// ReadRange returns elements [start, end) of a dataset, decompressing only
// the chunks that overlap the range.
func (r *Reader) ReadRange(name string, start, end int) (fields.Array, error) {
	if r.mmap == nil {
		return fields.Array{}, fmt.Errorf("container %s is closed", r.path)
	}
	d, ok := r.byName[name]
	if !ok {
		return fields.Array{}, fmt.Errorf("%w: %q in %s", ErrDatasetNotFound, name, r.path)
	}
	if start < 0 || end < start || end > int(d.Length) {
		return fields.Array{}, fmt.Errorf("range [%d, %d) outside dataset %q of length %d", start, end, name, d.Length)
	}

	out := fields.NewArray(d.DType, end-start)
	if end == start {
		return out, nil
	}

	chunkLen := int(d.ChunkLen)
	first := start / chunkLen
	last := (end - 1) / chunkLen
	for c := first; c <= last; c++ {
		ref := d.Chunks[c]
		chunk, err := r.readChunk(ref)
		if err != nil {
			return fields.Array{}, fmt.Errorf("dataset %q chunk %d: %w", name, c, err)
		}

		chunkStart := c * chunkLen
		tmp := fields.NewArray(d.DType, len(chunk)/d.DType.Size())
		if err := decodeInto(tmp, 0, chunk); err != nil {
			return fields.Array{}, fmt.Errorf("dataset %q chunk %d: %w", name, c, err)
		}

		lo := max(start, chunkStart) - chunkStart
		hi := min(end, chunkStart+tmp.Len()) - chunkStart
		copyInto(out, max(start, chunkStart)-start, tmp.Slice(lo, hi))
	}
	return out, nil
}

func (r *Reader) readChunk(ref chunkRef) ([]byte, error) {
	buf := pools.GetBytesSized(int(ref.Size))
	defer pools.PutBytes(buf)

	data := buf[:ref.Size]
	if _, err := r.mmap.ReadAt(data, int64(ref.Offset)); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(data) != ref.CRC {
		return nil, ErrChecksum
	}
	raw, err := decompress(r.Codec(), data)
	if err != nil {
		return nil, err
	}
	if r.Codec() == CodecNone {
		// raw aliases the pooled buffer
		raw = append([]byte(nil), raw...)
	}
	return raw, nil
}

func copyInto(dst fields.Array, at int, src fields.Array) {
	switch dst.DType {
	case fields.Int64:
		copy(dst.I64[at:], src.I64)
	case fields.Float32:
		copy(dst.F32[at:], src.F32)
	case fields.Float64:
		copy(dst.F64[at:], src.F64)
	}
}

// HasAttr reports whether the named attribute exists.
func (r *Reader) HasAttr(name string) bool {
	_, ok := r.attrs[name]
	return ok
}

// Attr decodes the named attribute into v.
func (r *Reader) Attr(name string, v any) error {
	raw, ok := r.attrs[name]
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrAttrNotFound, name, r.path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	return nil
}

// AttrNames lists attributes under prefix, sorted.
func (r *Reader) AttrNames(prefix string) []string {
	p := groupPrefix(prefix)
	var out []string
	for name := range r.attrs {
		if strings.HasPrefix(name, p) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
