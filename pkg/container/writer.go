package container

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

// Writer builds a container. Data goes to a temporary file that replaces
// path only when Close succeeds, so readers never observe a partial file.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	writer  *bufio.Writer
	offset  uint64
	opts    Options

	datasets []*datasetMeta
	names    map[string]bool
	attrs    map[string]json.RawMessage
	closed   bool
	size     int64
}

// Create starts a new container at path, creating parent directories.
func Create(path string, opts Options) (*Writer, error) {
	if opts.ChunkLen <= 0 {
		opts.ChunkLen = DefaultChunkLen
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create container directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", path, err)
	}

	w := &Writer{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		writer:  bufio.NewWriter(file),
		opts:    opts,
		names:   make(map[string]bool),
		attrs:   make(map[string]json.RawMessage),
	}

	// Placeholder header, rewritten on Close
	if err := binary.Write(w.writer, binary.LittleEndian, &Header{}); err != nil {
		w.Abort()
		return nil, err
	}
	w.offset = uint64(binary.Size(Header{}))
	return w, nil
}

// Path returns the final path of the container.
func (w *Writer) Path() string {
	return w.path
}

// WriteDataset appends a named dataset.
func (w *Writer) WriteDataset(name string, a fields.Array) error {
	if w.closed {
		return ErrWriterClosed
	}
	if name == "" {
		return fmt.Errorf("empty dataset name")
	}
	if w.names[name] {
		return fmt.Errorf("dataset %q already written", name)
	}
	if _, err := dtypeCode(a.DType); err != nil {
		return fmt.Errorf("dataset %q: %w", name, err)
	}

	meta := &datasetMeta{
		Name:     name,
		DType:    a.DType,
		Length:   uint64(a.Len()),
		ChunkLen: uint32(w.opts.ChunkLen),
	}

	for i := 0; i < a.Len(); i += w.opts.ChunkLen {
		j := i + w.opts.ChunkLen
		if j > a.Len() {
			j = a.Len()
		}
		data, err := compress(w.opts.Codec, encodeArray(a, i, j))
		if err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		if _, err := w.writer.Write(data); err != nil {
			return err
		}
		meta.Chunks = append(meta.Chunks, chunkRef{
			Offset: w.offset,
			Size:   uint32(len(data)),
			CRC:    crc32.ChecksumIEEE(data),
		})
		w.offset += uint64(len(data))
	}

	w.names[name] = true
	w.datasets = append(w.datasets, meta)
	return nil
}

// SetAttr stores a JSON-encodable attribute.
func (w *Writer) SetAttr(name string, v any) error {
	if w.closed {
		return ErrWriterClosed
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	w.attrs[name] = raw
	return nil
}

// Close writes the index, attributes and footer, then publishes the file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.finish(); err != nil {
		w.Abort()
		return err
	}
	w.closed = true
	return nil
}

func (w *Writer) finish() error {
	header := Header{
		Magic:        Magic,
		Version:      Version,
		Codec:        uint32(w.opts.Codec),
		DatasetCount: uint32(len(w.datasets)),
		IndexOffset:  w.offset,
	}

	crc := crc32.NewIEEE()
	tail := &countingWriter{w: w.writer, h: crc}

	if err := writeIndex(tail, w.datasets); err != nil {
		return err
	}
	header.AttrOffset = w.offset + uint64(tail.n)

	attrs, err := json.Marshal(w.attrs)
	if err != nil {
		return err
	}
	if err := binary.Write(tail, binary.LittleEndian, uint32(len(attrs))); err != nil {
		return err
	}
	if _, err := tail.Write(attrs); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, &header); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	w.size = info.Size()
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	return os.Rename(w.tmpPath, w.path)
}

// Size returns the number of bytes in the published file.
func (w *Writer) Size() int64 {
	return w.size
}

// Abort discards the partial container.
func (w *Writer) Abort() {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	_ = os.Remove(w.tmpPath)
	w.closed = true
}

// writeIndex writes the dataset index
// Format per dataset: nameLen(4) | name | dtype(1) | length(8) | chunkLen(4) | nchunks(4) | {offset(8) size(4) crc(4)}*
func writeIndex(w *countingWriter, datasets []*datasetMeta) error {
	for _, d := range datasets {
		code, err := dtypeCode(d.DType)
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(d.Name))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(d.Name)); err != nil {
			return err
		}
		if _, err := w.Write([]byte{code}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, d.Length); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, d.ChunkLen); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(d.Chunks))); err != nil {
			return err
		}
		for _, c := range d.Chunks {
			if err := binary.Write(w, binary.LittleEndian, &c); err != nil {
				return err
			}
		}
	}
	return nil
}

type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	h interface{ Write([]byte) (int, error) }
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	_, _ = c.h.Write(p[:n])
	return n, err
}
