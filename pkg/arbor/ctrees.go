package arbor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/pools"
)

// treeMarker opens each tree in a flat catalog: "#tree <uid>".
const treeMarker = "#tree "

// ctreesFrontend plants a single consistent-trees text catalog by scanning
// it for tree markers.
type ctreesFrontend struct {
	header *ctreesHeader
}

func (f *ctreesFrontend) Name() string {
	return "consistent_trees"
}

// Valid accepts .dat files whose comment header carries the format marker.
func (f *ctreesFrontend) Valid(path string) bool {
	return validity(func(p string) error {
		if !strings.HasSuffix(p, ".dat") {
			return ErrFormatMismatch
		}
		return hasCtreesMarker(p, ctreesMarker)
	}, path)
}

func (f *ctreesFrontend) Load(a *Arbor) error {
	h, err := readCtreesHeader(a.path, true, a.opts.DefaultDType)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	if h.ntrees == 0 {
		return emptyError(a.path)
	}
	f.header = h
	registerCtreesFields(a, h)
	a.setDataFiles([]datafile.Handle{datafile.NewText(a.path)}, nil)
	return nil
}

func registerCtreesFields(a *Arbor, h *ctreesHeader) {
	for _, e := range h.entries {
		a.fieldInfo.Add(e)
	}
	a.addAliases(ctreesAliases)
	a.params = h.params
	a.units = h.unitRegistry()
}

func (f *ctreesFrontend) Parser() FieldParser {
	return textParser{}
}

// Plant reads from the header end to EOF in fixed-size blocks. For marker i
// the tree starts just after the marker line, and tree i-1 ends at the
// newline before the marker. The last tree ends at EOF.
//
// Every '#' after the header is taken to open a marker; values never
// contain one.
func (f *ctreesFrontend) Plant(a *Arbor) ([]*Node, error) {
	df := a.dataFiles[0].(*datafile.Text)
	blockSize := int64(a.opts.BlockSize)

	var trees []*Node
	err := datafile.With(df, func(datafile.Handle) error {
		size, err := df.Size()
		if err != nil {
			return err
		}

		buf := pools.GetBytesSized(int(blockSize))
		defer pools.PutBytes(buf)

		offset := f.header.end
		for offset < size {
			n := min(blockSize, size-offset)
			block := buf[:n]
			if _, err := df.ReadAt(block, offset); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			next := offset + n

			from := 0
			for {
				i := bytes.IndexByte(block[from:], '#')
				if i < 0 {
					break
				}
				ihash := from + i
				inl := bytes.IndexByte(block[ihash:], '\n')
				if inl < 0 {
					// The marker line crosses the block boundary.
					ext, err := readLine(df, next)
					if err != nil {
						return err
					}
					block = append(block[:len(block):len(block)], ext...)
					next += int64(len(ext))
					inl = bytes.IndexByte(block[ihash:], '\n')
					if inl < 0 {
						inl = len(block) - ihash
					}
				}
				inl += ihash

				uid, err := parseMarker(block[ihash:inl])
				if err != nil {
					return NewError("plant").Path(a.path).Cause(
						fmt.Errorf("at offset %d: %w", offset+int64(ihash), err)).Err()
				}
				if len(trees) > 0 {
					prev := trees[len(trees)-1]
					prev.End = max(offset+int64(ihash)-1, prev.Start)
				}
				trees = append(trees, newRoot(a, uid, 0, offset+int64(inl)+1, -1, len(trees)))
				from = inl
			}
			offset = next
		}

		if len(trees) > 0 {
			trees[len(trees)-1].End = size
		}
		a.metrics.RecordBytesRead(size - f.header.end)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(trees) == 0 {
		return nil, emptyError(a.path)
	}
	if f.header.ntrees > 0 && f.header.ntrees != len(trees) {
		a.logger.Warn("tree count line disagrees with markers",
			logging.Int("declared", f.header.ntrees), logging.Count(len(trees)))
	}
	return trees, nil
}

// readLine reads from off through the next newline or EOF.
func readLine(df *datafile.Text, off int64) ([]byte, error) {
	var line []byte
	chunk := make([]byte, 256)
	for {
		n, err := df.ReadAt(chunk, off)
		if i := bytes.IndexByte(chunk[:n], '\n'); i >= 0 {
			return append(line, chunk[:i+1]...), nil
		}
		line = append(line, chunk[:n]...)
		off += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return line, nil
			}
			return nil, err
		}
	}
}

// parseMarker parses the uid from a "#tree <uid>" line.
func parseMarker(line []byte) (int64, error) {
	s := strings.TrimRight(string(line), "\r\n")
	if !strings.HasPrefix(s, treeMarker) {
		return 0, fmt.Errorf("line %q is not a tree marker", s)
	}
	uid, err := strconv.ParseInt(strings.TrimSpace(s[len(treeMarker):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tree marker %q: %w", s, err)
	}
	return uid, nil
}

// textParser reads whitespace-separated records.
type textParser struct{}

func (textParser) Parse(df datafile.Handle, nodes []*Node, entries []fields.Entry, rootOnly bool) ([]map[string]fields.Array, error) {
	t, ok := df.(*datafile.Text)
	if !ok {
		return nil, fmt.Errorf("text parser cannot read %T", df)
	}

	out := make([]map[string]fields.Array, len(nodes))
	for i, n := range nodes {
		recs, err := treeRecords(t, n, rootOnly)
		if err != nil {
			return nil, NewError("read").Path(t.Path()).File(n.FileID).Cause(err).Err()
		}
		m, field, err := gatherColumns(recs, entries)
		if err != nil {
			n.arbor.logger.Warn("malformed record",
				logging.Path(t.Path()),
				logging.TreeUID(n.UID),
				logging.String("field", field),
				logging.Error(err))
			return nil, NewError("parse").Path(t.Path()).File(n.FileID).Field(field).Cause(
				fmt.Errorf("tree %d: %w", n.UID, err)).Err()
		}
		out[i] = m
	}
	return out, nil
}

// treeRecords returns the split records of n's tree, reusing the node's
// cached split. In root-only mode only the first record is read.
func treeRecords(t *datafile.Text, n *Node, rootOnly bool) ([][]string, error) {
	if n.records != nil {
		if rootOnly {
			return n.records[:1], nil
		}
		return n.records, nil
	}

	if rootOnly {
		rec, err := firstRecord(t, n.Start, n.End)
		if err != nil {
			return nil, err
		}
		return [][]string{rec}, nil
	}

	buf, err := t.ReadRange(n.Start, n.End)
	if err != nil {
		return nil, err
	}
	n.arbor.metrics.RecordBytesRead(int64(len(buf)))
	recs := splitRecords(buf)
	if len(recs) == 0 {
		return nil, fmt.Errorf("tree %d has no records in [%d, %d)", n.UID, n.Start, n.End)
	}
	n.records = recs
	return recs, nil
}

// firstRecord reads the first record line in [start, end).
func firstRecord(t *datafile.Text, start, end int64) ([]string, error) {
	buf := pools.GetBytesSized(pools.RecordSize)
	defer pools.PutBytes(buf)

	var line []byte
	for off := start; off < end; {
		chunk := buf[:min(int64(len(buf)), end-off)]
		n, err := t.ReadAt(chunk, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n == 0 {
			break
		}
		line = append(line, chunk[:n]...)
		off += int64(n)
		for {
			i := bytes.IndexByte(line, '\n')
			if i < 0 {
				break
			}
			if rec := strings.Fields(string(line[:i])); len(rec) > 0 && !strings.HasPrefix(rec[0], "#") {
				return rec, nil
			}
			line = line[i+1:]
		}
	}
	if rec := strings.Fields(string(line)); len(rec) > 0 {
		return rec, nil
	}
	return nil, fmt.Errorf("no record in [%d, %d)", start, end)
}

func splitRecords(buf []byte) [][]string {
	var recs [][]string
	for len(buf) > 0 {
		var line []byte
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line, buf = buf[:i], buf[i+1:]
		} else {
			line, buf = buf, nil
		}
		rec := strings.Fields(string(line))
		if len(rec) == 0 || strings.HasPrefix(rec[0], "#") {
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func gatherColumns(recs [][]string, entries []fields.Entry) (map[string]fields.Array, string, error) {
	m := make(map[string]fields.Array, len(entries))
	for _, e := range entries {
		if e.Column < 0 {
			return nil, e.Name, fmt.Errorf("field has no text column")
		}
		arr := fields.NewArray(e.DType, len(recs))
		for j, rec := range recs {
			if e.Column >= len(rec) {
				return nil, e.Name, fmt.Errorf("record %d has %d columns, need column %d", j, len(rec), e.Column)
			}
			if err := arr.ParseAt(j, rec[e.Column]); err != nil {
				return nil, e.Name, fmt.Errorf("record %d: %w", j, err)
			}
		}
		m[e.Name] = arr
	}
	return m, "", nil
}
