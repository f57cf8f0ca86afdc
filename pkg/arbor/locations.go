package arbor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/offsetindex"
)

const (
	locationsName   = "locations.dat"
	locationsHeader = "TreeRootID FileID Offset Filename"
)

// locationsFrontend plants a consistent-trees catalog split over several
// files through its locations.dat manifest.
type locationsFrontend struct {
	rowsOffset int64
}

func (f *locationsFrontend) Name() string {
	return "consistent_trees_group"
}

// Valid accepts a file named locations.dat whose header names the manifest
// columns.
func (f *locationsFrontend) Valid(path string) bool {
	return validity(func(p string) error {
		if filepath.Base(p) != locationsName {
			return ErrFormatMismatch
		}
		return hasCtreesMarker(p, locationsHeader)
	}, path)
}

func (f *locationsFrontend) Parser() FieldParser {
	return textParser{}
}

// Load reads the field header from the data file named by the first row.
func (f *locationsFrontend) Load(a *Arbor) error {
	file, err := os.Open(a.path)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	defer file.Close()

	r := bufio.NewReader(file)
	header, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	f.rowsOffset = int64(len(header))

	first, _ := r.ReadString('\n')
	cols := strings.Fields(first)
	if len(cols) == 0 {
		return emptyError(a.path)
	}

	dataPath := filepath.Join(a.Dir(), cols[len(cols)-1])
	if _, err := os.Stat(dataPath); err != nil {
		return missingError(dataPath, -1, err)
	}
	h, err := readCtreesHeader(dataPath, false, a.opts.DefaultDType)
	if err != nil {
		return NewError("load").Path(dataPath).Cause(err).Err()
	}
	registerCtreesFields(a, h)
	return nil
}

// locationRow is one manifest line.
type locationRow struct {
	uid      int64
	uidWidth int
	fileID   int
	offset   int64
	filename string
}

// separatorWidth is the distance from the exclusive end of one tree to the
// start of the next: the newline ending the last record, then the next
// tree's "#tree <uid>\n" marker line.
func separatorWidth(nextUIDWidth int) int64 {
	return int64(len(treeMarker) + nextUIDWidth + 2)
}

// Plant sorts the manifest by (file id, offset). A tree ends where the next
// tree in the same file begins, less the separator; the last tree of each
// file ends at that file's EOF.
func (f *locationsFrontend) Plant(a *Arbor) ([]*Node, error) {
	rows, err := f.readRows(a.path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, emptyError(a.path)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].fileID != rows[j].fileID {
			return rows[i].fileID < rows[j].fileID
		}
		return rows[i].offset < rows[j].offset
	})

	names := make(map[int]string)
	for _, r := range rows {
		if prev, ok := names[r.fileID]; ok && prev != r.filename {
			return nil, missingError(a.path, r.fileID,
				fmt.Errorf("file id %d names both %s and %s", r.fileID, prev, r.filename))
		}
		names[r.fileID] = r.filename
	}

	maxID := rows[len(rows)-1].fileID
	files := make([]datafile.Handle, maxID+1)
	counts := make([]int, maxID+1)
	for _, id := range sortedKeys(names) {
		path := filepath.Join(a.Dir(), names[id])
		if _, err := os.Stat(path); err != nil {
			return nil, missingError(path, id, err)
		}
		files[id] = datafile.NewText(path)
	}

	trees := make([]*Node, len(rows))
	for i, r := range rows {
		n := newRoot(a, r.uid, r.fileID, r.offset, -1, i)
		counts[r.fileID]++
		if i+1 < len(rows) && rows[i+1].fileID == r.fileID {
			n.End = max(rows[i+1].offset-separatorWidth(rows[i+1].uidWidth), n.Start)
		}
		trees[i] = n
	}

	// EOF probes for each file's last tree.
	for i, n := range trees {
		if n.End >= 0 {
			continue
		}
		df := files[n.FileID].(*datafile.Text)
		err := datafile.With(df, func(datafile.Handle) error {
			size, err := df.Size()
			if err != nil {
				return err
			}
			trees[i].End = size
			return nil
		})
		if err != nil {
			return nil, NewError("plant").Path(df.Path()).File(n.FileID).Cause(err).Err()
		}
	}

	index, err := offsetindex.FromCounts(counts)
	if err != nil {
		return nil, err
	}
	a.setDataFiles(files, index)
	return trees, nil
}

func (f *locationsFrontend) readRows(path string) ([]locationRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(f.rowsOffset, io.SeekStart); err != nil {
		return nil, err
	}

	var rows []locationRow
	scanner := bufio.NewScanner(file)
	line := 1
	for scanner.Scan() {
		line++
		cols := strings.Fields(scanner.Text())
		if len(cols) == 0 || strings.HasPrefix(cols[0], "#") {
			continue
		}
		if len(cols) < 4 {
			return nil, NewError("plant").Path(path).Cause(
				fmt.Errorf("line %d: want 4 columns, got %d", line, len(cols))).Err()
		}
		uid, err1 := strconv.ParseInt(cols[0], 10, 64)
		fid, err2 := strconv.Atoi(cols[1])
		off, err3 := strconv.ParseInt(cols[2], 10, 64)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, NewError("plant").Path(path).Cause(fmt.Errorf("line %d: %w", line, err)).Err()
		}
		if fid < 0 {
			return nil, missingError(path, fid, fmt.Errorf("line %d: negative file id", line))
		}
		rows = append(rows, locationRow{
			uid:      uid,
			uidWidth: len(cols[0]),
			fileID:   fid,
			offset:   off,
			filename: cols[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
