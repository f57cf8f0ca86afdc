package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Text is a plain text catalog read by byte range.
type Text struct {
	base
	file *os.File
}

// NewText creates a closed handle for path.
func NewText(path string) *Text {
	return &Text{base: base{path: path}}
}

// Open opens the file for reading. Opening an open handle is an error.
func (t *Text) Open() error {
	if t.file != nil {
		return fmt.Errorf("%s is already open", t.path)
	}
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.file = f
	t.opened()
	return nil
}

// Close releases the file and clears the field cache.
func (t *Text) Close() error {
	t.closed()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func (t *Text) IsOpen() bool {
	return t.file != nil
}

// Size returns the current file size.
func (t *Text) Size() (int64, error) {
	if t.file == nil {
		return 0, ErrNotOpen
	}
	info, err := t.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadAt reads into p at off. Short reads at end of file return io.EOF
// with the bytes read.
func (t *Text) ReadAt(p []byte, off int64) (int, error) {
	if t.file == nil {
		return 0, ErrNotOpen
	}
	return t.file.ReadAt(p, off)
}

// ReadRange returns bytes [start, end).
func (t *Text) ReadRange(start, end int64) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range [%d, %d) in %s", start, end, t.path)
	}
	buf := make([]byte, end-start)
	n, err := t.ReadAt(buf, start)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, fmt.Errorf("read [%d, %d) of %s: %w", start, end, t.path, err)
	}
	return buf, nil
}
