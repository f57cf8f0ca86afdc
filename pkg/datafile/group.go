package datafile

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

// Group is one group of datasets inside a container file. An empty group
// addresses the whole container.
type Group struct {
	base
	group  string
	reader *container.Reader
}

// NewGroup creates a closed handle for group within the container at path.
func NewGroup(path, group string) *Group {
	return &Group{base: base{path: path}, group: strings.Trim(group, "/")}
}

// Name returns the group prefix.
func (g *Group) Name() string {
	return g.group
}

// Open maps the container.
func (g *Group) Open() error {
	if g.reader != nil {
		return fmt.Errorf("%s is already open", g.path)
	}
	r, err := container.Open(g.path)
	if err != nil {
		return err
	}
	g.reader = r
	g.opened()
	return nil
}

// Close unmaps the container and clears the field cache.
func (g *Group) Close() error {
	g.closed()
	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}

func (g *Group) IsOpen() bool {
	return g.reader != nil
}

// Dataset returns the full dataset path of name within the group.
func (g *Group) Dataset(name string) string {
	if g.group == "" {
		return name
	}
	return g.group + "/" + name
}

// Reader returns the open container, or nil.
func (g *Group) Reader() *container.Reader {
	return g.reader
}

// Has reports whether the group holds the dataset.
func (g *Group) Has(name string) bool {
	return g.reader != nil && g.reader.Has(g.Dataset(name))
}

// Read returns a whole dataset of the group.
func (g *Group) Read(name string) (fields.Array, error) {
	if g.reader == nil {
		return fields.Array{}, ErrNotOpen
	}
	return g.reader.Read(g.Dataset(name))
}

// ReadRange returns elements [start, end) of a dataset of the group.
func (g *Group) ReadRange(name string, start, end int64) (fields.Array, error) {
	if g.reader == nil {
		return fields.Array{}, ErrNotOpen
	}
	return g.reader.ReadRange(g.Dataset(name), int(start), int(end))
}

// Attr decodes an attribute of the group.
func (g *Group) Attr(name string, v any) error {
	if g.reader == nil {
		return ErrNotOpen
	}
	return g.reader.Attr(g.Dataset(name), v)
}
