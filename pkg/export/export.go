// Package export writes an arbor, or a selection of its trees, to the native
// layout: a header container holding root rows and per-group tree ranges,
// plus one data container per group of trees.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-arbor/pkg/arbor"
	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
)

const (
	// DefaultGroupThreshold is the node count at which a group is flushed.
	DefaultGroupThreshold = 524288

	// sizeBatch bounds how many unknown tree sizes are read per run.
	sizeBatch = 16384
)

var ErrNoTrees = errors.New("no trees to export")

// Options configures an export.
type Options struct {
	// Path is either a directory, written as <dir>/<base>.arb, or a file
	// name ending in .arb.
	Path string
	// Fields to write. Nil or "all" writes every field, under its aliases
	// where it has any. Explicit lists always gain uid and desc_uid.
	Fields []string
	// Trees to write, roots or not. Nil writes every tree.
	Trees []*arbor.Node

	GroupThreshold int
	Codec          container.Codec
	ChunkLen       int

	Logger  logging.Logger
	Metrics *metrics.Registry
}

func (o Options) withDefaults() Options {
	o.Logger = logging.OrDefault(o.Logger)
	o.Metrics = metrics.OrDefault(o.Metrics)
	if o.Path == "" {
		o.Path = "arbor"
	}
	if o.GroupThreshold <= 0 {
		o.GroupThreshold = DefaultGroupThreshold
	}
	return o
}

// exporter carries the state of one export.
type exporter struct {
	a      *arbor.Arbor
	opts   Options
	logger logging.Logger
	prefix string

	names    []string
	outNames []string

	groupNodes []int64
	groupTrees []int64
	rootRows   map[string][]fields.Array
}

// Export writes the trees and returns the header path.
func Export(a *arbor.Arbor, opts Options) (string, error) {
	opts = opts.withDefaults()
	start := time.Now()

	prefix, err := OutputPrefix(opts.Path)
	if err != nil {
		return "", err
	}
	names := FieldList(a, opts.Fields)
	trees := opts.Trees
	if trees == nil {
		trees = a.RootNodes()
	}
	if len(trees) == 0 {
		return "", ErrNoTrees
	}

	e := &exporter{
		a:        a,
		opts:     opts,
		logger:   opts.Logger.With(logging.Component("export"), logging.Path(prefix+arbor.NativeSuffix)),
		prefix:   prefix,
		names:    names,
		outNames: make([]string, len(names)),
		rootRows: make(map[string][]fields.Array, len(names)),
	}
	for i, name := range names {
		e.outNames[i] = outputName(name)
	}

	timer := logging.StartTimer(e.logger, "exporting arbor", logging.Count(len(trees)))
	header, err := e.run(trees)
	timer.Done(err, logging.Int("groups", len(e.groupNodes)))
	if err != nil {
		return "", err
	}
	opts.Metrics.RecordExport(time.Since(start))
	return header, nil
}

// OutputPrefix returns the path prefix of the header and data files,
// creating the output directory.
func OutputPrefix(path string) (string, error) {
	var dir, prefix string
	if strings.HasSuffix(path, arbor.NativeSuffix) {
		dir = filepath.Dir(path)
		prefix = strings.TrimSuffix(path, arbor.NativeSuffix)
	} else {
		dir = path
		prefix = filepath.Join(path, filepath.Base(path))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return prefix, nil
}

// FieldList expands the requested fields. Nil or "all" gives every physical
// field, replaced by its aliases where it has any.
func FieldList(a *arbor.Arbor, requested []string) []string {
	if len(requested) == 0 || (len(requested) == 1 && requested[0] == "all") {
		var out []string
		fi := a.FieldInfo()
		for _, name := range fi.FieldList() {
			e, _ := fi.Get(name)
			if len(e.Aliases) > 0 {
				out = append(out, e.Aliases...)
			} else {
				out = append(out, name)
			}
		}
		return out
	}

	out := append([]string(nil), requested...)
	for _, f := range []string{"uid", "desc_uid"} {
		if !contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// outputName is the dataset name of a field on disk.
func outputName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

func (e *exporter) run(trees []*arbor.Node) (string, error) {
	var group []*arbor.Node
	nodes := 0
	for lo := 0; lo < len(trees); lo += sizeBatch {
		batch := trees[lo:min(lo+sizeBatch, len(trees))]
		sizes, err := e.a.TreeSizes(batch)
		if err != nil {
			return "", err
		}
		for i, tree := range batch {
			group = append(group, tree)
			nodes += sizes[i]
			if nodes >= e.opts.GroupThreshold {
				if err := e.flush(group); err != nil {
					return "", err
				}
				group, nodes = nil, 0
			}
		}
	}
	if len(group) > 0 {
		if err := e.flush(group); err != nil {
			return "", err
		}
	}
	return e.writeHeader()
}

// flush writes one data container holding the group's trees end to end.
func (e *exporter) flush(group []*arbor.Node) error {
	idx := len(e.groupNodes)
	path := arbor.NativeDataPath(e.prefix, idx)

	data, err := e.a.Trees(group, e.names)
	if err != nil {
		return err
	}

	ntrees := len(group)
	sizes := make([]int64, ntrees)
	starts := make([]int64, ntrees)
	ends := make([]int64, ntrees)
	var total int64
	for i, d := range data {
		sizes[i] = int64(d[e.names[0]].Len())
		starts[i] = total
		total += sizes[i]
		ends[i] = total
	}
	at := make([]int, ntrees)
	for i := range at {
		at[i] = int(starts[i])
	}

	w, err := container.Create(path, container.Options{Codec: e.opts.Codec, ChunkLen: e.opts.ChunkLen})
	if err != nil {
		return err
	}
	err = e.writeGroup(w, data, at, starts, ends, sizes)
	if err != nil {
		w.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	for _, n := range group {
		n.Reset()
	}
	e.groupNodes = append(e.groupNodes, total)
	e.groupTrees = append(e.groupTrees, int64(ntrees))
	e.opts.Metrics.RecordExportGroup(ntrees, int(total), w.Size())
	e.logger.Info("wrote export group",
		logging.FileID(idx),
		logging.Count(ntrees),
		logging.Int64("nodes", total),
		logging.Bytes("size", w.Size()))
	return nil
}

func (e *exporter) writeGroup(w *container.Writer, data []map[string]fields.Array, at []int, starts, ends, sizes []int64) error {
	for k, name := range e.names {
		parts := make([]fields.Array, len(data))
		for i, d := range data {
			parts[i] = d[name]
		}
		arr, err := fields.Concat(parts...)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if name == "desc_uid" {
			// Every exported tree is a root in the output.
			for _, i := range at {
				arr.SetInt64(i, fields.NoDescendant)
			}
		}
		e.rootRows[name] = append(e.rootRows[name], arr.Gather(at))
		if err := w.WriteDataset(arbor.DataGroup+"/"+e.outNames[k], arr); err != nil {
			return err
		}
	}
	index := []struct {
		name string
		v    []int64
	}{
		{arbor.TreeStartIndex, starts},
		{arbor.TreeEndIndex, ends},
		{arbor.TreeSizeIndex, sizes},
	}
	for _, ix := range index {
		if err := w.WriteDataset(arbor.IndexGroup+"/"+ix.name, fields.Int64s(ix.v)); err != nil {
			return err
		}
	}
	return nil
}

// writeHeader writes the root rows of every exported tree, the per-group
// tree ranges and the catalog attributes.
func (e *exporter) writeHeader() (string, error) {
	path := e.prefix + arbor.NativeSuffix
	w, err := container.Create(path, container.Options{Codec: e.opts.Codec, ChunkLen: e.opts.ChunkLen})
	if err != nil {
		return "", err
	}
	if err := e.fillHeader(w); err != nil {
		w.Abort()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (e *exporter) fillHeader(w *container.Writer) error {
	fi := e.a.FieldInfo()
	meta := make(map[string]fields.Meta, len(e.names))
	for k, name := range e.names {
		arr, err := fields.Concat(e.rootRows[name]...)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if name == "desc_uid" {
			for i := 0; i < arr.Len(); i++ {
				arr.SetInt64(i, fields.NoDescendant)
			}
		}
		if err := w.WriteDataset(arbor.DataGroup+"/"+e.outNames[k], arr); err != nil {
			return err
		}
		entry, err := fi.Resolve(name)
		if err != nil {
			return err
		}
		meta[e.outNames[k]] = fields.Meta{Units: entry.Units, Description: entry.Description, DType: entry.DType}
	}

	groups := len(e.groupTrees)
	starts := make([]int64, groups)
	ends := make([]int64, groups)
	var trees, nodes int64
	for i := range e.groupTrees {
		starts[i] = trees
		trees += e.groupTrees[i]
		ends[i] = trees
		nodes += e.groupNodes[i]
	}
	index := []struct {
		name string
		v    []int64
	}{
		{arbor.TreeStartIndex, starts},
		{arbor.TreeEndIndex, ends},
		{arbor.TreeSizeIndex, e.groupTrees},
		{arbor.GroupNodes, e.groupNodes},
	}
	for _, ix := range index {
		if err := w.WriteDataset(arbor.IndexGroup+"/"+ix.name, fields.Int64s(ix.v)); err != nil {
			return err
		}
	}

	info, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	units, err := e.a.UnitRegistry().JSON()
	if err != nil {
		return err
	}
	p := e.a.Parameters()
	attrs := []struct {
		name string
		v    any
	}{
		{arbor.AttrArborType, arbor.NativeArborType},
		{arbor.AttrFieldInfo, string(info)},
		{arbor.AttrUnitRegistry, units},
		{arbor.AttrHubble, p.HubbleConstant},
		{arbor.AttrOmegaMatter, p.OmegaMatter},
		{arbor.AttrOmegaLambda, p.OmegaLambda},
		{arbor.AttrBoxSize, p.BoxSize},
		{arbor.AttrBoxSizeUnits, p.BoxSizeUnits},
		{arbor.AttrTotalFiles, groups},
		{arbor.AttrTotalTrees, trees},
		{arbor.AttrTotalNodes, nodes},
		{arbor.AttrExportID, uuid.NewString()},
	}
	for _, attr := range attrs {
		if err := w.SetAttr(attr.name, attr.v); err != nil {
			return err
		}
	}
	return nil
}
