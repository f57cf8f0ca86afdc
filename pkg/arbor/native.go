package arbor

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/offsetindex"
)

// Native layout names shared with the exporter.
const (
	NativeSuffix    = ".arb"
	NativeArborType = "ArborIndex"

	DataGroup  = "data"
	IndexGroup = "index"

	TreeStartIndex = "tree_start_index"
	TreeEndIndex   = "tree_end_index"
	TreeSizeIndex  = "tree_size"
	GroupNodes     = "group_nodes"

	AttrArborType    = "arbor_type"
	AttrFieldInfo    = "field_info"
	AttrUnitRegistry = "unit_registry_json"
	AttrHubble       = "hubble_constant"
	AttrOmegaMatter  = "omega_matter"
	AttrOmegaLambda  = "omega_lambda"
	AttrBoxSize      = "box_size"
	AttrBoxSizeUnits = "box_size_units"
	AttrTotalFiles   = "total_files"
	AttrTotalTrees   = "total_trees"
	AttrTotalNodes   = "total_nodes"
	AttrExportID     = "export_id"
)

// NativeDataPath names the i-th data container of a native arbor.
func NativeDataPath(prefix string, i int) string {
	return fmt.Sprintf("%s_%04d%s", prefix, i, NativeSuffix)
}

// nativeFrontend loads an arbor written by the exporter: a header holding
// root rows and per-group tree ranges, plus one data container per group.
type nativeFrontend struct {
	prefix string
	ntrees int
}

func (f *nativeFrontend) Name() string {
	return "arbor"
}

// Valid accepts a .arb container whose arbor_type names this layout.
func (f *nativeFrontend) Valid(path string) bool {
	return validity(func(p string) error {
		if !strings.HasSuffix(p, NativeSuffix) || !container.IsContainer(p) {
			return ErrFormatMismatch
		}
		r, err := container.Open(p)
		if err != nil {
			return err
		}
		defer r.Close()
		var atype string
		if err := r.Attr(AttrArborType, &atype); err != nil || atype != NativeArborType {
			return ErrFormatMismatch
		}
		return nil
	}, path)
}

func (f *nativeFrontend) Parser() FieldParser {
	return nativeParser{}
}

func (f *nativeFrontend) Load(a *Arbor) error {
	f.prefix = strings.TrimSuffix(a.path, NativeSuffix)

	r, err := container.Open(a.path)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	defer r.Close()

	optional := []struct {
		name string
		dst  any
	}{
		{AttrHubble, &a.params.HubbleConstant},
		{AttrOmegaMatter, &a.params.OmegaMatter},
		{AttrOmegaLambda, &a.params.OmegaLambda},
		{AttrBoxSize, &a.params.BoxSize},
		{AttrBoxSizeUnits, &a.params.BoxSizeUnits},
	}
	for _, o := range optional {
		if !r.HasAttr(o.name) {
			continue
		}
		if err := r.Attr(o.name, o.dst); err != nil {
			return NewError("load").Path(a.path).Cause(err).Err()
		}
	}

	var unitJSON, infoJSON string
	if r.HasAttr(AttrUnitRegistry) {
		if err := r.Attr(AttrUnitRegistry, &unitJSON); err != nil {
			return NewError("load").Path(a.path).Cause(err).Err()
		}
	}
	if a.units, err = ParseUnitRegistry(unitJSON); err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	if err := r.Attr(AttrFieldInfo, &infoJSON); err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	meta, err := fields.ParseMetaJSON(infoJSON)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	if err := r.Attr(AttrTotalTrees, &f.ntrees); err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}

	prefix := DataGroup + "/"
	for _, ds := range r.Datasets(DataGroup) {
		name := strings.TrimPrefix(ds, prefix)
		dt, err := r.DType(ds)
		if err != nil {
			return err
		}
		m := meta[name]
		a.fieldInfo.Add(fields.Entry{
			Name:        name,
			Column:      -1,
			Dataset:     ds,
			DType:       dt,
			Units:       m.Units,
			Description: m.Description,
		})
	}
	if !a.fieldInfo.Has("uid") || !a.fieldInfo.Has("desc_uid") {
		return NewError("load").Path(a.path).Cause(
			fmt.Errorf("%w: header lacks uid or desc_uid", ErrSchemaResolution)).Err()
	}
	return nil
}

// Plant reads root ids and the per-group tree ranges from the header. Each
// tree's record range is resolved lazily from its data file's local index.
func (f *nativeFrontend) Plant(a *Arbor) ([]*Node, error) {
	if f.ntrees == 0 {
		return nil, emptyError(a.path)
	}

	var trees []*Node
	var ends fields.Array
	header := datafile.NewGroup(a.path, "")
	err := datafile.With(header, func(datafile.Handle) error {
		uids, err := header.Read(DataGroup + "/uid")
		if err != nil {
			return err
		}
		descs, err := header.Read(DataGroup + "/desc_uid")
		if err != nil {
			return err
		}
		ends, err = header.Read(IndexGroup + "/" + TreeEndIndex)
		if err != nil {
			return err
		}
		trees = make([]*Node, uids.Len())
		for i := range trees {
			n := newRoot(a, uids.Int64(i), -1, -1, -1, i)
			n.DescUID = descs.Int64(i)
			trees[i] = n
		}
		return nil
	})
	if err != nil {
		return nil, NewError("plant").Path(a.path).Cause(err).Err()
	}

	index, err := offsetindex.FromEnds(ends.I64)
	if err != nil {
		return nil, NewError("plant").Path(a.path).Cause(err).Err()
	}
	if index.Total() != int64(len(trees)) {
		return nil, NewError("plant").Path(a.path).Cause(
			fmt.Errorf("index covers %d trees, header has %d", index.Total(), len(trees))).Err()
	}

	files := make([]datafile.Handle, index.Len())
	for i := range files {
		files[i] = datafile.NewGroup(NativeDataPath(f.prefix, i), "")
	}
	a.setDataFiles(files, index)
	return trees, nil
}

// ReadRoots serves root values from the header rows without touching the
// data files.
func (f *nativeFrontend) ReadRoots(a *Arbor, nodes []*Node, entries []fields.Entry) ([]map[string]fields.Array, error) {
	out := make([]map[string]fields.Array, len(nodes))
	header := datafile.NewGroup(a.path, "")
	err := datafile.With(header, func(datafile.Handle) error {
		for i, n := range nodes {
			out[i] = make(map[string]fields.Array, len(entries))
			for _, e := range entries {
				arr, err := readRange(header, e.Dataset, int64(n.AI), int64(n.AI)+1, true)
				if err != nil {
					return NewError("read").Path(a.path).Field(e.Name).Cause(err).Err()
				}
				out[i][e.Name] = arr.Clone()
			}
		}
		return nil
	})
	return out, err
}

// nativeParser slices whole-field reads by each tree's local range.
type nativeParser struct{}

func (nativeParser) Parse(df datafile.Handle, nodes []*Node, entries []fields.Entry, rootOnly bool) ([]map[string]fields.Array, error) {
	g, ok := df.(*datafile.Group)
	if !ok {
		return nil, fmt.Errorf("native parser cannot read %T", df)
	}

	for _, n := range nodes {
		if n.Start >= 0 && n.End >= 0 {
			continue
		}
		if err := resolveNativeRange(g, n); err != nil {
			return nil, NewError("read").Path(g.Path()).Cause(err).Err()
		}
	}

	out := make([]map[string]fields.Array, len(nodes))
	for i, n := range nodes {
		out[i] = make(map[string]fields.Array, len(entries))
		for _, e := range entries {
			end := n.End
			if rootOnly {
				end = n.Start + 1
			}
			arr, err := readRange(g, e.Dataset, n.Start, end, true)
			if err != nil {
				return nil, NewError("parse").Path(g.Path()).Field(e.Name).Cause(err).Err()
			}
			if rootOnly {
				arr = arr.Clone()
			}
			out[i][e.Name] = arr
		}
	}
	return out, nil
}

// resolveNativeRange sets the node's record range from the data file's
// local index.
func resolveNativeRange(g *datafile.Group, n *Node) error {
	ix := n.arbor.index
	fid, err := ix.Lookup(int64(n.AI))
	if err != nil {
		return err
	}
	local := int64(n.AI) - ix.Start(fid)

	starts, err := readRange(g, IndexGroup+"/"+TreeStartIndex, local, local+1, true)
	if err != nil {
		return err
	}
	ends, err := readRange(g, IndexGroup+"/"+TreeEndIndex, local, local+1, true)
	if err != nil {
		return err
	}
	n.Start = starts.Int64(0)
	n.End = ends.Int64(0)
	n.treeSize = int(n.End - n.Start)
	return nil
}
