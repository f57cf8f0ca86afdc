package arbor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/offsetindex"
)

// accessNames are the container names used at one access granularity.
type accessNames struct {
	group    string
	uid      string
	offset   string
	size     string
	total    string
	fileSize string
}

var accessTable = map[string]accessNames{
	AccessTree: {
		group:    "TreeInfo",
		uid:      "TreeRootID",
		offset:   "TreeHalosOffset",
		size:     "TreeNhalos",
		total:    "TotNtrees",
		fileSize: "Ntrees",
	},
	AccessForest: {
		group:    "ForestInfo",
		uid:      "ForestID",
		offset:   "ForestHalosOffset",
		size:     "ForestNhalos",
		total:    "TotNforests",
		fileSize: "Nforests",
	},
}

// binaryRootAttrs must all be present on a structured consistent-trees file.
var binaryRootAttrs = []string{"Nfiles", "TotNforests", "TotNhalos", "TotNtrees"}

const (
	forestsGroup    = "Forests"
	metadataAttr    = "Consistent Trees_metadata"
	fileGroupPrefix = "File"
)

// ctreesBinaryFrontend plants a structured consistent-trees container with
// one group per original file.
type ctreesBinaryFrontend struct {
	access accessNames
	ntrees int
}

func (f *ctreesBinaryFrontend) Name() string {
	return "consistent_trees_binary"
}

// Valid accepts a container carrying every root attribute of the format.
func (f *ctreesBinaryFrontend) Valid(path string) bool {
	return validity(func(p string) error {
		if !container.IsContainer(p) {
			return ErrFormatMismatch
		}
		r, err := container.Open(p)
		if err != nil {
			return err
		}
		defer r.Close()
		for _, attr := range binaryRootAttrs {
			if !r.HasAttr(attr) {
				return ErrFormatMismatch
			}
		}
		return nil
	}, path)
}

func (f *ctreesBinaryFrontend) Parser() FieldParser {
	return structuredParser{}
}

func (f *ctreesBinaryFrontend) Load(a *Arbor) error {
	names, ok := accessTable[a.opts.Access]
	if !ok {
		return NewError("load").Path(a.path).Cause(
			fmt.Errorf("invalid access %q, want %q or %q", a.opts.Access, AccessTree, AccessForest)).Err()
	}
	f.access = names

	r, err := container.Open(a.path)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	defer r.Close()

	groups := fileGroups(r)
	if len(groups) == 0 || groups[0] != fileGroupPrefix+"0" {
		return emptyError(a.path)
	}
	if err := r.Attr(names.total, &f.ntrees); err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}

	if err := f.loadFields(a, r, groups[0]); err != nil {
		return err
	}

	files := make([]datafile.Handle, len(groups))
	counts := make([]int, len(groups))
	for i, g := range groups {
		if err := r.Attr(g+"/"+names.fileSize, &counts[i]); err != nil {
			return NewError("load").Path(a.path).File(i).Cause(err).Err()
		}
		files[i] = datafile.NewGroup(a.path, g)
	}
	index, err := offsetindex.FromCounts(counts)
	if err != nil {
		return err
	}
	a.setDataFiles(files, index)
	return nil
}

// loadFields merges the dataset dtypes of the first group with the
// descriptions and units of its consistent-trees header.
func (f *ctreesBinaryFrontend) loadFields(a *Arbor, r *container.Reader, group string) error {
	meta := make(map[string]fields.Entry)
	var lines []string
	if r.HasAttr(group + "/" + metadataAttr) {
		if err := r.Attr(group+"/"+metadataAttr, &lines); err != nil {
			return NewError("load").Path(a.path).Cause(err).Err()
		}
	}
	h, err := parseCtreesHeader(lines, a.opts.DefaultDType)
	if err != nil {
		return NewError("load").Path(a.path).Cause(err).Err()
	}
	for _, e := range h.entries {
		meta[normalizeFieldName(e.Name)] = e
	}

	prefix := group + "/" + forestsGroup + "/"
	for _, ds := range r.Datasets(group + "/" + forestsGroup) {
		name := strings.TrimPrefix(ds, prefix)
		dt, err := r.DType(ds)
		if err != nil {
			return err
		}
		e := fields.Entry{
			Name:    name,
			Column:  -1,
			Dataset: forestsGroup + "/" + name,
			DType:   dt,
		}
		if m, ok := meta[name]; ok {
			e.Units = m.Units
			e.Description = m.Description
		}
		a.fieldInfo.Add(e)
	}
	a.addAliases(ctreesAliases)
	a.params = h.params
	a.units = h.unitRegistry()
	return nil
}

var (
	dropChars  = regexp.MustCompile(`[?|]`)
	underChars = regexp.MustCompile(`[\[\]/()]`)
)

// normalizeFieldName maps a header column name to its dataset name.
func normalizeFieldName(name string) string {
	name = dropChars.ReplaceAllString(name, "")
	name = underChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	return strings.ReplaceAll(name, "__", "_")
}

// fileGroups returns the File<k> groups ordered by k.
func fileGroups(r *container.Reader) []string {
	var groups []string
	for _, g := range r.Groups("") {
		if _, err := strconv.Atoi(strings.TrimPrefix(g, fileGroupPrefix)); err == nil && strings.HasPrefix(g, fileGroupPrefix) {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(groups[i], fileGroupPrefix))
		b, _ := strconv.Atoi(strings.TrimPrefix(groups[j], fileGroupPrefix))
		return a < b
	})
	return groups
}

// Plant reads root ids, offsets and sizes from each group. Offsets are
// local to the group.
func (f *ctreesBinaryFrontend) Plant(a *Arbor) ([]*Node, error) {
	if f.ntrees == 0 {
		return nil, emptyError(a.path)
	}

	trees := make([]*Node, 0, f.ntrees)
	for idf, h := range a.dataFiles {
		g := h.(*datafile.Group)
		err := datafile.With(g, func(datafile.Handle) error {
			info := f.access.group + "/"
			uids, err := g.Read(info + f.access.uid)
			if err != nil {
				return err
			}
			offsets, err := g.Read(info + f.access.offset)
			if err != nil {
				return err
			}
			sizes, err := g.Read(info + f.access.size)
			if err != nil {
				return err
			}
			if offsets.Len() != uids.Len() || sizes.Len() != uids.Len() {
				return fmt.Errorf("%s arrays disagree in length", f.access.group)
			}
			for i := 0; i < uids.Len(); i++ {
				start := offsets.Int64(i)
				n := newRoot(a, uids.Int64(i), idf, start, start+sizes.Int64(i), len(trees))
				n.treeSize = int(sizes.Int64(i))
				trees = append(trees, n)
			}
			return nil
		})
		if err != nil {
			return nil, NewError("plant").Path(a.path).File(idf).Cause(err).Err()
		}
	}
	return trees, nil
}

// structuredParser indexes datasets by record range.
type structuredParser struct{}

func (structuredParser) Parse(df datafile.Handle, nodes []*Node, entries []fields.Entry, rootOnly bool) ([]map[string]fields.Array, error) {
	g, ok := df.(*datafile.Group)
	if !ok {
		return nil, fmt.Errorf("structured parser cannot read %T", df)
	}

	out := make([]map[string]fields.Array, len(nodes))
	for i := range out {
		out[i] = make(map[string]fields.Array, len(entries))
	}
	for _, e := range entries {
		if e.Dataset == "" {
			return nil, NewError("parse").Path(g.Path()).Field(e.Name).Cause(fmt.Errorf("field has no dataset")).Err()
		}
		for i, n := range nodes {
			end := n.End
			if rootOnly {
				end = n.Start + 1
			}
			arr, err := readRange(g, e.Dataset, n.Start, end, len(nodes) > 1)
			if err != nil {
				return nil, NewError("parse").Path(g.Path()).File(n.FileID).Field(e.Name).Cause(err).Err()
			}
			if rootOnly {
				arr = arr.Clone()
			}
			out[i][e.Name] = arr
		}
	}
	return out, nil
}

// readRange reads [start, end) of a group dataset. With whole set, the full
// dataset is read once into the file's field cache and sliced, which serves
// many trees from one bracket.
func readRange(g *datafile.Group, dataset string, start, end int64, whole bool) (fields.Array, error) {
	if !whole {
		if _, ok := g.Cache()[dataset]; !ok {
			return g.ReadRange(dataset, start, end)
		}
	}
	arr, ok := g.Cache()[dataset]
	if !ok {
		var err error
		arr, err = g.Read(dataset)
		if err != nil {
			return fields.Array{}, err
		}
		g.Cache()[dataset] = arr
	}
	if start < 0 || end < start || end > int64(arr.Len()) {
		return fields.Array{}, fmt.Errorf("range [%d, %d) outside %s of length %d", start, end, dataset, arr.Len())
	}
	return arr.Slice(int(start), int(end)), nil
}
