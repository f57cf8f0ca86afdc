// Package arbor indexes tree catalogs spread over one or more data files and
// serves their fields without loading every record.
//
// Loading a catalog plants its trees once: a frontend for the catalog's
// format records, per tree, the root id, the owning data file and the range
// of the tree within it. Field reads then go through the scheduler (Trees and
// Roots), which groups the requested nodes by data file, opens each file
// once, and returns results in the caller's order.
package arbor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
	"github.com/dd0wney/cluso-arbor/pkg/offsetindex"
)

const (
	// DefaultBlockSize is the planter's scan block for text catalogs.
	DefaultBlockSize = 32768

	AccessTree   = "tree"
	AccessForest = "forest"
)

// Options configures loading.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Registry

	// BlockSize is the read size used to scan text catalogs for tree markers.
	BlockSize int
	// Access selects tree or forest granularity for structured catalogs.
	Access string
	// DefaultDType types text columns that are not id-like.
	DefaultDType fields.DType
}

func (o Options) withDefaults() Options {
	o.Logger = logging.OrDefault(o.Logger)
	o.Metrics = metrics.OrDefault(o.Metrics)
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Access == "" {
		o.Access = AccessTree
	}
	if !o.DefaultDType.Valid() {
		o.DefaultDType = fields.Float32
	}
	return o
}

// Parameters are the simulation constants carried by a catalog.
type Parameters struct {
	HubbleConstant float64
	OmegaMatter    float64
	OmegaLambda    float64
	BoxSize        float64
	BoxSizeUnits   string
}

// UnitRegistry maps unit symbols to their definitions, e.g. "h" to the
// dimensionless Hubble constant.
type UnitRegistry map[string]string

// JSON encodes the registry with sorted keys.
func (u UnitRegistry) JSON() (string, error) {
	b, err := json.Marshal(map[string]string(u))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseUnitRegistry decodes a registry written by JSON.
func ParseUnitRegistry(s string) (UnitRegistry, error) {
	u := make(UnitRegistry)
	if s == "" {
		return u, nil
	}
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return nil, fmt.Errorf("decode unit registry: %w", err)
	}
	return u, nil
}

// Arbor is a loaded catalog.
type Arbor struct {
	path     string
	opts     Options
	logger   logging.Logger
	metrics  *metrics.Registry
	frontend Frontend

	fieldInfo *fields.Info
	params    Parameters
	units     UnitRegistry

	dataFiles []datafile.Handle
	index     *offsetindex.Index
	trees     []*Node

	running sync.Mutex
}

// Load detects the format of path, parses its header and plants its trees.
func Load(path string, opts Options) (*Arbor, error) {
	opts = opts.withDefaults()

	fe, err := Detect(path, opts.Logger)
	if err != nil {
		return nil, err
	}
	return LoadWith(fe, path, opts)
}

// LoadWith loads path with a specific frontend.
func LoadWith(fe Frontend, path string, opts Options) (*Arbor, error) {
	opts = opts.withDefaults()
	a := &Arbor{
		path:      path,
		opts:      opts,
		logger:    opts.Logger.With(logging.Component("arbor"), logging.Format(fe.Name()), logging.Path(path)),
		metrics:   opts.Metrics,
		frontend:  fe,
		fieldInfo: fields.NewInfo(opts.DefaultDType),
		units:     make(UnitRegistry),
	}

	start := time.Now()
	timer := logging.StartTimer(a.logger, "planting trees")

	trees, err := a.plant()
	a.metrics.RecordPlant(fe.Name(), len(trees), time.Since(start), err)
	if err != nil {
		timer.Done(err)
		return nil, err
	}
	a.trees = trees
	timer.Done(nil, logging.Count(len(trees)), logging.Int("data_files", len(a.dataFiles)))
	return a, nil
}

func (a *Arbor) plant() ([]*Node, error) {
	if err := a.frontend.Load(a); err != nil {
		return nil, err
	}
	trees, err := a.frontend.Plant(a)
	if err != nil {
		// A partial index is never kept.
		return nil, err
	}
	if len(trees) == 0 {
		return nil, emptyError(a.path)
	}
	if a.index == nil {
		a.index = offsetindex.Single(len(trees))
	}
	return trees, nil
}

// Path returns the file the arbor was loaded from.
func (a *Arbor) Path() string {
	return a.path
}

// Dir returns the directory holding the catalog.
func (a *Arbor) Dir() string {
	return filepath.Dir(a.path)
}

// Format returns the name of the frontend that loaded the catalog.
func (a *Arbor) Format() string {
	return a.frontend.Name()
}

// Size returns the number of trees.
func (a *Arbor) Size() int {
	return len(a.trees)
}

// RootNodes returns the planted roots in I/O order. The slice is shared.
func (a *Arbor) RootNodes() []*Node {
	return a.trees
}

// Tree returns the i-th root.
func (a *Arbor) Tree(i int) *Node {
	return a.trees[i]
}

// FieldInfo returns the field schema.
func (a *Arbor) FieldInfo() *fields.Info {
	return a.fieldInfo
}

// FieldList returns the physical fields of the catalog.
func (a *Arbor) FieldList() []string {
	return a.fieldInfo.FieldList()
}

// Parameters returns the simulation constants.
func (a *Arbor) Parameters() Parameters {
	return a.params
}

// UnitRegistry returns the unit symbol table.
func (a *Arbor) UnitRegistry() UnitRegistry {
	return a.units
}

// DataFiles returns the data file handles. Entries may be nil for file ids
// that hold no trees.
func (a *Arbor) DataFiles() []datafile.Handle {
	return a.dataFiles
}

// Index returns the offset index over data files.
func (a *Arbor) Index() *offsetindex.Index {
	return a.index
}

// Logger returns the arbor's logger.
func (a *Arbor) Logger() logging.Logger {
	return a.logger
}

// Metrics returns the registry the arbor records to.
func (a *Arbor) Metrics() *metrics.Registry {
	return a.metrics
}

// TotalNodes sums the sizes of all trees. Trees of unknown size are read
// in one run and their caches dropped.
func (a *Arbor) TotalNodes() (int, error) {
	sizes, err := a.TreeSizes(a.trees)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

// setDataFiles installs the data files and the offset index over them.
func (a *Arbor) setDataFiles(files []datafile.Handle, index *offsetindex.Index) {
	a.dataFiles = files
	a.index = index
}

// addAliases registers the alias table against the schema, matching the
// target field case-insensitively.
func (a *Arbor) addAliases(table []alias) {
	lower := make(map[string]string)
	for _, name := range a.fieldInfo.FieldList() {
		key := strings.ToLower(name)
		if _, ok := lower[key]; !ok {
			lower[key] = name
		}
	}
	for _, al := range table {
		target := al.field
		if !a.fieldInfo.Has(target) {
			t, ok := lower[strings.ToLower(target)]
			if !ok {
				continue
			}
			target = t
		}
		a.fieldInfo.AddAlias(al.name, target, al.units)
	}
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
