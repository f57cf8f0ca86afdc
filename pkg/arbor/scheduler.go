package arbor

import (
	"sort"
	"time"

	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
)

// Trees returns, for each node, its tree's arrays for the named fields in
// the caller's order. A non-root node gets its sub-tree. Nil nodes means
// every tree.
func (a *Arbor) Trees(nodes []*Node, names []string) ([]map[string]fields.Array, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	defer a.running.Unlock()

	entries, err := a.resolve(names)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = a.trees
	}
	return a.readTrees(nodes, entries)
}

// Roots returns one array per field holding the value at each node, in the
// caller's order. Nil nodes means every tree.
func (a *Arbor) Roots(nodes []*Node, names []string) (map[string]fields.Array, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	defer a.running.Unlock()

	entries, err := a.resolve(names)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = a.trees
	}

	// Non-roots need their root's whole tree; roots only need one record.
	var roots, branches []*Node
	seen := make(map[*Node]bool)
	for _, n := range nodes {
		if r := n.root; r != nil && !r.hasTreeFields(entries) && !seen[r] {
			seen[r] = true
			branches = append(branches, r)
		}
	}
	for _, n := range nodes {
		if n.IsRoot() && !n.hasRootFields(entries) && !seen[n] {
			seen[n] = true
			roots = append(roots, n)
		}
	}

	if rr, ok := a.frontend.(rootFieldReader); ok && len(roots) > 0 {
		data, err := rr.ReadRoots(a, roots, entries)
		if err != nil {
			return nil, err
		}
		for i, n := range roots {
			for _, e := range entries {
				arr := data[i][e.Name]
				arr.Units = e.Units
				n.setRootField(e.Name, arr)
			}
		}
		roots = nil
	}
	if err := a.ioLoop(branches, roots, entries); err != nil {
		return nil, err
	}

	out := make(map[string]fields.Array, len(entries))
	for _, e := range entries {
		if len(nodes) == 0 {
			arr := fields.NewArray(e.DType, 0)
			arr.Units = e.Units
			out[e.Name] = arr
			continue
		}
		vals := make([]fields.Array, len(nodes))
		for i, n := range nodes {
			v, ok := n.rootValue(e.Name)
			if !ok {
				return nil, NewError("roots").Path(a.path).Field(e.Name).Cause(
					ErrSchemaResolution).Err()
			}
			vals[i] = v
		}
		arr, err := fields.Concat(vals...)
		if err != nil {
			return nil, NewError("roots").Path(a.path).Field(e.Name).Cause(err).Err()
		}
		out[e.Name] = arr
	}
	return out, nil
}

// begin claims the arbor for one field read.
func (a *Arbor) begin() error {
	if !a.running.TryLock() {
		return NewError("schedule").Path(a.path).Cause(ErrConcurrentRun).Err()
	}
	return nil
}

func (a *Arbor) resolve(names []string) ([]fields.Entry, error) {
	entries := make([]fields.Entry, 0, len(names))
	for _, name := range names {
		e, err := a.fieldInfo.Resolve(name)
		if err != nil {
			return nil, schemaError(name, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readTrees loads every tree the nodes need and returns their views. The
// caller holds the run lock.
func (a *Arbor) readTrees(nodes []*Node, entries []fields.Entry) ([]map[string]fields.Array, error) {
	load := entries
	for _, n := range nodes {
		if n.needsGrow() {
			// Regrowing reads the links, so fetch them in the same run.
			links, err := a.resolve([]string{"uid", "desc_uid"})
			if err != nil {
				return nil, err
			}
			load = withEntries(entries, links)
			break
		}
	}

	var roots []*Node
	seen := make(map[*Node]bool)
	for _, n := range nodes {
		r := n.Root()
		if !r.hasTreeFields(load) && !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}
	}
	if err := a.ioLoop(roots, nil, load); err != nil {
		return nil, err
	}

	out := make([]map[string]fields.Array, len(nodes))
	for i, n := range nodes {
		if err := n.ensureGrown(); err != nil {
			return nil, err
		}
		out[i] = n.treeView(entries)
	}
	return out, nil
}

// withEntries returns entries followed by those of extra it lacks.
func withEntries(entries, extra []fields.Entry) []fields.Entry {
	out := append([]fields.Entry(nil), entries...)
	for _, e := range extra {
		found := false
		for _, have := range entries {
			if have.Name == e.Name {
				found = true
				break
			}
		}
		if !found {
			out = append(out, e)
		}
	}
	return out
}

// ioLoop fills the caches of roots: whole trees for full, first records
// only for rootOnly. Nodes are grouped by data file in ascending file id so
// each file is opened once, and within a file they keep caller order.
// Results land in the node caches, so callers read them back in their own
// order.
func (a *Arbor) ioLoop(full, rootOnly []*Node, entries []fields.Entry) error {
	if len(full)+len(rootOnly) == 0 {
		return nil
	}
	start := time.Now()
	opened, read := 0, 0
	err := a.runFiles(full, rootOnly, entries, &opened, &read)
	dur := time.Since(start)
	a.metrics.RecordSchedulerRun(opened, read, dur, err)
	a.logger.Debug("scheduler run",
		logging.Count(len(full)+len(rootOnly)),
		logging.Int("root_only", len(rootOnly)),
		logging.Int("files_opened", opened),
		logging.Latency(dur),
		logging.Error(err))
	return err
}

// request is one root to load, whole or first record only.
type request struct {
	node     *Node
	rootOnly bool
}

func (a *Arbor) runFiles(full, rootOnly []*Node, entries []fields.Entry, opened, read *int) error {
	reqs := make([]request, 0, len(full)+len(rootOnly))
	for _, n := range full {
		reqs = append(reqs, request{node: n})
	}
	for _, n := range rootOnly {
		reqs = append(reqs, request{node: n, rootOnly: true})
	}

	fids := make([]int, len(reqs))
	for i, r := range reqs {
		fid, err := a.fileOf(r.node)
		if err != nil {
			return err
		}
		fids[i] = fid
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return fids[order[i]] < fids[order[j]]
	})

	parser := a.frontend.Parser()
	for lo := 0; lo < len(order); {
		fid := fids[order[lo]]
		hi := lo
		for hi < len(order) && fids[order[hi]] == fid {
			hi++
		}
		var treeRun, rootRun []*Node
		for _, k := range order[lo:hi] {
			if reqs[k].rootOnly {
				rootRun = append(rootRun, reqs[k].node)
			} else {
				treeRun = append(treeRun, reqs[k].node)
			}
		}
		lo = hi

		treeMissing := missingEntries(treeRun, entries, false)
		rootMissing := missingEntries(rootRun, entries, true)
		if len(treeMissing) == 0 && len(rootMissing) == 0 {
			continue
		}
		*opened++
		err := datafile.With(a.dataFiles[fid], func(h datafile.Handle) error {
			if len(treeMissing) > 0 {
				if err := parseRun(parser, h, treeRun, treeMissing, false); err != nil {
					return err
				}
				*read += len(treeRun)
			}
			if len(rootMissing) > 0 {
				if err := parseRun(parser, h, rootRun, rootMissing, true); err != nil {
					return err
				}
				*read += len(rootRun)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// parseRun parses one run of nodes within an open file and caches the
// results on them.
func parseRun(parser FieldParser, h datafile.Handle, run []*Node, entries []fields.Entry, rootOnly bool) error {
	data, err := parser.Parse(h, run, entries, rootOnly)
	if err != nil {
		return err
	}
	for i, n := range run {
		for _, e := range entries {
			arr := data[i][e.Name]
			arr.Units = e.Units
			if rootOnly {
				n.setRootField(e.Name, arr)
			} else {
				n.setTreeField(e.Name, arr)
			}
		}
	}
	return nil
}

// fileOf returns the data file holding n's tree.
func (a *Arbor) fileOf(n *Node) (int, error) {
	fid := n.FileID
	if fid < 0 {
		var err error
		fid, err = a.index.Lookup(int64(n.AI))
		if err != nil {
			return 0, missingError(a.path, -1, err)
		}
	}
	if fid >= len(a.dataFiles) || a.dataFiles[fid] == nil {
		return 0, missingError(a.path, fid, nil)
	}
	return fid, nil
}

// missingEntries returns the entries not yet cached on every node of run.
func missingEntries(run []*Node, entries []fields.Entry, rootOnly bool) []fields.Entry {
	var out []fields.Entry
	for _, e := range entries {
		one := []fields.Entry{e}
		for _, n := range run {
			have := n.hasTreeFields(one)
			if rootOnly {
				have = n.hasRootFields(one)
			}
			if !have {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
