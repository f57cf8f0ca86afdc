package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-arbor/pkg/arbor"
	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
)

// record is one halo line: id and descendant id.
type record struct {
	id, desc int64
}

func writeCatalog(t *testing.T, path string, trees [][]record) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("#scale(0) id(1) desc_scale(2) desc_id(3) num_prog(4) Mvir(5) x(6)\n")
	buf.WriteString("#Omega_M = 0.25; Omega_L = 0.75; h0 = 0.7\n")
	buf.WriteString("#Full box size = 125 Mpc/h\n")
	buf.WriteString("#Units: Masses in Msun / h\n")
	buf.WriteString("#Consistent Trees Version 1.01\n")
	buf.WriteString("#Mvir: Halo mass\n")
	fmt.Fprintf(&buf, "%d\n", len(trees))
	for _, tree := range trees {
		fmt.Fprintf(&buf, "#tree %d\n", tree[0].id)
		for _, r := range tree {
			fmt.Fprintf(&buf, "1.0 %d 1.0 %d 1 %.6e %.3f\n", r.id, r.desc, float64(r.id)*1e10, float64(r.id)/4)
		}
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func singles(n int) [][]record {
	trees := make([][]record, n)
	for i := range trees {
		trees[i] = []record{{id: int64(100 + i), desc: fields.NoDescendant}}
	}
	return trees
}

// branchy has 2 and 3 merging into 1, 4 into 2, 5 into 3 and 6 into 4.
func branchy() []record {
	return []record{{1, -1}, {2, 1}, {3, 1}, {4, 2}, {5, 3}, {6, 4}}
}

func testOptions(path string) Options {
	return Options{
		Path:    path,
		Codec:   container.CodecSnappy,
		Logger:  logging.NewNopLogger(),
		Metrics: metrics.NewRegistry(),
	}
}

func loadArbor(t *testing.T, path string) *arbor.Arbor {
	t.Helper()
	a, err := arbor.Load(path, arbor.Options{Logger: logging.NewNopLogger(), Metrics: metrics.NewRegistry()})
	require.NoError(t, err)
	return a
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.Counter.GetValue()
}

func readIndex(t *testing.T, header, name string) []int64 {
	t.Helper()
	r, err := container.Open(header)
	require.NoError(t, err)
	defer r.Close()
	arr, err := r.Read(arbor.IndexGroup + "/" + name)
	require.NoError(t, err)
	return arr.I64
}

func TestExportGroupsAndReload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree_0_0_0.dat")
	writeCatalog(t, src, singles(10))
	a := loadArbor(t, src)

	opts := testOptions(filepath.Join(dir, "out", "small.arb"))
	opts.GroupThreshold = 4
	header, err := Export(a, opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "small.arb"), header)

	assert.Equal(t, []int64{4, 4, 2}, readIndex(t, header, arbor.TreeSizeIndex))
	assert.Equal(t, []int64{4, 4, 2}, readIndex(t, header, arbor.GroupNodes))
	assert.Equal(t, []int64{4, 8, 10}, readIndex(t, header, arbor.TreeEndIndex))
	for i := 0; i < 3; i++ {
		assert.FileExists(t, arbor.NativeDataPath(filepath.Join(dir, "out", "small"), i))
	}
	assert.Equal(t, float64(3), counterValue(t, opts.Metrics.ExportGroups))
	assert.Equal(t, float64(10), counterValue(t, opts.Metrics.ExportTrees))

	b := loadArbor(t, header)
	assert.Equal(t, "arbor", b.Format())
	require.Equal(t, 10, b.Size())

	roots, err := b.Roots(nil, []string{"uid", "desc_uid", "mass"})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(100+i), roots["uid"].Int64(i))
		assert.Equal(t, fields.NoDescendant, roots["desc_uid"].Int64(i))
		assert.Equal(t, float32(float64(100+i)*1e10), roots["mass"].F32[i])
	}

	data, err := b.Trees([]*arbor.Node{b.Tree(9), b.Tree(4)}, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, []int64{109}, data[0]["uid"].I64)
	assert.Equal(t, []int64{104}, data[1]["uid"].I64)
}

func TestExportSubtreeBecomesRoot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree_0_0_0.dat")
	writeCatalog(t, src, [][]record{branchy()})
	a := loadArbor(t, src)

	two, err := a.Find(a.Tree(0), 2)
	require.NoError(t, err)

	opts := testOptions(filepath.Join(dir, "sub"))
	opts.Trees = []*arbor.Node{two}
	header, err := Export(a, opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "sub.arb"), header)

	b := loadArbor(t, header)
	require.Equal(t, 1, b.Size())
	assert.Equal(t, int64(2), b.Tree(0).UID)
	assert.Equal(t, fields.NoDescendant, b.Tree(0).DescUID)

	data, err := b.Trees(nil, []string{"uid", "desc_uid"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 6}, data[0]["uid"].I64)
	assert.Equal(t, []int64{-1, 2, 4}, data[0]["desc_uid"].I64)

	size, err := b.Tree(0).TreeSize()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree_0_0_0.dat")
	trees := [][]record{
		{{10, -1}, {11, 10}, {12, 11}},
		branchy(),
		{{20, -1}},
		{{30, -1}, {31, 30}},
	}
	writeCatalog(t, src, trees)
	a := loadArbor(t, src)

	opts := testOptions(filepath.Join(dir, "native", "all.arb"))
	opts.GroupThreshold = 5
	opts.Codec = container.CodecZstd
	header, err := Export(a, opts)
	require.NoError(t, err)

	b := loadArbor(t, header)
	require.Equal(t, a.Size(), b.Size())
	assert.Equal(t, a.Parameters(), b.Parameters())
	assert.Equal(t, a.UnitRegistry(), b.UnitRegistry())
	for _, name := range []string{"uid", "desc_uid", "mass", "virial_mass", "scale_factor", "position_x", "num_prog"} {
		assert.True(t, b.FieldInfo().Has(name), name)
	}
	for _, name := range []string{"id", "x", "Mvir"} {
		assert.False(t, b.FieldInfo().Has(name), "aliased field %s is written under its aliases", name)
	}

	e, err := b.FieldInfo().Resolve("mass")
	require.NoError(t, err)
	assert.Equal(t, "Msun", e.Units)
	assert.Equal(t, fields.Float32, e.DType)

	names := []string{"uid", "desc_uid", "mass", "position_x"}
	want, err := a.Trees(nil, names)
	require.NoError(t, err)
	got, err := b.Trees(nil, names)
	require.NoError(t, err)
	for i := range want {
		for _, name := range names {
			assert.Equal(t, want[i][name].I64, got[i][name].I64, "tree %d field %s", i, name)
			assert.Equal(t, want[i][name].F32, got[i][name].F32, "tree %d field %s", i, name)
		}
	}

	r, err := container.Open(header)
	require.NoError(t, err)
	var id string
	require.NoError(t, r.Attr(arbor.AttrExportID, &id))
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	var total int
	require.NoError(t, r.Attr(arbor.AttrTotalNodes, &total))
	assert.Equal(t, 12, total)
	require.NoError(t, r.Close())

	// A native arbor exports again without its source grammar.
	again, err := Export(b, testOptions(filepath.Join(dir, "again.arb")))
	require.NoError(t, err)
	c := loadArbor(t, again)
	roots, err := c.Roots(nil, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 1, 20, 30}, roots["uid"].I64)
}

func TestExportExplicitFields(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree_0_0_0.dat")
	writeCatalog(t, src, singles(3))
	a := loadArbor(t, src)

	assert.Equal(t, []string{"mass", "uid", "desc_uid"}, FieldList(a, []string{"mass"}))
	assert.Equal(t, []string{"desc_uid", "uid"}, FieldList(a, []string{"desc_uid", "uid"}))

	all := FieldList(a, nil)
	assert.Equal(t, all, FieldList(a, []string{"all"}))
	assert.Contains(t, all, "uid")
	assert.NotContains(t, all, "id")
	assert.Contains(t, all, "num_prog")

	opts := testOptions(filepath.Join(dir, "few.arb"))
	opts.Fields = []string{"mass"}
	header, err := Export(a, opts)
	require.NoError(t, err)

	b := loadArbor(t, header)
	assert.ElementsMatch(t, []string{"mass", "uid", "desc_uid"}, b.FieldList())

	_, err = Export(a, Options{Path: filepath.Join(dir, "none.arb"), Trees: []*arbor.Node{}})
	assert.ErrorIs(t, err, ErrNoTrees)

	opts = testOptions(filepath.Join(dir, "bad.arb"))
	opts.Fields = []string{"redshift"}
	_, err = Export(a, opts)
	assert.ErrorIs(t, err, arbor.ErrSchemaResolution)
}

func TestOutputPrefix(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join(dir, "a", "arbor.arb"), filepath.Join(dir, "a", "arbor")},
		{filepath.Join(dir, "b"), filepath.Join(dir, "b", "b")},
	}
	for _, tt := range tests {
		got, err := OutputPrefix(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.DirExists(t, filepath.Dir(got))
	}
}
