package arbor

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
)

// halo is one record of a test tree.
type halo struct {
	id   int64
	desc int64
	mvir float64
}

// testTree is a tree in I/O order, root first.
type testTree []halo

func (t testTree) uid() int64 { return t[0].id }

// span is a tree's expected range within its file.
type span struct {
	uid        int64
	start, end int64
}

const testColumns = "#scale(0) id(1) desc_scale(2) desc_id(3) num_prog(4) Mvir(5) x(6)"

var testHeader = []string{
	testColumns,
	"#Omega_M = 0.3; Omega_L = 0.7; h0 = 0.7",
	"#Full box size = 100 Mpc/h",
	"#Units: Masses in Msun / h",
	"#Units: Positions in Mpc / h (comoving)",
	"#Consistent Trees Version 1.01",
	"#Mvir: Halo mass",
}

// chain builds a linear tree of n halos with ids uid, uid+1, ...
func chain(uid int64, n int) testTree {
	t := make(testTree, n)
	for i := range t {
		t[i] = halo{id: uid + int64(i), desc: uid + int64(i) - 1, mvir: float64(uid+int64(i)) * 1e10}
	}
	t[0].desc = fields.NoDescendant
	return t
}

// encodeCatalog renders a consistent-trees text catalog and the expected
// range of each tree.
func encodeCatalog(trees []testTree) ([]byte, []span) {
	var buf bytes.Buffer
	for _, line := range testHeader {
		buf.WriteString(line + "\n")
	}
	fmt.Fprintf(&buf, "%d\n", len(trees))

	spans := make([]span, len(trees))
	for i, tree := range trees {
		if i > 0 {
			spans[i-1].end = int64(buf.Len()) - 1
		}
		fmt.Fprintf(&buf, "#tree %d\n", tree.uid())
		spans[i] = span{uid: tree.uid(), start: int64(buf.Len())}
		for j, h := range tree {
			fmt.Fprintf(&buf, "%.4f %d %.4f %d %d %.6e %.3f\n",
				1.0-0.01*float64(j), h.id, 1.0-0.01*float64(j-1), h.desc, 1, h.mvir, float64(h.id)/10)
		}
	}
	if len(trees) > 0 {
		spans[len(trees)-1].end = int64(buf.Len())
	}
	return buf.Bytes(), spans
}

func writeCatalog(t *testing.T, path string, trees []testTree) []span {
	t.Helper()
	data, spans := encodeCatalog(trees)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return spans
}

// writeManifest writes one catalog per file plus a locations.dat listing
// every tree with its rows shuffled.
func writeManifest(t *testing.T, dir string, files [][]testTree, seed int64) (string, map[int64]span) {
	t.Helper()
	spans := make(map[int64]span)
	var rows []string
	for fid, trees := range files {
		name := fmt.Sprintf("tree_%d_0_0.dat", fid)
		for _, s := range writeCatalog(t, filepath.Join(dir, name), trees) {
			spans[s.uid] = s
			rows = append(rows, fmt.Sprintf("%d %d %d %s", s.uid, fid, s.start, name))
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	var buf bytes.Buffer
	buf.WriteString("#" + locationsHeader + "\n")
	for _, r := range rows {
		buf.WriteString(r + "\n")
	}
	path := filepath.Join(dir, locationsName)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path, spans
}

// writeBinaryCatalog writes a structured catalog with one File<k> group per
// entry of files.
func writeBinaryCatalog(t *testing.T, path string, files [][]testTree) {
	t.Helper()
	w, err := container.Create(path, container.Options{Codec: container.CodecSnappy, ChunkLen: 3})
	require.NoError(t, err)

	total, halos := 0, 0
	for fid, trees := range files {
		g := fmt.Sprintf("File%d", fid)
		var roots, offsets, sizes, ids, descs []int64
		var mvir []float32
		for _, tree := range trees {
			roots = append(roots, tree.uid())
			offsets = append(offsets, int64(len(ids)))
			sizes = append(sizes, int64(len(tree)))
			for _, h := range tree {
				ids = append(ids, h.id)
				descs = append(descs, h.desc)
				mvir = append(mvir, float32(h.mvir))
			}
		}
		for _, info := range []string{"TreeInfo", "ForestInfo"} {
			names := accessTable[AccessTree]
			if info == "ForestInfo" {
				names = accessTable[AccessForest]
			}
			require.NoError(t, w.WriteDataset(g+"/"+info+"/"+names.uid, fields.Int64s(roots)))
			require.NoError(t, w.WriteDataset(g+"/"+info+"/"+names.offset, fields.Int64s(offsets)))
			require.NoError(t, w.WriteDataset(g+"/"+info+"/"+names.size, fields.Int64s(sizes)))
		}
		require.NoError(t, w.WriteDataset(g+"/Forests/id", fields.Int64s(ids)))
		require.NoError(t, w.WriteDataset(g+"/Forests/desc_id", fields.Int64s(descs)))
		require.NoError(t, w.WriteDataset(g+"/Forests/Mvir", fields.Float32s(mvir)))
		require.NoError(t, w.SetAttr(g+"/Ntrees", len(trees)))
		require.NoError(t, w.SetAttr(g+"/Nforests", len(trees)))
		require.NoError(t, w.SetAttr(g+"/"+metadataAttr, testHeader))
		total += len(trees)
		halos += len(ids)
	}
	for name, v := range map[string]int{
		"Nfiles":      len(files),
		"TotNtrees":   total,
		"TotNforests": total,
		"TotNhalos":   halos,
	} {
		require.NoError(t, w.SetAttr(name, v))
	}
	require.NoError(t, w.Close())
}

func testOptions() Options {
	return Options{
		Logger:    logging.NewNopLogger(),
		Metrics:   metrics.NewRegistry(),
		BlockSize: 64,
	}
}

func loadTest(t *testing.T, path string) *Arbor {
	t.Helper()
	a, err := Load(path, testOptions())
	require.NoError(t, err)
	return a
}

func resetAll(a *Arbor) {
	for _, n := range a.RootNodes() {
		n.Reset()
	}
}

func uidsOf(trees []testTree) []int64 {
	out := make([]int64, len(trees))
	for i, tr := range trees {
		out[i] = tr.uid()
	}
	return out
}
