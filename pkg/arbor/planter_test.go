package arbor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

func TestParseCtreesHeader(t *testing.T) {
	h, err := parseCtreesHeader(testHeader, fields.Float32)
	require.NoError(t, err)

	assert.True(t, h.hasMarker)
	assert.True(t, h.hasParams)
	assert.InDelta(t, 0.3, h.params.OmegaMatter, 1e-12)
	assert.InDelta(t, 0.7, h.params.OmegaLambda, 1e-12)
	assert.InDelta(t, 0.7, h.params.HubbleConstant, 1e-12)
	assert.InDelta(t, 100, h.params.BoxSize, 1e-12)
	assert.Equal(t, "Mpc/h", h.params.BoxSizeUnits)

	byName := make(map[string]fields.Entry)
	for _, e := range h.entries {
		byName[e.Name] = e
	}
	require.Len(t, byName, 7)
	assert.Equal(t, 1, byName["id"].Column)
	assert.Equal(t, fields.Int64, byName["id"].DType)
	assert.Equal(t, fields.Int64, byName["desc_id"].DType)
	assert.Equal(t, fields.Int64, byName["num_prog"].DType)
	assert.Equal(t, fields.Float32, byName["scale"].DType)
	assert.Equal(t, "Msun/h", byName["Mvir"].Units)
	assert.Equal(t, "Halo mass", byName["Mvir"].Description)
	assert.Equal(t, "Mpc/h", byName["x"].Units)

	reg := h.unitRegistry()
	assert.Equal(t, "0.7", reg["h"])
	assert.Equal(t, "100 Mpc/h", reg["unitary"])
}

func TestParseColumnsRejectsBadDescriptor(t *testing.T) {
	for _, line := range []string{"#scale id(1)", "#id(x)", "#"} {
		_, err := parseColumns(line, fields.Float32)
		assert.Error(t, err, line)
	}
}

func TestFlatPlanterRanges(t *testing.T) {
	trees := []testTree{chain(100, 3), chain(2000, 1), chain(5, 4), chain(123456, 2), chain(7, 1)}
	path := filepath.Join(t.TempDir(), "tree_0_0_0.dat")
	spans := writeCatalog(t, path, trees)
	info, err := os.Stat(path)
	require.NoError(t, err)

	a := loadTest(t, path)
	assert.Equal(t, "consistent_trees", a.Format())
	require.Equal(t, len(trees), a.Size())

	for i, n := range a.RootNodes() {
		assert.Equal(t, spans[i].uid, n.UID)
		assert.Equal(t, spans[i].start, n.Start, "start of tree %d", i)
		assert.Equal(t, spans[i].end, n.End, "end of tree %d", i)
		assert.Equal(t, 0, n.FileID)
		assert.Equal(t, i, n.AI)
		if i > 0 {
			prev := a.Tree(i - 1)
			width := int64(len(treeMarker) + len(strconv.FormatInt(n.UID, 10)) + 2)
			assert.Equal(t, width, n.Start-prev.End, "marker width before tree %d", i)
		}
	}
	assert.Equal(t, info.Size(), a.Tree(a.Size()-1).End)

	p := a.Parameters()
	assert.InDelta(t, 0.7, p.HubbleConstant, 1e-12)
	assert.Equal(t, "Mpc/h", p.BoxSizeUnits)
}

func TestFlatPlanterBlockSizes(t *testing.T) {
	var trees []testTree
	for i := 0; i < 40; i++ {
		trees = append(trees, chain(int64(1000+i*37), 1+i%4))
	}
	path := filepath.Join(t.TempDir(), "tree_0_0_0.dat")
	spans := writeCatalog(t, path, trees)

	for _, bs := range []int{7, 16, 64, 333, DefaultBlockSize} {
		t.Run(fmt.Sprintf("block=%d", bs), func(t *testing.T) {
			opts := testOptions()
			opts.BlockSize = bs
			a, err := Load(path, opts)
			require.NoError(t, err)
			require.Equal(t, len(spans), a.Size())
			for i, n := range a.RootNodes() {
				assert.Equal(t, spans[i], span{uid: n.UID, start: n.Start, end: n.End})
			}
		})
	}
}

func TestFlatPlanterEmpty(t *testing.T) {
	dir := t.TempDir()

	noTrees := filepath.Join(dir, "empty.dat")
	writeCatalog(t, noTrees, nil)
	_, err := Load(noTrees, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileEmpty), "got %v", err)

	noMarkers := filepath.Join(dir, "nomarkers.dat")
	data, _ := encodeCatalog(nil)
	data = append(data[:len(data)-2], []byte("3\n")...)
	require.NoError(t, os.WriteFile(noMarkers, data, 0644))
	_, err = Load(noMarkers, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileEmpty), "got %v", err)
}

func TestManifestPlanterMatchesProbes(t *testing.T) {
	files := [][]testTree{
		{chain(10, 2), chain(9, 3), chain(100000, 1)},
		{chain(500, 4)},
		{chain(7, 1), chain(77, 2), chain(777, 3), chain(7777, 1)},
	}
	for seed := int64(1); seed <= 5; seed++ {
		dir := t.TempDir()
		path, spans := writeManifest(t, dir, files, seed)

		a := loadTest(t, path)
		assert.Equal(t, "consistent_trees_group", a.Format())
		require.Equal(t, 8, a.Size())
		require.Len(t, a.DataFiles(), 3)

		prevFile, prevStart := -1, int64(-1)
		for i, n := range a.RootNodes() {
			want := spans[n.UID]
			assert.Equal(t, want.start, n.Start, "start of %d", n.UID)
			assert.Equal(t, want.end, n.End, "end of %d", n.UID)
			assert.Equal(t, i, n.AI)

			fid, err := a.Index().Lookup(int64(n.AI))
			require.NoError(t, err)
			assert.Equal(t, n.FileID, fid)

			if n.FileID == prevFile {
				assert.Greater(t, n.Start, prevStart, "rows sorted by offset")
			} else {
				assert.Greater(t, n.FileID, prevFile, "rows sorted by file id")
			}
			prevFile, prevStart = n.FileID, n.Start
		}
	}
}

func TestManifestMissingFile(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeManifest(t, dir, [][]testTree{{chain(1, 1)}, {chain(2, 1)}}, 1)

	require.NoError(t, os.Remove(filepath.Join(dir, "tree_1_0_0.dat")))
	_, err := Load(path, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileMissing), "got %v", err)

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
}

func TestManifestConflictingNames(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, filepath.Join(dir, "a.dat"), []testTree{chain(1, 1)})
	writeCatalog(t, filepath.Join(dir, "b.dat"), []testTree{chain(2, 1)})
	manifest := "#" + locationsHeader + "\n1 0 10 a.dat\n2 0 20 b.dat\n"
	path := filepath.Join(dir, locationsName)
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	_, err := Load(path, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileMissing), "got %v", err)
}

func TestManifestEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), locationsName)
	require.NoError(t, os.WriteFile(path, []byte("#"+locationsHeader+"\n"), 0644))
	_, err := Load(path, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileEmpty), "got %v", err)
}

func TestSeparatorWidth(t *testing.T) {
	assert.Equal(t, int64(len("#tree ")+3+2), separatorWidth(3))
}

func TestBinaryPlanter(t *testing.T) {
	files := [][]testTree{
		{chain(1, 3), chain(10, 2)},
		{chain(20, 4)},
	}
	path := filepath.Join(t.TempDir(), "forests.bin")
	writeBinaryCatalog(t, path, files)

	for _, access := range []string{AccessTree, AccessForest} {
		t.Run(access, func(t *testing.T) {
			opts := testOptions()
			opts.Access = access
			a, err := Load(path, opts)
			require.NoError(t, err)
			assert.Equal(t, "consistent_trees_binary", a.Format())
			require.Equal(t, 3, a.Size())

			want := []struct {
				uid        int64
				fid        int
				start, end int64
			}{
				{1, 0, 0, 3},
				{10, 0, 3, 5},
				{20, 1, 0, 4},
			}
			for i, n := range a.RootNodes() {
				assert.Equal(t, want[i].uid, n.UID)
				assert.Equal(t, want[i].fid, n.FileID)
				assert.Equal(t, want[i].start, n.Start)
				assert.Equal(t, want[i].end, n.End)
				size, err := n.TreeSize()
				require.NoError(t, err)
				assert.Equal(t, int(want[i].end-want[i].start), size)
			}

			e, err := a.FieldInfo().Resolve("mass")
			require.NoError(t, err)
			assert.Equal(t, "Forests/Mvir", e.Dataset)
			assert.Equal(t, fields.Float32, e.DType)
			assert.Equal(t, "Msun", e.Units, "alias units win")

			phys, err := a.FieldInfo().Resolve("Mvir")
			require.NoError(t, err)
			assert.Equal(t, "Msun/h", phys.Units)
		})
	}

	opts := testOptions()
	opts.Access = "galaxy"
	_, err := Load(path, opts)
	assert.Error(t, err)
}

func TestBinaryPlanterEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forests.bin")
	writeBinaryCatalog(t, path, nil)
	_, err := Load(path, testOptions())
	assert.True(t, errors.Is(err, ErrDataFileEmpty), "got %v", err)
}

func TestNormalizeFieldName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Mvir", "Mvir"},
		{"Orig_halo_ID", "Orig_halo_ID"},
		{"Tidal_Force_Tdyn", "Tidal_Force_Tdyn"},
		{"M_pe_Behroozi", "M_pe_Behroozi"},
		{"Last_mainleaf_depthfirst_ID", "Last_mainleaf_depthfirst_ID"},
		{"A[x](500c)", "A_x_500c"},
		{"phantom?", "phantom"},
		{"Rs_Klypin|x", "Rs_Klypinx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeFieldName(tt.in), tt.in)
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	flat := filepath.Join(dir, "tree_0_0_0.dat")
	writeCatalog(t, flat, []testTree{chain(1, 1)})
	manifest, _ := writeManifest(t, t.TempDir(), [][]testTree{{chain(3, 1)}}, 1)
	binary := filepath.Join(dir, "forests.bin")
	writeBinaryCatalog(t, binary, [][]testTree{{chain(1, 1)}})
	other := filepath.Join(dir, "notes.dat")
	require.NoError(t, os.WriteFile(other, []byte("hello\n"), 0644))

	tests := []struct {
		path string
		want string
	}{
		{flat, "consistent_trees"},
		{manifest, "consistent_trees_group"},
		{binary, "consistent_trees_binary"},
	}
	for _, tt := range tests {
		fe, err := Detect(tt.path, nil)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, fe.Name())
	}

	for _, p := range []string{other, filepath.Join(dir, "missing.dat")} {
		_, err := Detect(p, nil)
		assert.True(t, errors.Is(err, ErrUnknownFormat), "got %v", err)
	}
}
