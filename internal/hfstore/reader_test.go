package hfstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distml/checkpoint/internal/plan"
	"github.com/distml/checkpoint/internal/tensor"
)

// mapPlanner is a LoadPlanner over a fixed set of destination tensors.
type mapPlanner struct {
	tensors   map[string]*tensor.RawTensor
	resize    bool
	committed []string
}

func (p *mapPlanner) ResolveTensor(item plan.ReadItem) (*tensor.RawTensor, error) {
	t, ok := p.tensors[item.DestFQN]
	if !ok {
		return nil, fmt.Errorf("no destination for %q", item.DestFQN)
	}
	return t, nil
}

func (p *mapPlanner) CommitTensor(item plan.ReadItem, _ *tensor.RawTensor) error {
	p.committed = append(p.committed, item.DestFQN)
	return nil
}

func (p *mapPlanner) AllowResize() bool {
	return p.resize
}

// saveCheckpoint writes the given tensors through the write coordinator and
// finalizes the manifest.
func saveCheckpoint(t *testing.T, dir string, items []plan.WriteItem, opts ...WriterOption) {
	t.Helper()

	w, err := NewWriter(dir, opts...)
	require.NoError(t, err)

	p := w.PrepareGlobalPlans([]plan.SavePlan{{Items: items}})[0]
	results, err := w.WriteData(context.Background(), p).Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Finish([][]plan.WriteResult{results}))
}

func loadItems(fqns ...string) plan.LoadPlan {
	lp := plan.LoadPlan{}
	for _, fqn := range fqns {
		lp.Items = append(lp.Items, plan.ReadItem{SourceFQN: fqn, DestFQN: fqn})
	}
	return lp
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoint(t, dir, []plan.WriteItem{
		writeItem(t, "model.weight", []float32{1, 2, 3, 4}),
		writeItem(t, "model.bias", []float32{5, 6}),
		writeItem(t, "head.weight", []float32{7}),
	}, WithIndexMapping(map[string]int{
		"model.weight": 1,
		"model.bias":   1,
		"head.weight":  2,
	}))

	r, err := NewReader(dir)
	require.NoError(t, err)

	md, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Len(t, md.WeightMap, 3)
	assert.NotZero(t, md.LoadID)

	dsts := map[string]*tensor.RawTensor{}
	for fqn, n := range map[string]int{"model.weight": 4, "model.bias": 2, "head.weight": 1} {
		dst, err := tensor.NewRaw(tensor.Shape{n}, tensor.Float32)
		require.NoError(t, err)
		dsts[fqn] = dst
	}
	planner := &mapPlanner{tensors: dsts}

	_, err = r.ReadData(context.Background(), loadItems("model.weight", "model.bias", "head.weight"), planner).
		Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2, 3, 4}, dsts["model.weight"].AsFloat32())
	assert.Equal(t, []float32{5, 6}, dsts["model.bias"].AsFloat32())
	assert.Equal(t, []float32{7}, dsts["head.weight"].AsFloat32())
	assert.ElementsMatch(t, []string{"model.weight", "model.bias", "head.weight"}, planner.committed)
}

// TestReadData_ManyFilesSharedPlanner loads a checkpoint spread across many
// files. File groups run concurrently, but the shared planner's calls are
// serialized by the reader: mapPlanner's unsynchronized committed slice must
// end up complete and consistent.
func TestReadData_ManyFilesSharedPlanner(t *testing.T) {
	dir := t.TempDir()

	const numFiles = 8
	items := make([]plan.WriteItem, 0, numFiles)
	mapping := make(map[string]int, numFiles)
	want := make(map[string][]float32, numFiles)
	for i := 0; i < numFiles; i++ {
		fqn := fmt.Sprintf("layer.%d.weight", i)
		values := []float32{float32(i), float32(i) + 0.5}
		items = append(items, writeItem(t, fqn, values))
		mapping[fqn] = i + 1
		want[fqn] = values
	}
	saveCheckpoint(t, dir, items, WithIndexMapping(mapping))

	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadMetadata()
	require.NoError(t, err)

	dsts := make(map[string]*tensor.RawTensor, numFiles)
	fqns := make([]string, 0, numFiles)
	for fqn := range want {
		dst, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32)
		require.NoError(t, err)
		dsts[fqn] = dst
		fqns = append(fqns, fqn)
	}
	planner := &mapPlanner{tensors: dsts}

	_, err = r.ReadData(context.Background(), loadItems(fqns...), planner).Wait(context.Background())
	require.NoError(t, err)

	assert.Len(t, planner.committed, numFiles)
	assert.ElementsMatch(t, fqns, planner.committed)
	for fqn, values := range want {
		assert.Equal(t, values, dsts[fqn].AsFloat32())
	}
}

func TestReadMetadata_FallbackSingleFile(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoint(t, dir, []plan.WriteItem{
		writeItem(t, "w", []float32{1, 2}),
		writeItem(t, "b", []float32{3}),
	})

	// Simulate a third-party checkpoint without a manifest.
	require.NoError(t, os.Remove(filepath.Join(dir, MetadataFilename)))

	r, err := NewReader(dir)
	require.NoError(t, err)

	md, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"w": "model-00001-of-00001.safetensors",
		"b": "model-00001-of-00001.safetensors",
	}, md.WeightMap)
}

func TestReadMetadata_AmbiguousWithoutManifest(t *testing.T) {
	t.Run("zero files", func(t *testing.T) {
		r, err := NewReader(t.TempDir())
		require.NoError(t, err)

		_, err = r.ReadMetadata()
		assert.ErrorIs(t, err, ErrAmbiguousCheckpoint)
	})

	t.Run("two files", func(t *testing.T) {
		dir := t.TempDir()
		saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "a", []float32{1})},
			WithIndexMapping(map[string]int{"a": 1}))
		saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "b", []float32{2})},
			WithIndexMapping(map[string]int{"b": 2}))
		require.NoError(t, os.Remove(filepath.Join(dir, MetadataFilename)))

		r, err := NewReader(dir)
		require.NoError(t, err)

		_, err = r.ReadMetadata()
		assert.ErrorIs(t, err, ErrAmbiguousCheckpoint)
	})

	t.Run("mixed sharded and plain names", func(t *testing.T) {
		dir := t.TempDir()
		saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "a", []float32{1})})
		saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "b", []float32{2})},
			WithShardedOutput())
		require.NoError(t, os.Remove(filepath.Join(dir, MetadataFilename)))

		r, err := NewReader(dir)
		require.NoError(t, err)

		// Both naming flavors count as candidates; no precedence is guessed.
		_, err = r.ReadMetadata()
		assert.ErrorIs(t, err, ErrAmbiguousCheckpoint)
	})
}

func TestReadData_ShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "w", []float32{1, 2, 3, 4})})

	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadMetadata()
	require.NoError(t, err)

	dst, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32)
	require.NoError(t, err)
	planner := &mapPlanner{tensors: map[string]*tensor.RawTensor{"w": dst}}

	_, err = r.ReadData(context.Background(), loadItems("w"), planner).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), `"w"`)
	assert.Contains(t, err.Error(), "[2]")
	assert.Contains(t, err.Error(), "[4]")
	assert.Empty(t, planner.committed, "failed read must not commit items")
}

func TestReadData_ResizeTolerant(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "w", []float32{1, 2, 3, 4})})

	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadMetadata()
	require.NoError(t, err)

	dst, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32)
	require.NoError(t, err)
	planner := &mapPlanner{
		tensors: map[string]*tensor.RawTensor{"w": dst},
		resize:  true,
	}

	_, err = r.ReadData(context.Background(), loadItems("w"), planner).Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{4}, dst.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, dst.AsFloat32())
}

func TestReadData_UnknownItem(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoint(t, dir, []plan.WriteItem{writeItem(t, "w", []float32{1})})

	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadMetadata()
	require.NoError(t, err)

	_, err = r.ReadData(context.Background(), loadItems("missing"), &mapPlanner{}).
		Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestReadData_RequiresMetadata(t *testing.T) {
	r, err := NewReader(t.TempDir())
	require.NoError(t, err)

	_, err = r.ReadData(context.Background(), loadItems("w"), &mapPlanner{}).
		Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReadMetadata")
}
