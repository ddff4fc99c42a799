package extractor

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/imageloader"
)

// meanBackbone returns the per-channel mean of its input.
type meanBackbone struct {
	in    []int
	calls int
	fail  bool
}

func (b *meanBackbone) InputShape() []int  { return b.in }
func (b *meanBackbone) OutputShape() []int { return []int{1, 1, b.in[2]} }

func (b *meanBackbone) Run(_ context.Context, item []float32) ([]float32, error) {
	b.calls++
	if b.fail {
		return nil, errors.NewStd("boom")
	}
	c := b.in[2]
	out := make([]float32, c)
	for i, v := range item {
		out[i%c] += v
	}
	for k := range out {
		out[k] /= float32(len(item) / c)
	}
	return out, nil
}

func writeSolid(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := range 6 {
		for x := range 6 {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func fixtures(t *testing.T) []string {
	dir := t.TempDir()
	return []string{
		writeSolid(t, dir, "red.png", color.NRGBA{255, 0, 0, 255}),
		writeSolid(t, dir, "green.png", color.NRGBA{0, 255, 0, 255}),
		writeSolid(t, dir, "blue.png", color.NRGBA{0, 0, 255, 255}),
	}
}

func TestExtractKeepsOrder(t *testing.T) {
	paths := fixtures(t)
	b := &meanBackbone{in: []int{4, 4, 3}}
	var progress []int
	e, err := New(b, imageloader.DefaultOptions(), 2, 2, WithProgress(func(done, _ int) {
		progress = append(progress, done)
	}))
	require.NoError(t, err)

	x, err := e.Extract(t.Context(), paths)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1, 3}, x.Shape)
	assert.Equal(t, 3, b.calls)
	assert.Equal(t, []int{2, 3}, progress)

	for i := range 3 {
		for k, v := range x.Item(i) {
			want := float32(0)
			if k == i {
				want = 1
			}
			assert.InDelta(t, want, v, 1e-6, "item %d channel %d", i, k)
		}
	}
}

func TestExtractToFileRoundTrip(t *testing.T) {
	paths := fixtures(t)
	e, err := New(&meanBackbone{in: []int{2, 2, 3}}, imageloader.DefaultOptions(), 8, 1)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "features.bin")
	x, err := e.ExtractToFile(t.Context(), paths, out)
	require.NoError(t, err)

	got, err := features.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, got.Shape)
	assert.Equal(t, x.Data, got.Data)
}

func TestExtractBackboneError(t *testing.T) {
	e, err := New(&meanBackbone{in: []int{2, 2, 3}, fail: true}, imageloader.DefaultOptions(), 2, 1)
	require.NoError(t, err)

	_, err = e.Extract(t.Context(), fixtures(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModel))
}

func TestExtractMissingImage(t *testing.T) {
	e, err := New(&meanBackbone{in: []int{2, 2, 3}}, imageloader.DefaultOptions(), 2, 1)
	require.NoError(t, err)

	_, err = e.Extract(t.Context(), []string{filepath.Join(t.TempDir(), "missing.png")})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestExtractCancelled(t *testing.T) {
	e, err := New(&meanBackbone{in: []int{2, 2, 3}}, imageloader.DefaultOptions(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = e.Extract(ctx, fixtures(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestNewRejectsBadInputShape(t *testing.T) {
	_, err := New(&meanBackbone{in: []int{4, 4}}, imageloader.DefaultOptions(), 1, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewTFLiteBackboneMissingFile(t *testing.T) {
	_, err := NewTFLiteBackbone(filepath.Join(t.TempDir(), "missing.tflite"), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}
