package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqTensor(t *testing.T, shape ...int) Tensor {
	t.Helper()
	x, err := NewTensor(shape...)
	require.NoError(t, err)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	return x
}

func TestTensorItemAndGather(t *testing.T) {
	t.Parallel()

	x := seqTensor(t, 4, 2, 3)
	assert.Equal(t, 4, x.Len())
	assert.Equal(t, 6, x.ItemSize())
	assert.Equal(t, []float32{6, 7, 8, 9, 10, 11}, x.Item(1))

	g, err := x.Gather([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, g.Shape)
	assert.Equal(t, x.Item(3), g.Item(0))
	assert.Equal(t, x.Item(1), g.Item(1))

	g.Data[0] = -1
	assert.NotEqual(t, float32(-1), x.Item(3)[0], "gather must copy")

	_, err = x.Gather([]int{4})
	require.Error(t, err)
}

func TestFromDataAndStackValidateShapes(t *testing.T) {
	t.Parallel()

	_, err := FromData(make([]float32, 5), 2, 3)
	require.Error(t, err)

	_, err = NewTensor()
	require.Error(t, err)

	s, err := Stack([][]float32{{1, 2}, {3, 4}}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape)

	_, err = Stack([][]float32{{1, 2}, {3}}, []int{2})
	require.Error(t, err)
}

func TestEncodeDecodeFile(t *testing.T) {
	t.Parallel()

	x := seqTensor(t, 3, 2, 2, 4)
	path := filepath.Join(t.TempDir(), "feats.pwft")
	require.NoError(t, WriteFile(path, x))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, got.Shape)
	assert.Equal(t, x.Data, got.Data)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	t.Parallel()

	var good bytes.Buffer
	require.NoError(t, Encode(&good, seqTensor(t, 2, 2)))
	raw := good.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", append([]byte("NOPE"), raw[4:]...)},
		{"truncated data", raw[:len(raw)-3]},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(bytes.NewReader(tt.data))
			require.Error(t, err)
		})
	}
}

func TestDecodeRefusesOversizedHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteString(fileMagic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []uint32{fileVersion, 3, 1 << 31, 1 << 31, 1 << 31}))

	_, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")
}

func TestInMemoryDatasetBatches(t *testing.T) {
	t.Parallel()

	x := seqTensor(t, 10, 2)
	rows := []int{0, 2, 4, 6, 8}
	labels := [][]float32{{1}, {0}, {1}, {-1}, {0}}

	d, err := NewInMemoryDataset(x, rows, labels, 2, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, d.NumSteps())

	var seen [][]float32
	for {
		b, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Nil(t, b.Unlabeled)
		for k := range b.Y {
			seen = append(seen, b.X.Item(k))
		}
	}
	require.Len(t, seen, 5)
	assert.Equal(t, []float32{4, 5}, seen[1])
}

func TestInMemoryDatasetUnlabeledPairs(t *testing.T) {
	t.Parallel()

	x := seqTensor(t, 6, 1)
	d, err := NewInMemoryDataset(x, []int{0, 1}, [][]float32{{1}, {0}}, 4,
		rand.New(rand.NewPCG(3, 4)), WithShuffle(), WithUnlabeledPairs([]int{4, 5}))
	require.NoError(t, err)

	b, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, b.Unlabeled)
	assert.Equal(t, 2, b.Unlabeled.Len())
	for _, v := range b.Unlabeled.Data {
		assert.Contains(t, []float32{4, 5}, v)
	}

	_, err = NewInMemoryDataset(x, []int{0}, [][]float32{{1}}, 1, rand.New(rand.NewPCG(1, 1)), WithUnlabeledPairs([]int{}))
	require.Error(t, err)
}
