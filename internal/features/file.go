package features

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/tphakala/patchwork-go/internal/cpuspec"
	"github.com/tphakala/patchwork-go/internal/errors"
)

// Feature file layout, little-endian:
//
//	magic "PWFT" | uint32 version | uint32 rank | rank x uint32 dims | float32 data
const (
	fileMagic   = "PWFT"
	fileVersion = uint32(1)
	maxRank     = 8
)

// Encode writes t in the feature file format.
func Encode(w io.Writer, t Tensor) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return err
	}
	header := make([]uint32, 0, 2+len(t.Shape))
	header = append(header, fileVersion, uint32(len(t.Shape)))
	for _, d := range t.Shape {
		header = append(header, uint32(d))
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Data)
}

// Decode reads a tensor in the feature file format.
func Decode(r io.Reader) (Tensor, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return Tensor{}, parseError(fmt.Errorf("read magic: %w", err))
	}
	if string(magic) != fileMagic {
		return Tensor{}, parseError(fmt.Errorf("not a feature file (magic %q)", magic))
	}

	var head [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return Tensor{}, parseError(fmt.Errorf("read header: %w", err))
	}
	if head[0] != fileVersion {
		return Tensor{}, parseError(fmt.Errorf("unsupported feature file version %d", head[0]))
	}
	if head[1] == 0 || head[1] > maxRank {
		return Tensor{}, parseError(fmt.Errorf("invalid rank %d", head[1]))
	}

	dims := make([]uint32, head[1])
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return Tensor{}, parseError(fmt.Errorf("read dims: %w", err))
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	if err := checkMemory(dims); err != nil {
		return Tensor{}, err
	}

	t, err := NewTensor(shape...)
	if err != nil {
		return Tensor{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, t.Data); err != nil {
		return Tensor{}, parseError(fmt.Errorf("read data: %w", err))
	}
	return t, nil
}

// checkMemory refuses a tensor that would not fit in the memory the host has
// available. Corrupt headers with huge dimensions fail here instead of in make.
func checkMemory(dims []uint32) error {
	need := uint64(4)
	for _, d := range dims {
		hi, lo := bits.Mul64(need, uint64(d))
		if hi != 0 {
			return memoryError(fmt.Sprintf("dimensions %v overflow", dims))
		}
		need = lo
	}
	m, err := cpuspec.GetMemoryInfo()
	if err != nil {
		return nil
	}
	if !m.Fits(need) {
		return memoryError(fmt.Sprintf("tensor of %d bytes exceeds the %d bytes available", need, m.AvailableBytes))
	}
	return nil
}

func memoryError(msg string) error {
	return errors.Newf("features: %s", msg).
		Component("features").
		Category(errors.CategorySystem).
		Build()
}

func parseError(err error) error {
	return errors.New(fmt.Errorf("features: %w", err)).
		Component("features").
		Category(errors.CategoryFileParsing).
		Build()
}

// WriteFile stores t at path, replacing any existing file atomically.
func WriteFile(path string, t Tensor) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.FileError(fmt.Errorf("features: create %s: %w", tmp, err), tmp)
	}

	bw := bufio.NewWriter(f)
	if err := Encode(bw, t); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.FileError(fmt.Errorf("features: write %s: %w", path, err), path)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.FileError(fmt.Errorf("features: flush %s: %w", path, err), path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.FileError(fmt.Errorf("features: close %s: %w", path, err), path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.FileError(fmt.Errorf("features: rename %s: %w", tmp, err), path)
	}
	return nil
}

// ReadFile loads a tensor from path.
func ReadFile(path string) (Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tensor{}, errors.FileError(fmt.Errorf("features: open %s: %w", path, err), path)
	}
	defer func() { _ = f.Close() }()

	return Decode(bufio.NewReader(f))
}
