package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminePerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i9-12900K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13600K", 6},
		{"12th Gen Intel(R) Core(TM) i3-12100F", 4},
		{"Apple M1", 4},
		{"Apple M2 Pro", 8},
		{"Apple M4 Max", 12},
		{"Apple M1 Ultra", 16},
		{"AMD Ryzen 9 5950X 16-Core Processor", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, determinePerformanceCores(tt.brand))
		})
	}
}

func TestOptimalWorkersBounded(t *testing.T) {
	t.Parallel()

	assert.Equal(t, runtime.NumCPU(), CPUSpec{}.OptimalWorkers())
	assert.LessOrEqual(t, CPUSpec{PerformanceCores: 1 << 20}.OptimalWorkers(), runtime.NumCPU())
	assert.Equal(t, 1, CPUSpec{PerformanceCores: 1}.OptimalWorkers())
	assert.Equal(t, 3, Workers(3))
	assert.GreaterOrEqual(t, Workers(0), 1)
}

func TestMemoryInfoFits(t *testing.T) {
	t.Parallel()

	m := MemoryInfo{AvailableBytes: 1000}
	assert.True(t, m.Fits(800))
	assert.False(t, m.Fits(801))
	assert.True(t, MemoryInfo{}.Fits(1<<62))
}

func TestGetMemoryInfo(t *testing.T) {
	t.Parallel()

	m, err := GetMemoryInfo()
	if err != nil {
		t.Skipf("memory statistics unavailable: %v", err)
	}
	assert.Positive(t, m.TotalBytes)
	assert.LessOrEqual(t, m.AvailableBytes, m.TotalBytes)
}
