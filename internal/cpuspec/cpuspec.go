// Package cpuspec sizes worker pools and memory budgets from the host.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PhysicalCores    int
	PerformanceCores int
}

// GetCPUSpec reads the host CPU description.
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		PerformanceCores: determinePerformanceCores(cpuid.CPU.BrandName),
	}
}

// OptimalWorkers returns the number of goroutines to use for CPU-bound work
// such as image decoding and model inference. On hybrid parts only the
// performance cores are counted.
func (c CPUSpec) OptimalWorkers() int {
	available := runtime.NumCPU()

	n := c.LogicalCores
	switch {
	case c.PerformanceCores > 0:
		n = c.PerformanceCores
	case c.PhysicalCores > 0:
		n = c.PhysicalCores
	}
	if n <= 0 || n > available {
		n = available
	}
	return max(n, 1)
}

// Workers is shorthand for GetCPUSpec().OptimalWorkers(), honoring an explicit override.
func Workers(override int) int {
	if override > 0 {
		return override
	}
	return GetCPUSpec().OptimalWorkers()
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*core.*i[3579]-(1[234])(\d{3})`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4])\s*(pro|max|ultra)?`)
)

// determinePerformanceCores maps known hybrid parts to their P-core count.
// Zero means not hybrid or unknown.
func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brandName); m != nil {
		switch tier := m[2]; {
		case strings.HasPrefix(tier, "9"), strings.HasPrefix(tier, "7"):
			return 8
		case strings.HasPrefix(tier, "6"), strings.HasPrefix(tier, "5"), strings.HasPrefix(tier, "4"):
			return 6
		case strings.HasPrefix(tier, "1"):
			return 4
		}
		return 0
	}

	if m := appleRegex.FindStringSubmatch(brandName); m != nil {
		switch m[2] {
		case "":
			return 4
		case "pro":
			if m[1] == "m4" {
				return 10
			}
			return 8
		case "max":
			if m[1] == "m4" {
				return 12
			}
			return 8
		case "ultra":
			return 16
		}
	}
	return 0
}
