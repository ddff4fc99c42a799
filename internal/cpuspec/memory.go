package cpuspec

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// headroomPercent of available memory is left to the rest of the process
// when checking whether a buffer fits.
const headroomPercent = 20

// MemoryInfo is a snapshot of host memory in bytes.
type MemoryInfo struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedPercent    float64
}

// GetMemoryInfo reads the current host memory statistics.
func GetMemoryInfo() (MemoryInfo, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryInfo{}, err
	}
	return MemoryInfo{
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		UsedPercent:    vm.UsedPercent,
	}, nil
}

// Fits reports whether a buffer of need bytes can be allocated while keeping
// the headroom free. An unknown (zero) snapshot fits everything.
func (m MemoryInfo) Fits(need uint64) bool {
	if m.AvailableBytes == 0 {
		return true
	}
	return need <= m.AvailableBytes/100*(100-headroomPercent)
}
