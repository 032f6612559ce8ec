package imresh

import (
	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasAVX      bool
	HasAVX2     bool
	HasAVX512F  bool // Foundation
	HasAVX512DQ bool // Double/Quad precision
	HasFMA      bool
	HasSSE4     bool
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasSSE4:     cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:      cpu.X86.HasAVX,
		HasAVX2:     cpu.X86.HasAVX2,
		HasAVX512F:  cpu.X86.HasAVX512F,
		HasAVX512DQ: cpu.X86.HasAVX512DQ,
		HasFMA:      cpu.X86.HasFMA,
	}
}

// Features returns the detected capability set of the device.
func Features() CPUFeatures {
	return cpuFeatures
}

// deviceName builds a human-readable device name from the detected
// capability set, reported by GetDevice and the task queue at init.
func deviceName() string {
	switch {
	case cpuFeatures.HasAVX512F:
		return "CPU (AVX-512)"
	case cpuFeatures.HasAVX2 && cpuFeatures.HasFMA:
		return "CPU (AVX2+FMA)"
	case cpuFeatures.HasAVX:
		return "CPU (AVX)"
	case cpuFeatures.HasSSE4:
		return "CPU (SSE4)"
	default:
		return "CPU"
	}
}
