package imresh

import (
	"github.com/chewxy/math32"
)

// Elementwise device kernels of the reconstruction core. All of them are
// grid-stride maps over n elements, submitted asynchronously to the
// config's stream, and safe to run in place where target and source
// alias.

// launchMap launches a grid-stride map kernel over n elements.
func launchMap(cfg KernelConfig, op string, n int, fn func(i int)) error {
	if err := cfg.Check(); err != nil {
		return err
	}
	if n < 0 {
		return NewInvalidArgError(op, "element count must be non-negative")
	}

	stride := cfg.Grid.Size() * cfg.Block.Size()
	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		for i := tid.Global(); i < n; i += stride {
			fn(i)
		}
	})
	return defaultContext.LaunchFuncStream(kernel, cfg.Grid, cfg.Block, cfg.Stream)
}

// CopyToRealPart writes the real source values into the real parts of the
// target complex array, zeroing the imaginary parts.
func CopyToRealPart(cfg KernelConfig, target DevicePtr, source DevicePtr, n int) error {
	dst := target.Complex64()
	src := source.Float32()
	return launchMap(cfg, "CopyToRealPart", n, func(i int) {
		dst[i] = complex(src[i], 0)
	})
}

// CopyFromRealPart extracts the real parts of the source complex array
// into the real target array, discarding the imaginary parts.
func CopyFromRealPart(cfg KernelConfig, target DevicePtr, source DevicePtr, n int) error {
	dst := target.Float32()
	src := source.Complex64()
	return launchMap(cfg, "CopyFromRealPart", n, func(i int) {
		dst[i] = real(src[i])
	})
}

// ComplexNormElementwise writes the magnitude of each complex source
// value into the real target array.
func ComplexNormElementwise(cfg KernelConfig, target DevicePtr, source DevicePtr, n int) error {
	dst := target.Float32()
	src := source.Complex64()
	return launchMap(cfg, "ComplexNormElementwise", n, func(i int) {
		re := real(src[i])
		im := imag(src[i])
		dst[i] = math32.Sqrt(re*re + im*im)
	})
}

// ApplyComplexModulus replaces the modulus of each source value with the
// given measured modulus, keeping the phase: target = source * (modulus /
// |source|). A zero source magnitude is replaced with 1 so the value
// passes through unscaled instead of producing NaN.
func ApplyComplexModulus(cfg KernelConfig, target DevicePtr, source DevicePtr, modulus DevicePtr, n int) error {
	dst := target.Complex64()
	src := source.Complex64()
	mod := modulus.Float32()
	return launchMap(cfg, "ApplyComplexModulus", n, func(i int) {
		re := real(src[i])
		im := imag(src[i])
		norm := math32.Sqrt(re*re + im*im)
		if norm == 0 {
			norm = 1
		}
		factor := mod[i] / norm
		dst[i] = complex(re*factor, im*factor)
	})
}

// CutOff binarizes data against a threshold: values strictly below the
// threshold become lowerValue, all others upperValue. Pixels exactly at
// the threshold map to the upper value.
func CutOff(cfg KernelConfig, data DevicePtr, n int, threshold, lowerValue, upperValue float32) error {
	values := data.Float32()
	return launchMap(cfg, "CutOff", n, func(i int) {
		if values[i] < threshold {
			values[i] = lowerValue
		} else {
			values[i] = upperValue
		}
	})
}

// ApplyHioDomainConstraints forms the next HIO iterate from the previous
// iterate g and the current estimate g'. Outside the support (isMasked
// is 1) and where the real part went negative, the update is the HIO
// feedback g - beta*g'; inside the support g' is taken over directly.
func ApplyHioDomainConstraints(cfg KernelConfig, gPrevious DevicePtr, gPrime DevicePtr, isMasked DevicePtr, n int, hioBeta float32) error {
	prev := gPrevious.Complex64()
	cur := gPrime.Complex64()
	mask := isMasked.Float32()
	return launchMap(cfg, "ApplyHioDomainConstraints", n, func(i int) {
		if mask[i] == 1 || real(cur[i]) < 0 {
			prev[i] -= complex(hioBeta, 0) * cur[i]
		} else {
			prev[i] = cur[i]
		}
	})
}
