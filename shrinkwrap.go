package imresh

import (
	"log/slog"

	"github.com/chewxy/math32"

	"github.com/mxmlnkn/imresh/fft"
)

// ShrinkWrapOptions configures a reconstruction. Zero or negative fields
// take the documented defaults, so callers can override a single knob
// without restating the rest.
type ShrinkWrapOptions struct {
	Cycles         int     // outer mask-update iterations (default 20)
	HioCycles      int     // inner HIO iterations per cycle (default 20)
	TargetError    float32 // early-exit threshold (default 1e-5)
	HioBeta        float32 // HIO feedback coefficient (default 0.9)
	CutOffAutoCorr float32 // first-mask threshold fraction (default 0.04)
	CutOffMask     float32 // subsequent-mask threshold fraction (default 0.2)
	Sigma0         float32 // initial blur sigma (default 3.0)
	SigmaChange    float32 // relative sigma decrement per cycle (default 0.01)
}

// sigmaFloor bounds the blur sigma from below across all decay steps.
const sigmaFloor = 1.5

// NextSigma advances the blur sigma by one decay step: a relative
// decrement bounded below by the sigma floor, so the sequence is
// monotonically non-increasing and never drops under 1.5.
func NextSigma(sigma, sigmaChange float32) float32 {
	return math32.Max(sigmaFloor, (1-sigmaChange)*sigma)
}

// DefaultShrinkWrapOptions returns the documented defaults.
func DefaultShrinkWrapOptions() ShrinkWrapOptions {
	opts := ShrinkWrapOptions{}
	opts.applyDefaults()
	return opts
}

// applyDefaults replaces non-positive fields with their defaults. This
// makes it possible to specify a new value for e.g. Sigma0 while still
// using the defaults for HioBeta, TargetError and the rest.
func (o *ShrinkWrapOptions) applyDefaults() {
	if o.Cycles <= 0 {
		o.Cycles = 20
	}
	if o.HioCycles <= 0 {
		o.HioCycles = 20
	}
	if o.TargetError <= 0 {
		o.TargetError = 1e-5
	}
	if o.HioBeta <= 0 {
		o.HioBeta = 0.9
	}
	if o.CutOffAutoCorr <= 0 {
		o.CutOffAutoCorr = 0.04
	}
	if o.CutOffMask <= 0 {
		o.CutOffMask = 0.2
	}
	if o.Sigma0 <= 0 {
		o.Sigma0 = 3.0
	}
	if o.SigmaChange <= 0 {
		o.SigmaChange = 0.01
	}
}

// ShrinkWrap reconstructs a real-valued 2-D object from its measured
// diffraction intensity. data holds the width*height intensity pattern on
// entry and is overwritten with the reconstructed object on return.
//
// The algorithm estimates a first support mask from the autocorrelation
// (the inverse transform of the intensity), then alternates between HIO
// inner iterations with a fixed mask and shrink-wrap mask updates: blur
// the current magnitude, threshold against a fraction of its maximum, and
// shrink the blur sigma. Iteration stops when the masked RMS error drops
// below TargetError or after Cycles mask updates.
//
// All device operations of one call are submitted to the config's stream
// and execute in submission order; one synchronize before return
// suffices.
func ShrinkWrap(cfg KernelConfig, data []float32, width, height int, opts ShrinkWrapOptions) error {
	if err := cfg.Check(); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return NewInvalidArgError("ShrinkWrap", "image dimensions must be positive")
	}
	nElements := width * height
	if data == nil || len(data) < nElements {
		return NewInvalidArgError("ShrinkWrap", "intensity buffer is nil or shorter than width*height")
	}
	opts.applyDefaults()

	stream := cfg.Stream
	sigma := opts.Sigma0

	// Allocate all device buffers up front so the HIO loop never touches
	// the allocator. They are released only after the stream has drained,
	// even on error paths, so no in-flight task can touch freed memory.
	var buffers []DevicePtr
	defer func() {
		stream.Synchronize()
		for _, b := range buffers {
			_ = Free(b)
		}
	}()
	mallocTracked := func(size int) (DevicePtr, error) {
		ptr, err := Malloc(size)
		if err == nil {
			buffers = append(buffers, ptr)
		}
		return ptr, err
	}

	curData, err := mallocTracked(nElements * 8)
	if err != nil {
		return err
	}
	gPrevious, err := mallocTracked(nElements * 8)
	if err != nil {
		return err
	}
	intensity, err := mallocTracked(nElements * 4)
	if err != nil {
		return err
	}
	isMasked, err := mallocTracked(nElements * 4)
	if err != nil {
		return err
	}

	if err := MemcpyAsync(intensity, data, nElements*4, MemcpyHostToDevice, stream); err != nil {
		return err
	}

	// One plan serves both directions: g -> G out of place and G' -> g'
	// in place, unnormalized in both directions.
	plan, err := fft.NewPlan(width, height)
	if err != nil {
		return NewExecutionError("ShrinkWrap", "building FFT plan", err)
	}

	cur := curData.Complex64()[:nElements]
	prev := gPrevious.Complex64()[:nElements]

	// intensity -> autocorrelation, the current guess for the object
	if err := CopyToRealPart(cfg, curData, intensity, nElements); err != nil {
		return err
	}
	stream.Submit(func() { _ = plan.Inverse(cur) })

	for iCycle := 0; iCycle < opts.Cycles; iCycle++ {
		// Update mask: blur |g'| (normally g' should be real, so the
		// norm mostly copies the real part), threshold against the
		// blurred maximum. The first mask comes from the
		// autocorrelation, per the Wiener-Khinchin theorem, with its
		// own cutoff fraction.
		if err := ComplexNormElementwise(cfg, isMasked, curData, nElements); err != nil {
			return err
		}
		if err := GaussianBlur(isMasked, width, height, sigma, stream); err != nil {
			return err
		}
		absMax, err := VectorMax(cfg, isMasked, nElements)
		if err != nil {
			return err
		}
		cutOff := opts.CutOffMask
		if iCycle == 0 {
			cutOff = opts.CutOffAutoCorr
		}
		threshold := cutOff * absMax
		if err := CutOff(cfg, isMasked, nElements, threshold, 1, 0); err != nil {
			return err
		}

		sigma = NextSigma(sigma, opts.SigmaChange)

		// In the first cycle the previous iterate g is approximated by
		// g'. It is needed because g_{k+1} = g_k - hioBeta * g'.
		if iCycle == 0 {
			if err := MemcpyAsync(gPrevious, curData, nElements*8, MemcpyDeviceToDevice, stream); err != nil {
				return err
			}
		}

		for iHio := 0; iHio < opts.HioCycles; iHio++ {
			// Apply domain constraints to g' to get g.
			if err := ApplyHioDomainConstraints(cfg, gPrevious, curData, isMasked, nElements, opts.HioBeta); err != nil {
				return err
			}

			// Transform the new guess g back into frequency space G.
			stream.Submit(func() { _ = plan.Forward(cur, prev) })

			// Replace the modulus of G with the measured modulus |F|.
			if err := ApplyComplexModulus(cfg, curData, curData, intensity, nElements); err != nil {
				return err
			}

			stream.Submit(func() { _ = plan.Inverse(cur) })
		}

		currentError, err := HioError(cfg, curData, isMasked, nElements, false)
		if err != nil {
			return err
		}
		slog.Debug("shrink-wrap cycle finished",
			"cycle", iCycle, "cycles", opts.Cycles,
			"error", currentError, "targetError", opts.TargetError,
			"sigma", sigma)
		if opts.TargetError > 0 && currentError < opts.TargetError {
			break
		}
	}

	if err := CopyFromRealPart(cfg, intensity, curData, nElements); err != nil {
		return err
	}
	if err := MemcpyAsync(data, intensity, nElements*4, MemcpyDeviceToHost, stream); err != nil {
		return err
	}

	// Wait for everything submitted above to finish before the caller
	// reads data and the deferred frees return the buffers.
	stream.Synchronize()
	return nil
}
