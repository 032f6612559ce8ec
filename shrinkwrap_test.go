package imresh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxmlnkn/imresh/fft"
)

func TestShrinkWrapInvalidArguments(t *testing.T) {
	cfg := DefaultKernelConfig()
	opts := DefaultShrinkWrapOptions()

	err := ShrinkWrap(cfg, nil, 16, 16, opts)
	assert.True(t, IsInvalidArgError(err), "nil buffer: %v", err)

	data := make([]float32, 16*16)
	err = ShrinkWrap(cfg, data, 0, 16, opts)
	assert.True(t, IsInvalidArgError(err), "zero width: %v", err)

	err = ShrinkWrap(cfg, data, 16, -4, opts)
	assert.True(t, IsInvalidArgError(err), "negative height: %v", err)

	err = ShrinkWrap(cfg, data[:100], 16, 16, opts)
	assert.True(t, IsInvalidArgError(err), "short buffer: %v", err)
}

func TestShrinkWrapOptionDefaults(t *testing.T) {
	opts := ShrinkWrapOptions{Sigma0: 5} // override one knob
	opts.applyDefaults()

	assert.Equal(t, 20, opts.Cycles)
	assert.Equal(t, 20, opts.HioCycles)
	assert.InDelta(t, 1e-5, float64(opts.TargetError), 1e-12)
	assert.InDelta(t, 0.9, float64(opts.HioBeta), 1e-7)
	assert.InDelta(t, 0.04, float64(opts.CutOffAutoCorr), 1e-7)
	assert.InDelta(t, 0.2, float64(opts.CutOffMask), 1e-7)
	assert.InDelta(t, 5.0, float64(opts.Sigma0), 1e-7)
	assert.InDelta(t, 0.01, float64(opts.SigmaChange), 1e-7)
}

// The sigma sequence is monotonically non-increasing, reaches the floor
// and never goes below it.
func TestSigmaDecayLaw(t *testing.T) {
	sigma := float32(3.0)
	prev := sigma
	for i := 0; i < 500; i++ {
		sigma = NextSigma(sigma, 0.01)
		require.LessOrEqual(t, sigma, prev, "step %d", i)
		require.GreaterOrEqual(t, sigma, float32(1.5), "step %d", i)
		prev = sigma
	}
	assert.Equal(t, float32(1.5), sigma)
}

// Mask threshold scenario: blur, take the maximum, threshold at a
// fraction of it. The binary mask must mark exactly the pixels whose
// blurred value is strictly below fraction*max.
func TestMaskThreshold(t *testing.T) {
	const width, height = 48, 32
	const n = width * height
	const fraction = 0.2

	gaussianCache.reset()
	stream := defaultContext.CreateStream()
	defer defaultContext.DestroyStream(stream)
	cfg := NewKernelConfig(stream)

	buf := deviceBufferFrom(t, GenerateFloat32Range(n, 13, 0, 1))
	require.NoError(t, GaussianBlur(buf, width, height, 1.5, stream))
	stream.Synchronize()

	blurred := make([]float32, n)
	copy(blurred, buf.Float32())

	absMax, err := VectorMax(cfg, buf, n)
	require.NoError(t, err)
	threshold := fraction * absMax

	require.NoError(t, CutOff(cfg, buf, n, threshold, 1, 0))
	stream.Synchronize()

	mask := buf.Float32()
	for i := 0; i < n; i++ {
		want := float32(0)
		if blurred[i] < threshold {
			want = 1
		}
		require.Equal(t, want, mask[i], "pixel %d with value %f", i, blurred[i])
	}
}

// correlationPeak returns the maximum normalized cross-correlation of a
// and b over all cyclic shifts, computed in frequency space. The DFT
// magnitude is translation invariant, so a reconstruction may come back
// shifted; the peak measures similarity regardless.
func correlationPeak(t *testing.T, a, b []float32, width, height int) float64 {
	t.Helper()
	n := width * height

	meanOf := func(x []float32) float64 {
		var s float64
		for _, v := range x[:n] {
			s += float64(v)
		}
		return s / float64(n)
	}
	meanA, meanB := meanOf(a), meanOf(b)

	bufA := make([]complex64, n)
	bufB := make([]complex64, n)
	var normA, normB float64
	for i := 0; i < n; i++ {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		bufA[i] = complex(float32(da), 0)
		bufB[i] = complex(float32(db), 0)
		normA += da * da
		normB += db * db
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	plan, err := fft.NewPlan(width, height)
	require.NoError(t, err)
	require.NoError(t, plan.Forward(bufA, bufA))
	require.NoError(t, plan.Forward(bufB, bufB))

	cross := make([]complex64, n)
	for i := 0; i < n; i++ {
		fa := complex128(bufA[i])
		fb := complex128(bufB[i])
		cross[i] = complex64(fa * complex(real(fb), -imag(fb)))
	}
	require.NoError(t, plan.Inverse(cross))

	peak := math.Inf(-1)
	for i := 0; i < n; i++ {
		// The inverse is unnormalized: divide by n once.
		v := float64(real(cross[i])) / float64(n)
		if v > peak {
			peak = v
		}
	}
	return peak / math.Sqrt(normA*normB)
}

// Identity reconstruction: feeding the magnitude of a known compact-
// support object must reproduce that object (up to the translation and
// inversion ambiguities inherent to magnitude-only data).
func TestShrinkWrapIdentityReconstruction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconstruction in short mode")
	}

	const width, height = 128, 128
	object := CreateFilledCircle(width, height, 0.2)

	intensity, err := DiffractionIntensity(object, width, height)
	require.NoError(t, err)

	stream := defaultContext.CreateStream()
	defer defaultContext.DestroyStream(stream)
	cfg := NewKernelConfig(stream)

	require.NoError(t, ShrinkWrap(cfg, intensity, width, height, DefaultShrinkWrapOptions()))

	// Compare against the object and its point reflection; magnitude
	// data cannot distinguish the twin image.
	flipped := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			flipped[y*width+x] = object[(height-1-y)*width+(width-1-x)]
		}
	}

	corr := correlationPeak(t, intensity, object, width, height)
	corrFlipped := correlationPeak(t, intensity, flipped, width, height)
	if corrFlipped > corr {
		corr = corrFlipped
	}
	assert.Greater(t, corr, 0.95, "reconstruction correlation")
}

// A short reconstruction must produce finite output.
func TestShrinkWrapFiniteOutput(t *testing.T) {
	const width, height = 32, 32
	object := CreateVerticalSingleSlit(width, height, 0.15)

	intensity, err := DiffractionIntensity(object, width, height)
	require.NoError(t, err)

	stream := defaultContext.CreateStream()
	defer defaultContext.DestroyStream(stream)
	cfg := NewKernelConfig(stream)

	opts := DefaultShrinkWrapOptions()
	opts.Cycles = 3
	opts.HioCycles = 5
	require.NoError(t, ShrinkWrap(cfg, intensity, width, height, opts))

	for i, v := range intensity {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0),
			"non-finite output at %d: %f", i, v)
	}
}
