package imresh

import (
	"math"
	"testing"

	"github.com/chewxy/math32"
)

// serial references the parallel reductions are compared against

func serialMin(data []float32) float32 {
	m := math32.Inf(1)
	for _, v := range data {
		if v < m {
			m = v
		}
	}
	return m
}

func serialMax(data []float32) float32 {
	m := math32.Inf(-1)
	for _, v := range data {
		if v > m {
			m = v
		}
	}
	return m
}

func serialSum(data []float32) float64 {
	var s float64
	for _, v := range data {
		s += float64(v)
	}
	return s
}

func deviceBufferFrom(t *testing.T, data []float32) DevicePtr {
	t.Helper()
	buf, err := Malloc(len(data) * 4)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	t.Cleanup(func() { Free(buf) })
	copy(buf.Float32(), data)
	return buf
}

func TestVectorReduceLengthOne(t *testing.T) {
	cfg := DefaultKernelConfig()
	buf := deviceBufferFrom(t, []float32{0.371})

	if v, err := VectorMin(cfg, buf, 1); err != nil || v != 0.371 {
		t.Errorf("VectorMin = %f, %v; want 0.371", v, err)
	}
	if v, err := VectorMax(cfg, buf, 1); err != nil || v != 0.371 {
		t.Errorf("VectorMax = %f, %v; want 0.371", v, err)
	}
	if v, err := VectorSum(cfg, buf, 1); err != nil || v != 0.371 {
		t.Errorf("VectorSum = %f, %v; want 0.371", v, err)
	}
}

// Min and max are order-independent, so they must match the serial
// reference exactly. An obvious extremum is planted at varying positions
// to exercise all grid-stride offsets.
func TestVectorMinMaxObviousValue(t *testing.T) {
	const obviousMaximum = 7.37519
	const obviousMinimum = -7.37519

	sizes := []int{2, 31, 32, 33, 1023, 1024, 123456, 1 << 20}
	for _, n := range sizes {
		data := GenerateFloat32Range(n, uint64(n), -0.5, 0.5)
		pos := (n * 7) / 11
		buf := deviceBufferFrom(t, data)
		cfg := DefaultKernelConfig()

		buf.Float32()[pos] = obviousMaximum
		if v, err := VectorMax(cfg, buf, n); err != nil || v != obviousMaximum {
			t.Errorf("n=%d: VectorMax = %v, %v; want %v", n, v, err, obviousMaximum)
		}

		buf.Float32()[pos] = obviousMinimum
		if v, err := VectorMin(cfg, buf, n); err != nil || v != obviousMinimum {
			t.Errorf("n=%d: VectorMin = %v, %v; want %v", n, v, err, obviousMinimum)
		}
	}
}

func TestVectorSumTolerance(t *testing.T) {
	sizes := []int{2, 64, 4096, 1 << 20}
	for _, n := range sizes {
		data := GenerateFloat32Range(n, uint64(n)+17, -1, 1)
		buf := deviceBufferFrom(t, data)
		cfg := DefaultKernelConfig()

		got, err := VectorSum(cfg, buf, n)
		if err != nil {
			t.Fatalf("n=%d: VectorSum failed: %v", n, err)
		}
		want := serialSum(data)

		// Order-dependent accumulation admits O(n*eps) relative error
		// against the magnitude of the summands.
		absSum := 0.0
		for _, v := range data {
			absSum += math.Abs(float64(v))
		}
		tolerance := float64(n) * 1.1920929e-7 * absSum
		if math.Abs(float64(got)-want) > tolerance+1e-6 {
			t.Errorf("n=%d: VectorSum = %v, serial = %v, tolerance %v", n, got, want, tolerance)
		}
	}
}

func TestVectorReduce64(t *testing.T) {
	const n = 8192
	data32 := GenerateFloat32Range(n, 99, -3, 3)
	data := make([]float64, n)
	for i, v := range data32 {
		data[i] = float64(v)
	}

	buf, err := Malloc(n * 8)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(buf)
	copy(buf.Float64(), data)

	cfg := DefaultKernelConfig()

	wantMin, wantMax, wantSum := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range data {
		wantMin = math.Min(wantMin, v)
		wantMax = math.Max(wantMax, v)
		wantSum += v
	}

	if v, err := VectorMin64(cfg, buf, n); err != nil || v != wantMin {
		t.Errorf("VectorMin64 = %v, %v; want %v", v, err, wantMin)
	}
	if v, err := VectorMax64(cfg, buf, n); err != nil || v != wantMax {
		t.Errorf("VectorMax64 = %v, %v; want %v", v, err, wantMax)
	}
	if v, err := VectorSum64(cfg, buf, n); err != nil || math.Abs(v-wantSum) > 1e-9*float64(n) {
		t.Errorf("VectorSum64 = %v, %v; want %v", v, err, wantSum)
	}
}

func TestReduceInvalidLength(t *testing.T) {
	cfg := DefaultKernelConfig()
	buf := deviceBufferFrom(t, []float32{1})
	if _, err := VectorMax(cfg, buf, 0); err == nil {
		t.Error("VectorMax with n=0 should fail")
	}
	if _, err := HioError(cfg, buf, buf, -1, false); err == nil {
		t.Error("HioError with negative n should fail")
	}
}

// Every masked pixel holds (re, im) = (3, 4); unmasked pixels are
// random. For a mask with k ones the masked RMS error is
// sqrt(25k)/k = 5/sqrt(k).
func TestHioErrorPythagorean(t *testing.T) {
	sizes := []int{2, 64, 1024, 1 << 20}
	for _, n := range sizes {
		values, err := Malloc(n * 8)
		if err != nil {
			t.Fatalf("Malloc failed: %v", err)
		}
		mask, err := Malloc(n * 4)
		if err != nil {
			t.Fatalf("Malloc failed: %v", err)
		}

		complexData := values.Complex64()
		maskData := mask.Float32()
		randRe := GenerateFloat32Range(n, uint64(n)+3, -9, 9)
		randIm := GenerateFloat32Range(n, uint64(n)+4, -9, 9)
		randMask := GenerateFloat32(n, uint64(n)+5)

		k := 0
		for i := 0; i < n; i++ {
			if randMask[i] < 0.5 {
				maskData[i] = 1
				complexData[i] = complex(3, 4)
				k++
			} else {
				maskData[i] = 0
				complexData[i] = complex(randRe[i], randIm[i])
			}
		}
		if k == 0 {
			maskData[0] = 1
			complexData[0] = complex(3, 4)
			k = 1
		}

		cfg := DefaultKernelConfig()
		got, err := HioError(cfg, values, mask, n, false)
		if err != nil {
			t.Fatalf("HioError failed: %v", err)
		}
		want := 5 / math32.Sqrt(float32(k))
		tol := ReductionTolerance(n)
		tol.RelTol *= 4
		if !Float32NearEqual(got, want, tol) {
			t.Errorf("n=%d k=%d: HioError = %v, want %v", n, k, got, want)
		}

		Free(values)
		Free(mask)
	}
}

// With a mask of all ones the error equals the L2 norm of the complex
// array divided by N.
func TestHioErrorFullMask(t *testing.T) {
	const n = 4096
	values, _ := Malloc(n * 8)
	mask, _ := Malloc(n * 4)
	defer Free(values)
	defer Free(mask)

	complexData := values.Complex64()
	maskData := mask.Float32()
	randRe := GenerateFloat32Range(n, 21, -2, 2)
	randIm := GenerateFloat32Range(n, 22, -2, 2)

	var sumSquares float64
	for i := 0; i < n; i++ {
		maskData[i] = 1
		complexData[i] = complex(randRe[i], randIm[i])
		sumSquares += float64(randRe[i])*float64(randRe[i]) + float64(randIm[i])*float64(randIm[i])
	}

	cfg := DefaultKernelConfig()
	got, err := HioError(cfg, values, mask, n, false)
	if err != nil {
		t.Fatalf("HioError failed: %v", err)
	}
	want := float32(math.Sqrt(sumSquares) / n)
	tol := ReductionTolerance(n)
	tol.RelTol *= 4
	if !Float32NearEqual(got, want, tol) {
		t.Errorf("HioError = %v, want %v", got, want)
	}

	// Inverting the mask counts nothing: zero total over zero pixels.
	inverted, err := HioError(cfg, values, mask, n, true)
	if err != nil {
		t.Fatalf("HioError inverted failed: %v", err)
	}
	if !math.IsNaN(float64(inverted)) && inverted != 0 {
		t.Errorf("inverted full mask should count no pixels, got %v", inverted)
	}
}
