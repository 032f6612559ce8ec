package imresh

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"
)

// Parallel reductions over device buffers. Each launch tiles the input
// across a fixed grid (reduceGridSize blocks of reduceBlockSize threads);
// every thread walks the input with grid stride, accumulating a private
// partial. Warps of WarpSize lanes reduce their partials by a register
// down-sweep, lane 0 merges into the block accumulator by a compare-and-
// swap loop over the float bit pattern, and the block leader merges the
// block value into a single global accumulator the same way.
//
// The accumulation order of the CAS merges depends on scheduling, so sums
// are reproducible only within O(N*eps); min and max are exact.

// traits32 is the capability set a float32 reduction is instantiated
// with: the operator identity and the reducing binary operator.
type traits32 struct {
	identity float32
	combine  func(a, b float32) float32
}

// traits64 is the float64 counterpart of traits32.
type traits64 struct {
	identity float64
	combine  func(a, b float64) float64
}

var (
	minTraits32 = traits32{math32.Inf(1), func(a, b float32) float32 {
		if b < a {
			return b
		}
		return a
	}}
	maxTraits32 = traits32{math32.Inf(-1), func(a, b float32) float32 {
		if b > a {
			return b
		}
		return a
	}}
	sumTraits32 = traits32{0, func(a, b float32) float32 { return a + b }}

	minTraits64 = traits64{math.Inf(1), math.Min}
	maxTraits64 = traits64{math.Inf(-1), math.Max}
	sumTraits64 = traits64{0, func(a, b float64) float64 { return a + b }}
)

// atomicCombine32 merges v into the accumulator behind bits using the
// given operator, retrying on contention.
func atomicCombine32(bits *uint32, v float32, combine func(a, b float32) float32) {
	for {
		old := atomic.LoadUint32(bits)
		next := math.Float32bits(combine(math.Float32frombits(old), v))
		if next == old || atomic.CompareAndSwapUint32(bits, old, next) {
			return
		}
	}
}

// atomicCombine64 is the float64 counterpart of atomicCombine32.
func atomicCombine64(bits *uint64, v float64, combine func(a, b float64) float64) {
	for {
		old := atomic.LoadUint64(bits)
		next := math.Float64bits(combine(math.Float64frombits(old), v))
		if next == old || atomic.CompareAndSwapUint64(bits, old, next) {
			return
		}
	}
}

// reduceBlock32 runs the thread-level traversal and warp down-sweep of a
// single block and returns the block-level partial.
func reduceBlock32(blockIdx, n int, tr traits32, load func(int) float32) float32 {
	blockBits := math.Float32bits(tr.identity)
	stride := reduceGridSize * reduceBlockSize

	var lanes [WarpSize]float32
	for warpBase := 0; warpBase < reduceBlockSize; warpBase += WarpSize {
		// Grid-stride traversal: each lane accumulates a private partial.
		for lane := 0; lane < WarpSize; lane++ {
			partial := tr.identity
			thread := blockIdx*reduceBlockSize + warpBase + lane
			for i := thread; i < n; i += stride {
				partial = tr.combine(partial, load(i))
			}
			lanes[lane] = partial
		}
		// Down-sweep: halve the lane distance each step, warp value in lane 0.
		for offset := WarpSize / 2; offset > 0; offset >>= 1 {
			for lane := 0; lane < offset; lane++ {
				lanes[lane] = tr.combine(lanes[lane], lanes[lane+offset])
			}
		}
		atomicCombine32(&blockBits, lanes[0], tr.combine)
	}
	return math.Float32frombits(blockBits)
}

// reduce32 launches the reduction on the config's stream and blocks until
// the stream reports its completion.
func reduce32(cfg KernelConfig, n int, tr traits32, load func(int) float32) (float32, error) {
	if err := cfg.Check(); err != nil {
		return 0, err
	}
	if n <= 0 {
		return tr.identity, NewInvalidArgError("reduce", "element count must be positive")
	}

	globalBits := math.Float32bits(tr.identity)
	done := make(chan struct{})

	cfg.Stream.Submit(func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(reduceGridSize)
		for b := 0; b < reduceGridSize; b++ {
			go func(blockIdx int) {
				defer wg.Done()
				blockValue := reduceBlock32(blockIdx, n, tr, load)
				atomicCombine32(&globalBits, blockValue, tr.combine)
			}(b)
		}
		wg.Wait()
	})

	<-done
	return math.Float32frombits(globalBits), nil
}

// reduce64 is the float64 counterpart of reduce32. The block level skips
// the lane array and reduces its threads sequentially; the merge pattern
// is the same.
func reduce64(cfg KernelConfig, n int, tr traits64, load func(int) float64) (float64, error) {
	if err := cfg.Check(); err != nil {
		return 0, err
	}
	if n <= 0 {
		return tr.identity, NewInvalidArgError("reduce", "element count must be positive")
	}

	globalBits := math.Float64bits(tr.identity)
	done := make(chan struct{})

	cfg.Stream.Submit(func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(reduceGridSize)
		stride := reduceGridSize * reduceBlockSize
		for b := 0; b < reduceGridSize; b++ {
			go func(blockIdx int) {
				defer wg.Done()
				partial := tr.identity
				for t := 0; t < reduceBlockSize; t++ {
					thread := blockIdx*reduceBlockSize + t
					for i := thread; i < n; i += stride {
						partial = tr.combine(partial, load(i))
					}
				}
				atomicCombine64(&globalBits, partial, tr.combine)
			}(b)
		}
		wg.Wait()
	})

	<-done
	return math.Float64frombits(globalBits), nil
}

// VectorMin returns the minimum of the first n float32 values of data.
func VectorMin(cfg KernelConfig, data DevicePtr, n int) (float32, error) {
	values := data.Float32()
	return reduce32(cfg, n, minTraits32, func(i int) float32 { return values[i] })
}

// VectorMax returns the maximum of the first n float32 values of data.
func VectorMax(cfg KernelConfig, data DevicePtr, n int) (float32, error) {
	values := data.Float32()
	return reduce32(cfg, n, maxTraits32, func(i int) float32 { return values[i] })
}

// VectorSum returns the sum of the first n float32 values of data.
func VectorSum(cfg KernelConfig, data DevicePtr, n int) (float32, error) {
	values := data.Float32()
	return reduce32(cfg, n, sumTraits32, func(i int) float32 { return values[i] })
}

// VectorMin64 returns the minimum of the first n float64 values of data.
func VectorMin64(cfg KernelConfig, data DevicePtr, n int) (float64, error) {
	values := data.Float64()
	return reduce64(cfg, n, minTraits64, func(i int) float64 { return values[i] })
}

// VectorMax64 returns the maximum of the first n float64 values of data.
func VectorMax64(cfg KernelConfig, data DevicePtr, n int) (float64, error) {
	values := data.Float64()
	return reduce64(cfg, n, maxTraits64, func(i int) float64 { return values[i] })
}

// VectorSum64 returns the sum of the first n float64 values of data.
func VectorSum64(cfg KernelConfig, data DevicePtr, n int) (float64, error) {
	values := data.Float64()
	return reduce64(cfg, n, sumTraits64, func(i int) float64 { return values[i] })
}

// HioError computes the masked RMS magnitude of a complex estimate: the
// square root of the total squared magnitude over the pixels that should
// be zero, divided by the number of such pixels. A pixel counts when
// invertMask XOR (isMasked[i] == 1). This is the convergence metric of
// the shrink-wrap driver.
func HioError(cfg KernelConfig, data DevicePtr, isMasked DevicePtr, n int, invertMask bool) (float32, error) {
	if err := cfg.Check(); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, NewInvalidArgError("HioError", "element count must be positive")
	}

	values := data.Complex64()
	mask := isMasked.Float32()

	var totalBits uint32 // float32 bit pattern, CAS-added
	var maskedCount uint64
	done := make(chan struct{})

	cfg.Stream.Submit(func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(reduceGridSize)
		stride := reduceGridSize * reduceBlockSize
		for b := 0; b < reduceGridSize; b++ {
			go func(blockIdx int) {
				defer wg.Done()
				var blockError float32
				var blockCount uint64
				for t := 0; t < reduceBlockSize; t++ {
					thread := blockIdx*reduceBlockSize + t
					for i := thread; i < n; i += stride {
						if invertMask != (mask[i] == 1) {
							re := real(values[i])
							im := imag(values[i])
							blockError += re*re + im*im
							blockCount++
						}
					}
				}
				atomicCombine32(&totalBits, blockError, sumTraits32.combine)
				atomic.AddUint64(&maskedCount, blockCount)
			}(b)
		}
		wg.Wait()
	})

	<-done
	totalError := math.Float32frombits(atomic.LoadUint32(&totalBits))
	return math32.Sqrt(totalError) / float32(atomic.LoadUint64(&maskedCount)), nil
}
