package imresh

import (
	"log/slog"
	"sync"

	"github.com/chewxy/math32"
)

// Process-wide cache of Gaussian convolution kernels, modeling the
// constant-memory weight region of the device. Entries are keyed by exact
// float32 sigma match: callers pass sigmas drawn from the small discrete
// set produced by the shrink-wrap decay recurrence, so exact equality is
// the intended behavior. A full cache is cleared entirely.
type weightCache struct {
	mu      sync.Mutex
	sigmas  []float32
	lengths []int
	weights [MaxKernelCount * MaxWeightCount]float32 // constant region
}

var gaussianCache weightCache

// The half-width is chosen so that the truncated tails of the sampled
// Gaussian carry less than a fixed absolute error; the constant is the
// corresponding inverse-erf factor.
const gaussianHalfWidthFactor = 2.884402748387961

// gaussianKernelHalfWidth returns the number of neighbors on each side of
// the center sample for the given standard deviation.
func gaussianKernelHalfWidth(sigma float32) int {
	return int(math32.Ceil(gaussianHalfWidthFactor*sigma - 0.5))
}

// calcGaussianWeights samples a normalized Gaussian into weights and
// returns the number of samples written: 2n+1 for half-width n.
// The weights slice must hold at least that many values.
func calcGaussianWeights(sigma float32, weights []float32) (int, error) {
	if sigma <= 0 {
		return 0, NewInvalidArgError("calcGaussianWeights", "sigma must be positive")
	}
	n := gaussianKernelHalfWidth(sigma)
	count := 2*n + 1
	if count > len(weights) {
		return 0, NewInvalidArgError("calcGaussianWeights", "kernel exceeds maximum weight count")
	}

	norm := 1 / (math32.Sqrt(2*math32.Pi) * sigma)
	var sum float32
	for i := -n; i <= n; i++ {
		w := norm * math32.Exp(-float32(i*i)/(2*sigma*sigma))
		weights[i+n] = w
		sum += w
	}
	for i := 0; i < count; i++ {
		weights[i] /= sum
	}
	return count, nil
}

// lookup returns the cached weight table for sigma, inserting it on miss.
// The returned slice aliases the constant region and stays valid until
// the next cache reset.
func (c *weightCache) lookup(sigma float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.sigmas {
		if s == sigma {
			return c.weights[i*MaxWeightCount : i*MaxWeightCount+c.lengths[i]], nil
		}
	}

	if len(c.sigmas) >= MaxKernelCount {
		slog.Warn("gaussian weight cache full, clearing all entries",
			"capacity", MaxKernelCount, "sigma", sigma)
		c.sigmas = c.sigmas[:0]
		c.lengths = c.lengths[:0]
	}

	slot := len(c.sigmas)
	count, err := calcGaussianWeights(sigma, c.weights[slot*MaxWeightCount:(slot+1)*MaxWeightCount])
	if err != nil {
		return nil, err
	}
	c.sigmas = append(c.sigmas, sigma)
	c.lengths = append(c.lengths, count)
	return c.weights[slot*MaxWeightCount : slot*MaxWeightCount+count], nil
}

// size returns the number of cached kernels.
func (c *weightCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sigmas)
}

// reset drops all cached kernels.
func (c *weightCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigmas = c.sigmas[:0]
	c.lengths = c.lengths[:0]
}
