package imresh

import (
	"github.com/chewxy/math32"

	"github.com/mxmlnkn/imresh/fft"
)

// Deterministic test data generators shared by the package tests and the
// example binary.

// GenerateFloat32 generates deterministic float32 test data using a linear
// congruential generator (LCG). This ensures reproducible tests across runs.
func GenerateFloat32(size int, seed uint64) []float32 {
	data := make([]float32, size)
	rng := seed
	for i := range data {
		rng = rng*1103515245 + 12345 // LCG parameters from Numerical Recipes
		data[i] = float32(rng%(1<<32)) / float32(1<<32)
	}
	return data
}

// GenerateFloat32Range generates deterministic float32 data in [min, max).
func GenerateFloat32Range(size int, seed uint64, min, max float32) []float32 {
	data := GenerateFloat32(size, seed)
	scale := max - min
	for i := range data {
		data[i] = data[i]*scale + min
	}
	return data
}

// CreateVerticalSingleSlit draws a centered vertical slit of the given
// width fraction into a new width x height object. Slits are the
// classic compact-support test object for phase retrieval.
func CreateVerticalSingleSlit(width, height int, slitFraction float32) []float32 {
	data := make([]float32, width*height)
	slitHalf := int(float32(width) * slitFraction / 2)
	if slitHalf < 1 {
		slitHalf = 1
	}
	y0, y1 := height/4, 3*height/4
	x0, x1 := width/2-slitHalf, width/2+slitHalf
	for iy := y0; iy < y1; iy++ {
		for ix := x0; ix < x1; ix++ {
			data[iy*width+ix] = 1
		}
	}
	return data
}

// CreateFilledCircle draws a filled circle of the given radius fraction
// centered in a new width x height object.
func CreateFilledCircle(width, height int, radiusFraction float32) []float32 {
	data := make([]float32, width*height)
	smaller := width
	if height < smaller {
		smaller = height
	}
	radius := float32(smaller) * radiusFraction
	cx, cy := float32(width)/2, float32(height)/2
	for iy := 0; iy < height; iy++ {
		for ix := 0; ix < width; ix++ {
			dx := float32(ix) + 0.5 - cx
			dy := float32(iy) + 0.5 - cy
			if dx*dx+dy*dy <= radius*radius {
				data[iy*width+ix] = 1
			}
		}
	}
	return data
}

// CreateCheckeredRectangle draws a rectangle of alternating cellSize
// squares into the central half of a new width x height object.
func CreateCheckeredRectangle(width, height, cellSize int) []float32 {
	data := make([]float32, width*height)
	for iy := height / 4; iy < 3*height/4; iy++ {
		for ix := width / 4; ix < 3*width/4; ix++ {
			if ((ix/cellSize)+(iy/cellSize))%2 == 0 {
				data[iy*width+ix] = 1
			}
		}
	}
	return data
}

// DiffractionIntensity computes the Fourier magnitude of a real object,
// the quantity a diffraction measurement provides after losing the
// phase. The result feeds ShrinkWrap directly.
func DiffractionIntensity(object []float32, width, height int) ([]float32, error) {
	plan, err := fft.NewPlan(width, height)
	if err != nil {
		return nil, err
	}
	n := width * height
	buf := make([]complex64, n)
	for i := 0; i < n; i++ {
		buf[i] = complex(object[i], 0)
	}
	if err := plan.Forward(buf, buf); err != nil {
		return nil, err
	}
	intensity := make([]float32, n)
	for i := 0; i < n; i++ {
		re := real(buf[i])
		im := imag(buf[i])
		intensity[i] = math32.Sqrt(re*re + im*im)
	}
	return intensity, nil
}
