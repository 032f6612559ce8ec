// Package fft provides planned 2-D complex-to-complex Fourier transforms
// for the reconstruction core. A Plan is built once per image size and
// reused across iterations; execution is separable, transforming rows
// and then columns with cached 1-D plans.
//
// The transforms follow the FFTW convention: neither direction rescales,
// so a forward transform followed by an inverse multiplies the input by
// width*height.
package fft

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Plan holds the 1-D sub-plans and scratch buffers for a fixed 2-D size.
// A Plan is not safe for concurrent use; every reconstruction job builds
// its own.
type Plan struct {
	width, height int
	row           *fourier.CmplxFFT
	col           *fourier.CmplxFFT
	rowBuf        []complex128
	rowOut        []complex128
	colBuf        []complex128
	colOut        []complex128
}

// NewPlan builds a plan for transforming width x height complex arrays
// stored in row-major order.
func NewPlan(width, height int) (*Plan, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("fft: invalid plan size %dx%d", width, height)
	}
	return &Plan{
		width:  width,
		height: height,
		row:    fourier.NewCmplxFFT(width),
		col:    fourier.NewCmplxFFT(height),
		rowBuf: make([]complex128, width),
		rowOut: make([]complex128, width),
		colBuf: make([]complex128, height),
		colOut: make([]complex128, height),
	}, nil
}

// transform runs the separable 2-D pass over src into dst. forward
// selects the transform direction; src and dst may alias.
func (p *Plan) transform(dst, src []complex64, forward bool) error {
	n := p.width * p.height
	if len(src) < n || len(dst) < n {
		return errors.Errorf("fft: buffer shorter than plan size %dx%d", p.width, p.height)
	}

	for y := 0; y < p.height; y++ {
		rowStart := y * p.width
		for x := 0; x < p.width; x++ {
			p.rowBuf[x] = complex128(src[rowStart+x])
		}
		out := p.execute1d(p.row, p.rowOut, p.rowBuf, forward)
		for x := 0; x < p.width; x++ {
			dst[rowStart+x] = complex64(out[x])
		}
	}

	for x := 0; x < p.width; x++ {
		for y := 0; y < p.height; y++ {
			p.colBuf[y] = complex128(dst[y*p.width+x])
		}
		out := p.execute1d(p.col, p.colOut, p.colBuf, forward)
		for y := 0; y < p.height; y++ {
			dst[y*p.width+x] = complex64(out[y])
		}
	}
	return nil
}

func (p *Plan) execute1d(f *fourier.CmplxFFT, dst, src []complex128, forward bool) []complex128 {
	if forward {
		return f.Coefficients(dst, src)
	}
	return f.Sequence(dst, src)
}

// Forward computes the out-of-place forward transform dst = DFT(src).
func (p *Plan) Forward(dst, src []complex64) error {
	return p.transform(dst, src, true)
}

// Inverse computes the unnormalized inverse transform in place.
func (p *Plan) Inverse(data []complex64) error {
	return p.transform(data, data, false)
}

// Width returns the plan's row length.
func (p *Plan) Width() int { return p.width }

// Height returns the plan's column length.
func (p *Plan) Height() int { return p.height }
