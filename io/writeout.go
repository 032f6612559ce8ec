// Package io provides write-out callbacks for reconstructed buffers and
// the symmetric reader used by tests and the example binary. The
// reconstruction core itself performs no I/O; it hands finished buffers
// to a WriteOutFunc and these helpers are ready-made implementations.
package io

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// WriteOutPNG renders a width x height float32 buffer as an 8-bit
// grayscale PNG, normalized by the buffer maximum. NaN pixels render
// red so numerical faults stay visible in the diagnostic output.
func WriteOutPNG(mem []float32, width, height int, filename string) error {
	return writePNG(mem, width, height, filename, 0)
}

// WriteOutPNGScaled behaves like WriteOutPNG but downscales the image so
// that its longer edge is maxEdge pixels, for thumbnail diagnostics of
// large reconstructions.
func WriteOutPNGScaled(mem []float32, width, height int, filename string, maxEdge int) error {
	return writePNG(mem, width, height, filename, maxEdge)
}

func writePNG(mem []float32, width, height int, filename string, maxEdge int) error {
	if width <= 0 || height <= 0 || len(mem) < width*height {
		return errors.Errorf("io: buffer shorter than %dx%d", width, height)
	}

	max := mem[0]
	for _, v := range mem[:width*height] {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for iy := 0; iy < height; iy++ {
		for ix := 0; ix < width; ix++ {
			value := mem[iy*width+ix] / max
			if value != value { // NaN
				img.SetNRGBA(ix, iy, color.NRGBA{R: 255, A: 255})
				continue
			}
			if value < 0 {
				value = 0
			} else if value > 1 {
				value = 1
			}
			gray := uint8(value*255 + 0.5)
			img.SetNRGBA(ix, iy, color.NRGBA{R: gray, G: gray, B: gray, A: 255})
		}
	}

	var out image.Image = img
	if maxEdge > 0 && (width > maxEdge || height > maxEdge) {
		if width >= height {
			out = resize.Resize(uint(maxEdge), 0, img, resize.Lanczos3)
		} else {
			out = resize.Resize(0, uint(maxEdge), img, resize.Lanczos3)
		}
	}

	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "io: creating %s", filename)
	}
	defer f.Close()

	if err := png.Encode(f, out); err != nil {
		return errors.Wrapf(err, "io: encoding %s", filename)
	}
	return nil
}

// ReadPNG loads a grayscale PNG into a float32 buffer in [0,1], the
// symmetric reader to WriteOutPNG.
func ReadPNG(filename string) ([]float32, int, int, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "io: opening %s", filename)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "io: decoding %s", filename)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	mem := make([]float32, width*height)
	for iy := 0; iy < height; iy++ {
		for ix := 0; ix < width; ix++ {
			r, g, b, _ := img.At(bounds.Min.X+ix, bounds.Min.Y+iy).RGBA()
			// Luminance of the 16-bit channels, scaled to [0,1].
			mem[iy*width+ix] = float32(0.299*float64(r)+0.587*float64(g)+0.114*float64(b)) / 65535
		}
	}
	return mem, width, height, nil
}
