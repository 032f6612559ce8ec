// Command example reconstructs a set of synthetic diffraction patterns
// through the task queue and writes the results as PNG files.
//
// Usage:
//
//	go run ./cmd/example [output directory]
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mxmlnkn/imresh"
	imreshio "github.com/mxmlnkn/imresh/io"
)

func main() {
	outDir := "."
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := run(outDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	const width, height = 128, 128

	objects := map[string][]float32{
		"slit":      imresh.CreateVerticalSingleSlit(width, height, 0.1),
		"circle":    imresh.CreateFilledCircle(width, height, 0.2),
		"checkered": imresh.CreateCheckeredRectangle(width, height, 8),
	}

	queue, err := imresh.TaskQueueInit()
	if err != nil {
		return errors.Wrap(err, "initializing task queue")
	}
	defer queue.Deinit()

	device := imresh.GetDevice()
	slog.Info("reconstructing",
		"device", device.Name,
		"streams", queue.StreamCount(),
		"jobs", len(objects))

	writeOut := func(data []float32, w, h int, name string) {
		if err := imreshio.WriteOutPNG(data, w, h, name); err != nil {
			slog.Error("writing result", "name", name, "err", err)
			return
		}
		slog.Info("wrote result", "name", name)
	}

	for name, object := range objects {
		intensity, err := imresh.DiffractionIntensity(object, width, height)
		if err != nil {
			return errors.Wrapf(err, "building intensity for %s", name)
		}
		out := filepath.Join(outDir, name+".png")
		queue.AddTask(intensity, width, height, writeOut, out,
			imresh.DefaultShrinkWrapOptions())
	}

	return nil
}
