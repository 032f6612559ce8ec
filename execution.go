package imresh

import (
	"runtime"
	"sync"
)

// launchInternal implements the core kernel execution logic. The grid of
// blocks is tiled over a bounded set of host workers; threads within a
// block run sequentially, which maximizes cache reuse and needs no
// intra-block synchronization for the pure map kernels launched this way.
// Cooperative kernels (reductions, the blur's sliding window) have their
// own block-level launchers and do not go through here.
func (ctx *Context) launchInternal(
	kernelFunc func(ThreadID, ...interface{}),
	grid, block Dim3,
	stream *Stream,
	args ...interface{},
) error {
	gridSize := grid.Size()
	blockSize := block.Size()

	if stream == nil {
		stream = ctx.defaultStream
	}

	// Handle edge case where grid size is zero
	if gridSize == 0 {
		// Submit an empty task to maintain stream ordering
		stream.Submit(func() {})
		return nil
	}

	numWorkers := runtime.NumCPU()
	if gridSize < numWorkers {
		numWorkers = gridSize
	}

	// Cache-aware scheduling: each worker processes multiple blocks
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for workerID := 0; workerID < numWorkers; workerID++ {
			wID := workerID
			startBlock := wID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}

			go func() {
				defer wg.Done()

				for blockID := startBlock; blockID < endBlock; blockID++ {
					blockIdx := linearTo3D(blockID, grid)

					for threadID := 0; threadID < blockSize; threadID++ {
						threadIdx := linearTo3D(threadID, block)

						tid := ThreadID{
							BlockIdx:  blockIdx,
							ThreadIdx: threadIdx,
							BlockDim:  block,
							GridDim:   grid,
						}

						kernelFunc(tid, args...)
					}
				}
			}()
		}

		wg.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// runBlocks executes fn once per block of the given one-dimensional grid,
// tiling the blocks over host workers, as one stream task. Kernels whose
// blocks cooperate internally (shared accumulators, sliding windows) are
// built on this instead of launchInternal.
func runBlocks(stream *Stream, numBlocks int, fn func(blockIdx int)) {
	if stream == nil {
		stream = defaultContext.defaultStream
	}
	if numBlocks == 0 {
		stream.Submit(func() {})
		return
	}

	numWorkers := runtime.NumCPU()
	if numBlocks < numWorkers {
		numWorkers = numBlocks
	}
	blocksPerWorker := (numBlocks + numWorkers - 1) / numWorkers

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)
		for workerID := 0; workerID < numWorkers; workerID++ {
			start := workerID * blocksPerWorker
			end := start + blocksPerWorker
			if end > numBlocks {
				end = numBlocks
			}
			go func(start, end int) {
				defer wg.Done()
				for blockID := start; blockID < end; blockID++ {
					fn(blockID)
				}
			}(start, end)
		}
		wg.Wait()
	})
}

// ForEach applies a function to each element in parallel on the default
// stream.
func ForEach(data DevicePtr, size int, fn func(idx int, val *float32)) error {
	grid := Dim3{X: (size + DefaultBlockSize - 1) / DefaultBlockSize, Y: 1, Z: 1}
	block := Dim3{X: DefaultBlockSize, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < size {
			slice := data.Float32()
			fn(idx, &slice[idx])
		}
	})

	return Launch(kernel, grid, block, data, size)
}
