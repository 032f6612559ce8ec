package imresh

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueInit(t *testing.T) {
	queue, err := TaskQueueInit()
	require.NoError(t, err)
	defer queue.Deinit()

	device := GetDevice()
	assert.Equal(t, device.MultiprocessorCount, queue.StreamCount(),
		"one stream per multiprocessor")
	assert.Positive(t, queue.StreamCount())
}

// With S streams, 4S dequeues must visit every stream exactly 4 times,
// in FIFO round-robin order.
func TestTaskQueueRoundRobin(t *testing.T) {
	queue, err := TaskQueueInit()
	require.NoError(t, err)
	defer queue.Deinit()

	s := queue.StreamCount()
	firstRound := make([]int, 0, s)
	counts := map[int]int{}

	queue.mu.Lock()
	for i := 0; i < 4*s; i++ {
		sd := queue.nextStream()
		if i < s {
			firstRound = append(firstRound, sd.Stream.ID())
		}
		counts[sd.Stream.ID()]++
		// Rotation is periodic: job i and job i+s land on the same stream.
		assert.Equal(t, firstRound[i%s], sd.Stream.ID(), "job %d", i)
	}
	queue.mu.Unlock()

	assert.Len(t, counts, s)
	for id, c := range counts {
		assert.Equal(t, 4, c, "stream %d", id)
	}
}

func TestTaskQueueRunsJobs(t *testing.T) {
	const width, height = 32, 32

	queue, err := TaskQueueInit()
	require.NoError(t, err)

	object := CreateFilledCircle(width, height, 0.2)

	opts := DefaultShrinkWrapOptions()
	opts.Cycles = 2
	opts.HioCycles = 2

	// More jobs than streams, so AddTask also exercises the join-oldest
	// path of the saturated pool.
	numJobs := 2*queue.StreamCount() + 3

	var completed int64
	var mu sync.Mutex
	names := map[string]bool{}
	buffers := make([][]float32, numJobs)

	for i := 0; i < numJobs; i++ {
		intensity, err := DiffractionIntensity(object, width, height)
		require.NoError(t, err)
		buffers[i] = intensity

		name := string(rune('a' + i%26))
		queue.AddTask(intensity, width, height,
			func(data []float32, w, h int, n string) {
				assert.Equal(t, width, w)
				assert.Equal(t, height, h)
				assert.NotNil(t, data)
				atomic.AddInt64(&completed, 1)
				mu.Lock()
				names[n] = true
				mu.Unlock()
			}, name, opts)
	}

	queue.Deinit()

	assert.Equal(t, int64(numJobs), atomic.LoadInt64(&completed),
		"every job must invoke its write-out callback")
	assert.NotEmpty(t, names)
}

// An invalid job is rejected with a log entry; the queue keeps running.
func TestTaskQueueRejectsInvalidJob(t *testing.T) {
	queue, err := TaskQueueInit()
	require.NoError(t, err)
	defer queue.Deinit()

	called := false
	queue.AddTask(nil, 16, 16, func([]float32, int, int, string) {
		called = true
	}, "bad", DefaultShrinkWrapOptions())

	// Wait for the worker to finish.
	queue.Deinit()
	assert.False(t, called, "write-out must not fire for rejected jobs")
}

// After Deinit the queue drops tasks instead of spawning workers.
func TestTaskQueueAfterDeinit(t *testing.T) {
	queue, err := TaskQueueInit()
	require.NoError(t, err)
	queue.Deinit()

	called := false
	queue.AddTask(make([]float32, 16), 4, 4, func([]float32, int, int, string) {
		called = true
	}, "late", DefaultShrinkWrapOptions())
	assert.False(t, called)
}
