package imresh

import (
	"log/slog"
	"sync"
)

// WriteOutFunc receives the reconstructed real-valued buffer, its
// dimensions and an opaque identifier (typically the output filename).
// Ownership of the buffer is not transferred; the callback must copy what
// it needs. Callbacks from different workers run concurrently and must be
// thread-safe.
type WriteOutFunc func(data []float32, width, height int, name string)

// StreamDescriptor pairs a device index with one of its streams.
type StreamDescriptor struct {
	Device int
	Stream *Stream
}

// taskWorker is the join handle of one queue worker.
type taskWorker struct {
	done   chan struct{}
	joined bool
}

// join waits for the worker to finish. It reports false when the worker
// was already joined and cannot be joined again.
func (w *taskWorker) join() bool {
	if w == nil || w.joined {
		return false
	}
	w.joined = true
	<-w.done
	return true
}

// TaskQueue multiplexes independent reconstruction jobs over all
// discovered (device, stream) pairs so that a many-core host stays
// saturated. Each discovered device contributes one stream per
// multiprocessor; the worker pool is bounded by the total stream count.
//
// AddTask and Deinit are intended for a single submitting goroutine; the
// queue's own mutex serializes device selection and the reconstruction
// calls of its workers.
type TaskQueue struct {
	mu         sync.Mutex // serializes stream rotation and the entire reconstruction call
	streams    []StreamDescriptor
	workers    []*taskWorker
	maxThreads int
}

// TaskQueueInit enumerates devices, creates one stream per
// multiprocessor on each, and sizes the worker pool to the total stream
// count. It fails when no device with multiprocessors is found.
func TaskQueueInit() (*TaskQueue, error) {
	q := &TaskQueue{}
	for id := 0; id < GetDeviceCount(); id++ {
		dev, err := GetDeviceProperties(id)
		if err != nil {
			return nil, err
		}
		if dev.MultiprocessorCount <= 0 {
			continue
		}
		if err := SetDevice(id); err != nil {
			return nil, err
		}
		for i := 0; i < dev.MultiprocessorCount; i++ {
			q.streams = append(q.streams, StreamDescriptor{
				Device: id,
				Stream: defaultContext.CreateStream(),
			})
		}
		slog.Info("task queue initialized device",
			"device", id, "name", dev.Name, "streams", dev.MultiprocessorCount)
	}
	if len(q.streams) == 0 {
		return nil, ErrNoDevices
	}
	q.maxThreads = len(q.streams)
	return q, nil
}

// StreamCount returns the number of (device, stream) pairs the queue
// dispatches over.
func (q *TaskQueue) StreamCount() int {
	return len(q.streams)
}

// nextStream pops the head stream descriptor and pushes it to the back,
// so successive jobs round-robin over all streams in FIFO order. The
// caller must hold q.mu.
func (q *TaskQueue) nextStream() StreamDescriptor {
	sd := q.streams[0]
	q.streams = append(q.streams[1:], sd)
	return sd
}

// AddTask submits one reconstruction job. The call is non-blocking while
// the pool has capacity and joins the oldest worker when saturated. The
// caller must not touch data until writeOut fires; writeOut runs without
// the queue lock.
func (q *TaskQueue) AddTask(
	data []float32,
	width, height int,
	writeOut WriteOutFunc,
	name string,
	opts ShrinkWrapOptions,
) {
	if q.maxThreads == 0 {
		slog.Warn("task queue has no capacity, dropping task", "name", name)
		return
	}

	if len(q.workers) >= q.maxThreads {
		oldest := q.workers[0]
		q.workers = q.workers[1:]
		if !oldest.join() {
			slog.Warn("dropping non-joinable worker", "name", name)
		}
	}

	worker := &taskWorker{done: make(chan struct{})}
	q.workers = append(q.workers, worker)

	go func() {
		defer close(worker.done)

		q.mu.Lock()
		sd := q.nextStream()
		if err := SetDevice(sd.Device); err != nil {
			q.mu.Unlock()
			slog.Error("selecting device failed", "device", sd.Device, "err", err)
			panic(err)
		}
		err := ShrinkWrap(NewKernelConfig(sd.Stream), data, width, height, opts)
		q.mu.Unlock()

		if err != nil {
			if IsInvalidArgError(err) {
				slog.Error("rejecting reconstruction task", "name", name, "err", err)
				return
			}
			// A device fault invalidates all in-flight buffers; there
			// is nothing to retry.
			slog.Error("reconstruction failed", "name", name, "err", err)
			panic(err)
		}

		writeOut(data, width, height, name)
	}()
}

// Deinit joins all workers and destroys all streams. The queue accepts
// no tasks afterwards.
func (q *TaskQueue) Deinit() {
	q.maxThreads = 0
	for _, worker := range q.workers {
		worker.join()
	}
	q.workers = nil
	for _, sd := range q.streams {
		defaultContext.DestroyStream(sd.Stream)
	}
	q.streams = nil
}
