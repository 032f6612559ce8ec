// Package imresh reconstructs real-valued 2-D objects from measured
// diffraction intensities (Fourier magnitudes) whose phase information has
// been lost. It implements the shrink-wrap variant of Fienup's hybrid
// input-output (HIO) algorithm on a SIMT-style device runtime executed on
// the host CPU.
//
// Example usage:
//
//	cfg := imresh.DefaultKernelConfig()
//	// intensity is a width*height float32 diffraction pattern
//	err := imresh.ShrinkWrap(cfg, intensity, width, height,
//	    imresh.DefaultShrinkWrapOptions())
//
// Many independent reconstructions are best driven through the TaskQueue,
// which multiplexes jobs over all (device, stream) pairs.
package imresh

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Device represents a compute device. Here this is the host CPU with its
// cores and available memory. Each device has a unique ID and capabilities.
type Device struct {
	ID                  int    // Unique device identifier
	Name                string // Human-readable device name
	TotalMem            uint64 // Total available memory in bytes
	MultiprocessorCount int    // Number of independent multiprocessors (cores)
	MaxThreads          int    // Maximum concurrent threads
}

// Context represents an execution context for device operations.
// It manages device resources, memory allocation, and stream execution.
type Context struct {
	device        *Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
}

// Stream represents an ordered sequence of device operations that execute
// asynchronously with respect to the host. Operations within a stream
// execute in submission order; operations in different streams are
// unordered with respect to each other.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// Dim3 represents 3D dimensions for grid and block configurations.
type Dim3 struct {
	X, Y, Z int
}

// ThreadID identifies a thread's position within the launch hierarchy,
// with the same indexing semantics as blockIdx, threadIdx, blockDim and
// gridDim on a real SIMT device.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// Kernel represents a compute kernel that can be executed in parallel.
// Implementations must be safe for concurrent Execute calls.
type Kernel interface {
	Execute(tid ThreadID, args ...interface{})
}

// KernelFunc is a function that can be launched as a kernel.
type KernelFunc func(tid ThreadID, args ...interface{})

// DevicePtr represents a pointer to device memory. Use the typed view
// methods (Float32, Complex64, ...) to access the underlying data.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// Global runtime state
var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

func init() {
	initOnce.Do(func() {
		defaultDevice = &Device{
			ID:                  0,
			Name:                deviceName(),
			TotalMem:            getSystemMemory(),
			MultiprocessorCount: runtime.NumCPU(),
			MaxThreads:          runtime.NumCPU() * 2,
		}

		defaultContext = &Context{
			device:  defaultDevice,
			streams: make(map[int]*Stream),
			memory:  NewMemoryPool(),
		}

		defaultContext.defaultStream = defaultContext.CreateStream()
	})
}

// Malloc allocates device memory of the specified size in bytes.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases device memory allocated by Malloc.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies memory between host and device.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// MemcpyAsync submits a copy to the given stream. The copy executes in
// submission order relative to kernels launched on the same stream.
func MemcpyAsync(dst, src interface{}, size int, kind MemcpyKind, stream *Stream) error {
	return defaultContext.MemcpyAsync(dst, src, size, kind, stream)
}

// Launch executes a kernel on the default stream.
func Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return defaultContext.Launch(kernel, grid, block, args...)
}

// LaunchFunc executes a kernel function on the default stream.
func LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return defaultContext.LaunchFunc(fn, grid, block, args...)
}

// Synchronize waits for all operations on all streams to complete.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// GetDevice returns the current device information.
func GetDevice() *Device {
	return defaultDevice
}

// SetDevice sets the active device. Only device 0 exists on this runtime,
// so any other ID is an error; the call is otherwise a no-op kept for
// drivers that are written against multi-GPU hosts.
func SetDevice(id int) error {
	if id != 0 {
		return ErrInvalidDevice
	}
	return nil
}

// GetDeviceCount returns the number of available devices.
func GetDeviceCount() int {
	return 1
}

// GetDeviceProperties returns device properties for the given device ID.
func GetDeviceProperties(id int) (*Device, error) {
	if id != 0 {
		return nil, NewInvalidArgError("GetDeviceProperties", "invalid device ID")
	}
	return defaultDevice, nil
}

// Context methods

// CreateStream creates a new execution stream backed by a worker that
// drains submitted tasks in order.
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}

	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// DestroyStream tears down a stream after draining it.
func (ctx *Context) DestroyStream(s *Stream) {
	if s == nil || s == ctx.defaultStream {
		return
	}
	s.wg.Wait()
	close(s.tasks)
	<-s.done

	ctx.mu.Lock()
	delete(ctx.streams, s.id)
	ctx.mu.Unlock()
}

// Launch executes a kernel on the default stream.
func (ctx *Context) Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchStream(kernel, grid, block, ctx.defaultStream, args...)
}

// LaunchFunc executes a kernel function on the default stream.
func (ctx *Context) LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchFuncStream(fn, grid, block, ctx.defaultStream, args...)
}

// LaunchStream executes a kernel on a specific stream.
func (ctx *Context) LaunchStream(kernel Kernel, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(kernel.Execute, grid, block, stream, args...)
}

// LaunchFuncStream executes a kernel function on a specific stream.
func (ctx *Context) LaunchFuncStream(fn KernelFunc, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(fn, grid, block, stream, args...)
}

// Synchronize waits for all streams to complete.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	for _, stream := range streams {
		stream.Synchronize()
	}
	return nil
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete. The return
// provides a happens-before edge to any subsequent host read of buffers
// written by tasks on this stream.
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Submit adds a task to the stream.
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}

// ID returns the stream identifier, unique within the owning context.
func (s *Stream) ID() int {
	if s == nil {
		return 0
	}
	return s.id
}

// Helper functions

// Global returns the global linear thread index
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// Execute implements Kernel for KernelFunc.
func (fn KernelFunc) Execute(tid ThreadID, args ...interface{}) {
	fn(tid, args...)
}
