package imresh

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of memory transfer. On this runtime
// host and device share an address space, but the direction is kept so
// that drivers read like their GPU counterparts.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
	MemcpyDefault                          // Default transfer (infer direction)
)

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead and memory fragmentation.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	keepAlive  map[uintptr][]byte
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	ptr  unsafe.Pointer
	size int
	used bool
}

// NewMemoryPool creates a new memory pool for device allocations.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
		keepAlive: make(map[uintptr][]byte),
	}
}

// Malloc allocates device memory of the specified size in bytes.
// The memory is aligned for optimal SIMD performance.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc.
// The memory may be retained in the pool for future allocations.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// memoryView resolves a Memcpy operand to a raw pointer.
func memoryView(v interface{}) (unsafe.Pointer, error) {
	switch x := v.(type) {
	case DevicePtr:
		return x.ptr, nil
	case unsafe.Pointer:
		return x, nil
	case []byte:
		if len(x) > 0 {
			return unsafe.Pointer(&x[0]), nil
		}
	case []float32:
		if len(x) > 0 {
			return unsafe.Pointer(&x[0]), nil
		}
	case []float64:
		if len(x) > 0 {
			return unsafe.Pointer(&x[0]), nil
		}
	case []complex64:
		if len(x) > 0 {
			return unsafe.Pointer(&x[0]), nil
		}
	case []int32:
		if len(x) > 0 {
			return unsafe.Pointer(&x[0]), nil
		}
	default:
		return nil, NewInvalidArgError("Memcpy", fmt.Sprintf("unsupported operand type: %T", v))
	}
	return nil, nil
}

// Memcpy copies memory between host and device synchronously.
// Supports DevicePtr operands and Go slices of the element types used by
// the reconstruction kernels.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	dstPtr, err := memoryView(dst)
	if err != nil {
		return err
	}
	srcPtr, err := memoryView(src)
	if err != nil {
		return err
	}

	if dstPtr != nil && srcPtr != nil && size > 0 {
		copy((*[1 << 30]byte)(dstPtr)[:size:size], (*[1 << 30]byte)(srcPtr)[:size:size])
	}
	return nil
}

// MemcpyAsync submits the copy to a stream so that it is ordered after all
// previously submitted work on that stream. The operands must stay valid
// until the stream is synchronized.
func (ctx *Context) MemcpyAsync(dst, src interface{}, size int, kind MemcpyKind, stream *Stream) error {
	// Resolve operands eagerly so that argument errors surface at the
	// submission site, not inside the stream worker.
	dstPtr, err := memoryView(dst)
	if err != nil {
		return err
	}
	srcPtr, err := memoryView(src)
	if err != nil {
		return err
	}
	if stream == nil {
		stream = ctx.defaultStream
	}

	stream.Submit(func() {
		if dstPtr != nil && srcPtr != nil && size > 0 {
			copy((*[1 << 30]byte)(dstPtr)[:size:size], (*[1 << 30]byte)(srcPtr)[:size:size])
		}
	})
	return nil
}

// MemoryPool methods

// Allocate allocates memory from the pool
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	const alignment = MemoryAlignment
	alignedSize := (size + alignment - 1) &^ (alignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true

			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}

			return DevicePtr{
				ptr:  alloc.ptr,
				size: size,
			}, nil
		}
	}

	buf := make([]byte, alignedSize)
	ptr := unsafe.Pointer(&buf[0])

	alloc := &allocation{
		ptr:  ptr,
		size: alignedSize,
		used: true,
	}

	mp.allocated[uintptr(ptr)] = alloc
	// The pool holds the backing slice so the GC cannot reclaim it while a
	// DevicePtr still references the memory.
	mp.keepAlive[uintptr(ptr)] = buf
	runtime.KeepAlive(buf)

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{
		ptr:  ptr,
		size: size,
	}, nil
}

// Free returns memory to the pool
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	allocPtr := uintptr(ptr.ptr)
	alloc, ok := mp.allocated[allocPtr]
	if !ok {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}

	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)

	return nil
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// DevicePtr methods for convenience

// Float32 returns a float32 slice view of the device memory.
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return (*[1 << 28]float32)(d.ptr)[: d.size/4 : d.size/4]
}

// Float64 returns a float64 slice view of the device memory.
func (d DevicePtr) Float64() []float64 {
	if d.ptr == nil {
		return nil
	}
	return (*[1 << 27]float64)(d.ptr)[: d.size/8 : d.size/8]
}

// Complex64 returns a complex64 slice view of the device memory. The
// evolving object estimates g and g' are stored in this layout.
func (d DevicePtr) Complex64() []complex64 {
	if d.ptr == nil {
		return nil
	}
	return (*[1 << 27]complex64)(d.ptr)[: d.size/8 : d.size/8]
}

// Byte returns a byte slice view of the entire memory region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return (*[1 << 30]byte)(d.ptr)[:d.size:d.size]
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// The returned DevicePtr shares the same underlying memory.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Pointer(uintptr(d.ptr) + uintptr(bytes)),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region
func (d DevicePtr) Size() int {
	return d.size
}

// IsNil reports whether the pointer references no memory.
func (d DevicePtr) IsNil() bool {
	return d.ptr == nil
}

// getSystemMemory returns total system memory in bytes
func getSystemMemory() uint64 {
	// Simplified; a production build would query the OS.
	return 16 * 1024 * 1024 * 1024
}
