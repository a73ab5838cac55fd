package device

import (
	"fmt"
	"sync"
)

// Handle identifies a live buffer in a Registry. Handles are issued
// sequentially and are never reused within a registry's lifetime.
type Handle int

// Buffer is a named, fixed-size region of device memory. A buffer never
// changes size after creation; its handle is valid from CreateBuffer until
// ReleaseBuffer.
type Buffer struct {
	handle Handle
	mem    Mem
	elems  int
}

func (b *Buffer) Handle() Handle { return b.handle }
func (b *Buffer) Elems() int     { return b.elems }
func (b *Buffer) Mem() Mem       { return b.mem }

// Stats is a snapshot of a registry's allocation accounting. The counters
// double as the allocation-count probe used by tests: a code path that must
// not touch device memory must leave Allocs unchanged.
type Stats struct {
	Allocs    int
	Frees     int
	Live      int
	LiveElems int
}

// Registry owns every device-resident buffer used by the operations of a
// run. It is constructed by the driver and injected into each operation;
// there is no process-global instance. The registry itself is the single
// writer over its table, so a plain mutex is all the synchronization the
// pipeline needs.
type Registry struct {
	rt Runtime

	mu    sync.Mutex
	next  Handle
	bufs  map[Handle]*Buffer
	stats Stats
}

// NewRegistry builds an empty registry allocating through rt.
func NewRegistry(rt Runtime) *Registry {
	return &Registry{
		rt:   rt,
		next: 1,
		bufs: make(map[Handle]*Buffer),
	}
}

// CreateBuffer allocates device memory for elems float32 elements and
// returns a fresh handle. Every call performs a real device allocation;
// keep it out of timed paths.
func (r *Registry) CreateBuffer(elems int) (Handle, error) {
	mem, err := r.rt.Alloc(elems)
	if err != nil {
		return 0, fmt.Errorf("create buffer (%d elems): %w", elems, err)
	}

	r.mu.Lock()
	h := r.next
	r.next++
	r.bufs[h] = &Buffer{handle: h, mem: mem, elems: elems}
	r.stats.Allocs++
	r.stats.Live++
	r.stats.LiveElems += elems
	r.mu.Unlock()

	allocsTotal.Inc()
	buffersLive.Inc()
	elemsLive.Add(float64(elems))
	return h, nil
}

// GetBuffer returns the buffer for a live handle. A stale or never-issued
// handle is a lifecycle defect and yields ErrInvalidHandle.
func (r *Registry) GetBuffer(h Handle) (*Buffer, error) {
	r.mu.Lock()
	b, ok := r.bufs[h]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get buffer %d: %w", h, ErrInvalidHandle)
	}
	return b, nil
}

// ReleaseBuffer frees the underlying device memory and invalidates the
// handle. Double release yields ErrInvalidHandle.
func (r *Registry) ReleaseBuffer(h Handle) error {
	r.mu.Lock()
	b, ok := r.bufs[h]
	if ok {
		delete(r.bufs, h)
		r.stats.Frees++
		r.stats.Live--
		r.stats.LiveElems -= b.elems
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("release buffer %d: %w", h, ErrInvalidHandle)
	}

	freesTotal.Inc()
	buffersLive.Dec()
	elemsLive.Sub(float64(b.elems))

	if err := r.rt.Free(b.mem); err != nil {
		return fmt.Errorf("release buffer %d: %v", h, err)
	}
	return nil
}

// Stats returns a snapshot of the registry's accounting.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
