package kernel

import "sync/atomic"

// Heap is a fixed-count slab allocator: it hands out blocks of a single
// fixed Size from a pre-allocated arena of Count slots. The original's
// first-fit free list with an owning-heap pointer stashed in the block
// header is a natural fit for arbitrary-sized C allocations; every caller
// in this kernel (frame pool, thread stacks, mqueue slots) instead
// allocates a bounded number of fixed-size blocks, which a slab serves
// without ever walking a free list or calling into an allocator from an
// ISR-adjacent path — the original's Design Notes flag exactly this
// trade-off. Alternate chaining is preserved: an exhausted heap
// falls through to its alternate before reporting failure.
type Heap struct {
	k    *Kernel
	Name string
	sem  *Semaphore

	arena     [][]byte
	free      []bool
	freeCount atomic.Int32

	alternate *Heap
}

// NewHeap creates a slab of count blocks of size bytes each.
func (k *Kernel) NewHeap(name string, count, size int) *Heap {
	h := &Heap{
		k:     k,
		Name:  name,
		sem:   k.NewSemaphore(name+".sem", 1),
		arena: make([][]byte, count),
		free:  make([]bool, count),
	}
	h.freeCount.Store(int32(count))
	for i := range h.arena {
		h.arena[i] = make([]byte, size)
		h.free[i] = true
	}
	return h
}

// Alternate chains h2 as the heap to fall through to when h is exhausted,
// mirroring OS_HeapAlternate.
func (h *Heap) Alternate(h2 *Heap) { h.alternate = h2 }

// Malloc returns a zeroed block, or nil if this heap and every chained
// alternate are exhausted.
func (h *Heap) Malloc(self *Thread) []byte {
	self.Pend(h.sem, WaitForever)
	for i, free := range h.free {
		if free {
			h.free[i] = false
			h.freeCount.Add(-1)
			h.sem.Post()
			b := h.arena[i]
			for j := range b {
				b[j] = 0
			}
			return b
		}
	}
	h.sem.Post()
	if h.alternate != nil {
		return h.alternate.Malloc(self)
	}
	return nil
}

// Free returns a block obtained from Malloc on this heap (or one of its
// alternates) to its owning slab.
func (h *Heap) Free(self *Thread, b []byte) {
	self.Pend(h.sem, WaitForever)
	for i, slot := range h.arena {
		if &slot[0] == &b[0] {
			if h.free[i] {
				h.sem.Post()
				Assert("heap %q: double free of block %d", h.Name, i)
				return
			}
			h.free[i] = true
			h.freeCount.Add(1)
			h.sem.Post()
			return
		}
	}
	h.sem.Post()
	if h.alternate != nil {
		h.alternate.Free(self, b)
		return
	}
	Assert("heap %q: free of block not owned by this heap chain", h.Name)
}

// FreeCount reports the number of unused blocks remaining in this heap
// alone (not counting any alternate). Safe to call from any goroutine
// without a Thread handle, for introspection.
func (h *Heap) FreeCount() int {
	return int(h.freeCount.Load())
}
