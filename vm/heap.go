package vm

import (
	"sync"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("quill.gc")

// HeapObject is implemented by every object kind stored in the Heap.
// References must call fn once for every Value the object holds, so the
// collector can trace internal edges.
type HeapObject interface {
	References(fn func(Value))
}

// heapSlot is one entry in the object table.
type heapSlot struct {
	obj  HeapObject
	rc   int64
	mark bool
}

// DefaultCollectThreshold is the initial live-object count that triggers
// a cycle collection at an allocation safe point.
const DefaultCollectThreshold = 4096

// Heap is the reference-counted object table.
//
// Every heap object is registered with Acquire, which hands out a stable
// 48-bit ID encoded into a Value. Share and Release adjust the reference
// count; a count reaching zero frees the slot immediately and releases
// the object's outgoing references.
//
// Reference counting alone cannot reclaim cycles (the metaclass loop is
// a permanent one), so Collect runs a backup mark-sweep: an object is a
// root if its count exceeds the number of internal edges pointing at it,
// meaning someone outside the heap (the class registry, the interpreter's
// frame stack, the globals table, an embedder handle) still holds it.
// Everything unreachable from the roots is swept.
type Heap struct {
	mu        sync.RWMutex
	slots     map[uint64]*heapSlot
	nextID    uint64
	threshold int

	// Extra root providers (class registry, live frames). These are
	// also covered by the external-count rule, but explicit providers
	// keep the collector correct even when a caller borrows without
	// sharing.
	rootSets []func(fn func(Value))

	// Statistics
	collections  uint64
	totalSwept   uint64
	totalFreed   uint64
	acquireCount uint64
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		slots:     make(map[uint64]*heapSlot),
		nextID:    1, // ID 0 is never handed out
		threshold: DefaultCollectThreshold,
	}
}

// AddRootSet registers a root provider consulted by Collect.
func (h *Heap) AddRootSet(fn func(fn func(Value))) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rootSets = append(h.rootSets, fn)
}

// ---------------------------------------------------------------------------
// Acquire / Share / Release
// ---------------------------------------------------------------------------

// Acquire registers obj and returns its handle with a reference count of 1.
// The caller owns that reference and must balance it with Release.
func (h *Heap) Acquire(obj HeapObject) Value {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nextID > payloadMask {
		gcLog.Critical("heap ID space exhausted")
		panic("heap: out of memory: object ID space exhausted")
	}
	id := h.nextID
	h.nextID++
	h.slots[id] = &heapSlot{obj: obj, rc: 1}
	h.acquireCount++
	return FromObjectID(id)
}

// Share increments the reference count of v. No-op for non-object values.
func (h *Heap) Share(v Value) {
	if !v.IsObject() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.slots[v.ObjectID()]; s != nil {
		s.rc++
	}
}

// Release decrements the reference count of v, freeing the object when the
// count reaches zero. Freeing releases the object's outgoing references,
// which may cascade. No-op for non-object values.
func (h *Heap) Release(v Value) {
	if !v.IsObject() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(v)
}

func (h *Heap) releaseLocked(v Value) {
	// Iterative cascade to avoid deep recursion on long chains.
	work := []Value{v}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		s := h.slots[cur.ObjectID()]
		if s == nil {
			continue
		}
		s.rc--
		if s.rc > 0 {
			continue
		}

		delete(h.slots, cur.ObjectID())
		h.totalFreed++
		s.obj.References(func(ref Value) {
			if ref.IsObject() {
				work = append(work, ref)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Get returns the object behind v, or nil if v is not an object or the
// slot has been freed.
func (h *Heap) Get(v Value) HeapObject {
	if !v.IsObject() {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s := h.slots[v.ObjectID()]; s != nil {
		return s.obj
	}
	return nil
}

// Contains returns true if v refers to a live heap slot.
func (h *Heap) Contains(v Value) bool {
	if !v.IsObject() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.slots[v.ObjectID()]
	return ok
}

// RefCount returns the current reference count of v, or 0 if not live.
func (h *Heap) RefCount(v Value) int64 {
	if !v.IsObject() {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s := h.slots[v.ObjectID()]; s != nil {
		return s.rc
	}
	return 0
}

// Live returns the number of live objects.
func (h *Heap) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.slots)
}

// ---------------------------------------------------------------------------
// Cycle collection
// ---------------------------------------------------------------------------

// MaybeCollect runs a collection if the live count has crossed the current
// threshold. Called at allocation safe points by the VM.
func (h *Heap) MaybeCollect() {
	h.mu.RLock()
	over := len(h.slots) >= h.threshold
	h.mu.RUnlock()
	if over {
		h.Collect()
	}
}

// Collect performs a stop-the-world cycle collection and returns the
// number of objects swept.
//
// Roots are objects whose reference count exceeds the number of heap
// internal edges pointing at them (externally held), plus everything
// reported by registered root providers. Objects unreachable from the
// roots form dead cycles and are swept; edges from dead objects into
// survivors are released so survivor counts stay balanced.
func (h *Heap) Collect() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Count internal edges.
	internal := make(map[uint64]int64, len(h.slots))
	for _, s := range h.slots {
		s.mark = false
		s.obj.References(func(ref Value) {
			if ref.IsObject() {
				internal[ref.ObjectID()]++
			}
		})
	}

	// Mark from roots.
	var work []uint64
	for id, s := range h.slots {
		if s.rc > internal[id] {
			s.mark = true
			work = append(work, id)
		}
	}
	for _, rootSet := range h.rootSets {
		rootSet(func(v Value) {
			if !v.IsObject() {
				return
			}
			id := v.ObjectID()
			if s := h.slots[id]; s != nil && !s.mark {
				s.mark = true
				work = append(work, id)
			}
		})
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		h.slots[id].obj.References(func(ref Value) {
			if !ref.IsObject() {
				return
			}
			refID := ref.ObjectID()
			if s := h.slots[refID]; s != nil && !s.mark {
				s.mark = true
				work = append(work, refID)
			}
		})
	}

	// Sweep. Drop survivor counts for edges arriving from dead objects
	// before the dead slots go away.
	var dead []uint64
	for id, s := range h.slots {
		if !s.mark {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		h.slots[id].obj.References(func(ref Value) {
			if !ref.IsObject() {
				return
			}
			if s := h.slots[ref.ObjectID()]; s != nil && s.mark {
				s.rc--
			}
		})
	}
	for _, id := range dead {
		delete(h.slots, id)
	}

	h.collections++
	h.totalSwept += uint64(len(dead))

	// Grow the threshold with the surviving population.
	h.threshold = len(h.slots) * 2
	if h.threshold < DefaultCollectThreshold {
		h.threshold = DefaultCollectThreshold
	}

	gcLog.Debugf("collection %d: swept %d, %d live", h.collections, len(dead), len(h.slots))
	return len(dead)
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// HeapStats holds heap counters for inspection and tests.
type HeapStats struct {
	Live        int
	Collections uint64
	TotalSwept  uint64
	TotalFreed  uint64
	Acquired    uint64
	Threshold   int
}

// Stats returns a snapshot of heap counters.
func (h *Heap) Stats() HeapStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HeapStats{
		Live:        len(h.slots),
		Collections: h.collections,
		TotalSwept:  h.totalSwept,
		TotalFreed:  h.totalFreed,
		Acquired:    h.acquireCount,
		Threshold:   h.threshold,
	}
}
