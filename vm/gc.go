package vm

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Garbage collector: precise, non-moving, stop-the-world mark-sweep
// ---------------------------------------------------------------------------

// allocBase is the initial collection threshold.
const allocBase = 1024 * 1024

// objSize estimates the retained size of an object. The VM owns objects
// through its heap list; the Go runtime reclaims storage once an object is
// unlinked by the sweep phase. The size charged for an object is recorded
// in its header (and updated by Reallocated when a payload grows), so the
// free side always subtracts exactly what was added.
func objSize(o Object) int {
	switch o := o.(type) {
	case *StringObject:
		return int(unsafe.Sizeof(*o)) + len(o.Chars)
	case *FunctionObject:
		return int(unsafe.Sizeof(*o)) + len(o.Chunk.Code) + 8*len(o.Chunk.Constants)
	case *ClosureObject:
		return int(unsafe.Sizeof(*o)) + 8*len(o.Upvalues)
	case *UpvalueObject:
		return int(unsafe.Sizeof(*o))
	case *ClassObject:
		return int(unsafe.Sizeof(*o))
	case *InstanceObject:
		return int(unsafe.Sizeof(*o))
	case *BoundMethodObject:
		return int(unsafe.Sizeof(*o))
	case *NativeObject:
		return int(unsafe.Sizeof(*o))
	default:
		return 0
	}
}

// allocate is the single funnel every heap allocation passes through. It may
// run a full collection before the object is linked into the heap, so the
// new object is never swept by the collection it triggers. Callers that
// allocate children before wiring a parent must keep the parent reachable
// (operand stack, temp roots, or the compiler root hook).
func (m *VM) allocate(o Object, size int) {
	if m.config.GCStress || m.bytesAllocated+size > m.nextGC {
		m.CollectGarbage()
	}
	h := o.header()
	h.next = m.objects
	h.size = size
	m.objects = o
	m.bytesAllocated += size

	if m.config.GCLog {
		fmt.Fprintf(m.stderr, "-- gc: allocate %d bytes for %s\n", size, h.kind)
	}
}

// Reallocated is the reallocation side of the funnel. A function's chunk
// grows in place while the compiler (or the wire decoder) fills it; callers
// report the object here once its payload has changed so the charged size
// tracks the real one. Growth may trigger a collection, so the object must
// be reachable when this is called.
func (m *VM) Reallocated(o Object) {
	h := o.header()
	size := objSize(o)
	delta := size - h.size
	h.size = size
	m.bytesAllocated += delta

	if m.config.GCLog && delta != 0 {
		fmt.Fprintf(m.stderr, "-- gc: reallocate %+d bytes for %s\n", delta, h.kind)
	}
	if delta > 0 && (m.config.GCStress || m.bytesAllocated > m.nextGC) {
		m.CollectGarbage()
	}
}

// Protect pushes a value onto the temp-root stack so it survives collections
// triggered before it is reachable from the object graph. Pair with
// Unprotect.
func (m *VM) Protect(v Value) {
	m.tempRoots = append(m.tempRoots, v)
}

// Unprotect pops the most recent temp root.
func (m *VM) Unprotect() {
	m.tempRoots = m.tempRoots[:len(m.tempRoots)-1]
}

// SetCompilerRoots installs a hook returning the objects the compiler is
// building. The compiler sets this for the duration of a compile so
// functions under construction survive collections; pass nil to clear.
func (m *VM) SetCompilerRoots(roots func() []Object) {
	m.compilerRoots = roots
}

// ObjectCount walks the heap list and returns the number of live objects.
func (m *VM) ObjectCount() int {
	n := 0
	for o := m.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}

// BytesAllocated returns the collector's live-byte accounting.
func (m *VM) BytesAllocated() int { return m.bytesAllocated }

// CollectGarbage runs a full mark-sweep collection.
func (m *VM) CollectGarbage() {
	before := m.bytesAllocated
	if m.config.GCLog {
		fmt.Fprintf(m.stderr, "-- gc begin\n")
	}

	m.markRoots()
	m.traceReferences()
	m.strings.removeUnmarked()
	m.sweep()

	m.nextGC = m.bytesAllocated * m.config.GCGrowthFactor

	if m.config.GCLog {
		fmt.Fprintf(m.stderr, "-- gc end: collected %d bytes (%d -> %d), next at %d\n",
			before-m.bytesAllocated, before, m.bytesAllocated, m.nextGC)
	}
}

// ---------------------------------------------------------------------------
// Mark phase
// ---------------------------------------------------------------------------

func (m *VM) markRoots() {
	for i := 0; i < m.sp; i++ {
		m.markValue(m.stack[i])
	}
	for i := 0; i < m.frameCount; i++ {
		m.markObject(m.frames[i].closure)
	}
	for u := m.openUpvalues; u != nil; u = u.NextOpen {
		m.markObject(u)
	}
	m.markTable(&m.globals)
	for _, v := range m.tempRoots {
		m.markValue(v)
	}
	if m.initString != nil {
		m.markObject(m.initString)
	}
	if m.compilerRoots != nil {
		for _, o := range m.compilerRoots() {
			m.markObject(o)
		}
	}
}

func (m *VM) markValue(v Value) {
	if v.IsObject() {
		m.markObject(v.Object())
	}
}

func (m *VM) markObject(o Object) {
	if o == nil {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	m.grayStack = append(m.grayStack, o)
}

// markTable marks every key and value of a strong table. The strings table
// is never marked this way; its keys are weak and cleared before the sweep.
func (m *VM) markTable(t *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key != nil {
			m.markObject(entry.key)
		}
		m.markValue(entry.value)
	}
}

// traceReferences drains the gray worklist, blackening one object at a time.
func (m *VM) traceReferences() {
	for len(m.grayStack) > 0 {
		o := m.grayStack[len(m.grayStack)-1]
		m.grayStack = m.grayStack[:len(m.grayStack)-1]
		m.blackenObject(o)
	}
}

// blackenObject marks everything an object references.
func (m *VM) blackenObject(o Object) {
	switch o := o.(type) {
	case *StringObject:
		// No outgoing references.
	case *NativeObject:
		if o.Name != nil {
			m.markObject(o.Name)
		}
	case *FunctionObject:
		if o.Name != nil {
			m.markObject(o.Name)
		}
		for _, c := range o.Chunk.Constants {
			m.markValue(c)
		}
	case *ClosureObject:
		m.markObject(o.Function)
		for _, u := range o.Upvalues {
			m.markObject(u)
		}
	case *UpvalueObject:
		if !o.IsOpen() {
			m.markValue(o.Closed)
		}
	case *ClassObject:
		m.markObject(o.Name)
		m.markTable(&o.Methods)
	case *InstanceObject:
		m.markObject(o.Class)
		m.markTable(&o.Fields)
	case *BoundMethodObject:
		m.markValue(o.Receiver)
		m.markObject(o.Method)
	}
}

// ---------------------------------------------------------------------------
// Sweep phase
// ---------------------------------------------------------------------------

// sweep walks the heap list, unlinking and releasing unmarked objects and
// clearing the mark bit on survivors.
func (m *VM) sweep() {
	var prev Object
	o := m.objects
	for o != nil {
		h := o.header()
		if h.marked {
			h.marked = false
			prev = o
			o = h.next
			continue
		}

		unreached := o
		o = h.next
		if prev == nil {
			m.objects = o
		} else {
			prev.header().next = o
		}
		m.freeObject(unreached)
	}
}

// freeObject releases an object: the accounting shrinks by exactly what the
// funnel charged, and the heap link is severed so the Go runtime can reclaim
// the storage.
func (m *VM) freeObject(o Object) {
	h := o.header()
	m.bytesAllocated -= h.size
	h.next = nil
	if m.config.GCLog {
		fmt.Fprintf(m.stderr, "-- gc: free %d bytes for %s\n", h.size, h.kind)
	}
}
