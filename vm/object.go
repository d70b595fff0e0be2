package vm

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjKind identifies the concrete type of a heap object.
type ObjKind byte

const (
	KindString ObjKind = iota
	KindFunction
	KindClosure
	KindUpvalue
	KindClass
	KindInstance
	KindBoundMethod
	KindNative
)

var objKindNames = map[ObjKind]string{
	KindString:      "string",
	KindFunction:    "function",
	KindClosure:     "closure",
	KindUpvalue:     "upvalue",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "bound method",
	KindNative:      "native",
}

func (k ObjKind) String() string {
	if name, ok := objKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Obj is the common header embedded at the head of every heap object:
// the kind tag, the GC mark bit, the next link of the VM's heap list, and
// the size the allocator has charged for the object so far.
type Obj struct {
	kind   ObjKind
	marked bool
	next   Object
	size   int
}

// Object is implemented by every heap-allocated Perch object.
type Object interface {
	header() *Obj
}

func (o *Obj) header() *Obj { return o }

// Kind returns the object's kind tag.
func (o *Obj) Kind() ObjKind { return o.kind }

// ---------------------------------------------------------------------------
// StringObject
// ---------------------------------------------------------------------------

// StringObject is an immutable, interned string. Two StringObjects with
// equal content are always the same reference (see VM.InternString).
type StringObject struct {
	Obj
	Chars string
	Hash  uint32
}

// HashString computes the 32-bit FNV-1a hash used for interning and table
// probing.
func HashString(chars string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(chars); i++ {
		hash ^= uint32(chars[i])
		hash *= 16777619
	}
	return hash
}

// ---------------------------------------------------------------------------
// FunctionObject
// ---------------------------------------------------------------------------

// FunctionObject is a compiled function: its bytecode chunk plus arity and
// upvalue metadata. Name is nil for the top-level script.
type FunctionObject struct {
	Obj
	Arity         int
	UpvalueCount  int
	Chunk         Chunk
	Name          *StringObject
	IsInitializer bool
}

// ---------------------------------------------------------------------------
// ClosureObject and UpvalueObject
// ---------------------------------------------------------------------------

// UpvalueObject is a captured variable. While open it addresses a live
// operand-stack slot by index; when closed it owns the value inline.
// Open upvalues are threaded on the VM's open-upvalue list, sorted by
// descending slot.
type UpvalueObject struct {
	Obj
	Slot     int   // stack slot while open; -1 once closed
	Closed   Value // the captured value after closing
	NextOpen *UpvalueObject
}

// IsOpen reports whether the upvalue still addresses a stack slot.
func (u *UpvalueObject) IsOpen() bool { return u.Slot >= 0 }

// ClosureObject pairs a function with the upvalues captured where it was
// evaluated. len(Upvalues) == Function.UpvalueCount.
type ClosureObject struct {
	Obj
	Function *FunctionObject
	Upvalues []*UpvalueObject
}

// ---------------------------------------------------------------------------
// Classes, instances, bound methods
// ---------------------------------------------------------------------------

// ClassObject holds a class name and its method table (name -> closure).
type ClassObject struct {
	Obj
	Name    *StringObject
	Methods Table
}

// InstanceObject is an instance of a class with its own field table.
type InstanceObject struct {
	Obj
	Class  *ClassObject
	Fields Table
}

// BoundMethodObject reifies a method read off an instance: the receiver
// together with the method closure.
type BoundMethodObject struct {
	Obj
	Receiver Value
	Method   *ClosureObject
}

// ---------------------------------------------------------------------------
// NativeObject
// ---------------------------------------------------------------------------

// NativeFn is the host-function ABI. args is only valid for the duration of
// the call; natives must not retain it.
type NativeFn func(argCount int, args []Value) Value

// NativeObject wraps a host function registered with the VM.
type NativeObject struct {
	Obj
	Function NativeFn
	Name     *StringObject
}
