package vm

import "strconv"

// ---------------------------------------------------------------------------
// Value: tagged representation for Perch values
// ---------------------------------------------------------------------------

// ValueKind identifies which variant a Value holds.
type ValueKind byte

const (
	ValNil ValueKind = iota
	ValBool
	ValNumber
	ValObject
)

// Value represents a Perch value.
//
// Perch values are nil, booleans, IEEE 754 doubles, or references to heap
// objects. The representation is an unboxed tagged struct: the tag plus an
// inline payload. Heap objects are reached through the Object interface and
// are owned exclusively by the VM's heap list (see gc.go).
type Value struct {
	kind    ValueKind
	boolean bool
	number  float64
	obj     Object
}

// Pre-defined singleton values.
var (
	Nil   = Value{kind: ValNil}
	True  = Value{kind: ValBool, boolean: true}
	False = Value{kind: ValBool, boolean: false}
)

// FromBool wraps a Go bool as a Perch boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromNumber wraps a float64 as a Perch number.
func FromNumber(f float64) Value {
	return Value{kind: ValNumber, number: f}
}

// FromObject wraps a heap object reference.
func FromObject(o Object) Value {
	return Value{kind: ValObject, obj: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the value's variant tag.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == ValNil }
func (v Value) IsBool() bool   { return v.kind == ValBool }
func (v Value) IsNumber() bool { return v.kind == ValNumber }
func (v Value) IsObject() bool { return v.kind == ValObject }

// isObjKind reports whether v references a heap object of the given kind.
func (v Value) isObjKind(k ObjKind) bool {
	return v.kind == ValObject && v.obj.header().kind == k
}

func (v Value) IsString() bool      { return v.isObjKind(KindString) }
func (v Value) IsFunction() bool    { return v.isObjKind(KindFunction) }
func (v Value) IsClosure() bool     { return v.isObjKind(KindClosure) }
func (v Value) IsClass() bool       { return v.isObjKind(KindClass) }
func (v Value) IsInstance() bool    { return v.isObjKind(KindInstance) }
func (v Value) IsBoundMethod() bool { return v.isObjKind(KindBoundMethod) }
func (v Value) IsNative() bool      { return v.isObjKind(KindNative) }

// IsFalsey reports Perch truthiness: nil and false are falsey, everything
// else is truthy.
func (v Value) IsFalsey() bool {
	return v.kind == ValNil || (v.kind == ValBool && !v.boolean)
}

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// Bool returns the boolean payload. Only valid when IsBool.
func (v Value) Bool() bool { return v.boolean }

// Number returns the numeric payload. Only valid when IsNumber.
func (v Value) Number() float64 { return v.number }

// Object returns the object payload. Only valid when IsObject.
func (v Value) Object() Object { return v.obj }

func (v Value) AsString() *StringObject {
	return v.obj.(*StringObject)
}

func (v Value) AsFunction() *FunctionObject {
	return v.obj.(*FunctionObject)
}

func (v Value) AsClosure() *ClosureObject {
	return v.obj.(*ClosureObject)
}

func (v Value) AsClass() *ClassObject {
	return v.obj.(*ClassObject)
}

func (v Value) AsInstance() *InstanceObject {
	return v.obj.(*InstanceObject)
}

func (v Value) AsBoundMethod() *BoundMethodObject {
	return v.obj.(*BoundMethodObject)
}

func (v Value) AsNative() *NativeObject {
	return v.obj.(*NativeObject)
}

// ---------------------------------------------------------------------------
// Equality and printing
// ---------------------------------------------------------------------------

// Equals implements Perch equality: deep on nil/bool/number, reference on
// objects. String interning makes reference equality coincide with content
// equality for strings.
func (v Value) Equals(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ValNil:
		return true
	case ValBool:
		return v.boolean == other.boolean
	case ValNumber:
		return v.number == other.number
	default:
		return v.obj == other.obj
	}
}

// String renders the value in Perch's textual format, as produced by the
// print statement.
func (v Value) String() string {
	switch v.kind {
	case ValNil:
		return "nil"
	case ValBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case ValNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	default:
		return objectString(v.obj)
	}
}

// objectString renders a heap object in the textual format.
func objectString(o Object) string {
	switch o.header().kind {
	case KindString:
		return o.(*StringObject).Chars
	case KindFunction:
		return functionName(o.(*FunctionObject))
	case KindClosure:
		return functionName(o.(*ClosureObject).Function)
	case KindBoundMethod:
		return functionName(o.(*BoundMethodObject).Method.Function)
	case KindClass:
		return o.(*ClassObject).Name.Chars
	case KindInstance:
		return o.(*InstanceObject).Class.Name.Chars + " instance"
	case KindUpvalue:
		return "upvalue"
	default:
		return "<native fn>"
	}
}

func functionName(fn *FunctionObject) string {
	if fn.Name == nil {
		return "<script>"
	}
	return "<fn " + fn.Name.Chars + ">"
}
