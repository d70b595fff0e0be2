package vm

import (
	"fmt"
	"io"
	"os"
	"time"
)

// ---------------------------------------------------------------------------
// VM: the Perch bytecode interpreter
// ---------------------------------------------------------------------------

// InterpretResult is the outcome of executing a compiled script.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretRuntimeError
)

// CallFrame is the per-invocation record: the running closure, the
// instruction pointer into its chunk, and the base of its window on the
// operand stack. Local slot N lives at stack[base+N]; slot 0 holds the
// callee (the receiver, for methods).
type CallFrame struct {
	closure *ClosureObject
	ip      int
	base    int
}

// VM executes compiled Perch chunks. A VM owns its heap, its interning
// table, and its globals; REPL lines executed against the same VM share all
// three.
type VM struct {
	config Config

	frames     []CallFrame
	frameCount int
	stack      []Value
	sp         int

	globals      Table
	strings      Table
	initString   *StringObject
	openUpvalues *UpvalueObject

	// GC state (see gc.go)
	objects        Object
	bytesAllocated int
	nextGC         int
	grayStack      []Object
	tempRoots      []Value
	compilerRoots  func() []Object

	stdout    io.Writer
	stderr    io.Writer
	startTime time.Time
}

// New creates a VM with the given configuration and registers the standard
// natives.
func New(config Config) *VM {
	config = config.normalize()
	m := &VM{
		config:    config,
		frames:    make([]CallFrame, config.MaxFrames),
		stack:     make([]Value, config.StackSize),
		nextGC:    allocBase,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		startTime: time.Now(),
	}
	m.initString = m.InternString("init")
	registerNatives(m)
	return m
}

// SetOutput redirects the print statement's stream.
func (m *VM) SetOutput(w io.Writer) { m.stdout = w }

// SetErrorOutput redirects runtime diagnostics and traces.
func (m *VM) SetErrorOutput(w io.Writer) { m.stderr = w }

// ---------------------------------------------------------------------------
// Allocation helpers
// ---------------------------------------------------------------------------

// InternString returns the canonical StringObject for chars, allocating one
// only if it has not been seen before.
func (m *VM) InternString(chars string) *StringObject {
	hash := HashString(chars)
	if interned := m.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	s := &StringObject{Obj: Obj{kind: KindString}, Chars: chars, Hash: hash}
	m.allocate(s, objSize(s))
	m.Protect(FromObject(s))
	m.strings.Set(s, Nil)
	m.Unprotect()
	return s
}

// NewFunction allocates a blank function under construction.
func (m *VM) NewFunction() *FunctionObject {
	fn := &FunctionObject{Obj: Obj{kind: KindFunction}}
	m.allocate(fn, objSize(fn))
	return fn
}

// NewClosure wraps a compiled function. Upvalue slots are filled by
// OpClosure as capture pairs are decoded.
func (m *VM) NewClosure(fn *FunctionObject) *ClosureObject {
	c := &ClosureObject{
		Obj:      Obj{kind: KindClosure},
		Function: fn,
		Upvalues: make([]*UpvalueObject, fn.UpvalueCount),
	}
	m.allocate(c, objSize(c))
	return c
}

func (m *VM) newUpvalue(slot int) *UpvalueObject {
	u := &UpvalueObject{Obj: Obj{kind: KindUpvalue}, Slot: slot}
	m.allocate(u, objSize(u))
	return u
}

func (m *VM) newClass(name *StringObject) *ClassObject {
	c := &ClassObject{Obj: Obj{kind: KindClass}, Name: name}
	m.allocate(c, objSize(c))
	return c
}

func (m *VM) newInstance(class *ClassObject) *InstanceObject {
	inst := &InstanceObject{Obj: Obj{kind: KindInstance}, Class: class}
	m.allocate(inst, objSize(inst))
	return inst
}

func (m *VM) newBoundMethod(receiver Value, method *ClosureObject) *BoundMethodObject {
	b := &BoundMethodObject{Obj: Obj{kind: KindBoundMethod}, Receiver: receiver, Method: method}
	m.allocate(b, objSize(b))
	return b
}

// DefineNative registers a host function under the given global name.
func (m *VM) DefineNative(name string, fn NativeFn) {
	s := m.InternString(name)
	m.push(FromObject(s))
	native := &NativeObject{Obj: Obj{kind: KindNative}, Function: fn, Name: s}
	m.allocate(native, objSize(native))
	m.push(FromObject(native))
	m.globals.Set(s, m.stack[m.sp-1])
	m.pop()
	m.pop()
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

func (m *VM) push(v Value) {
	m.stack[m.sp] = v
	m.sp++
}

func (m *VM) pop() Value {
	m.sp--
	return m.stack[m.sp]
}

func (m *VM) peek(distance int) Value {
	return m.stack[m.sp-1-distance]
}

func (m *VM) resetStack() {
	m.sp = 0
	m.frameCount = 0
	m.openUpvalues = nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// runtimeError prints the diagnostic and a stack trace, most recent frame
// first, then unwinds the whole stack.
func (m *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(m.stderr, format+"\n", args...)

	for i := m.frameCount - 1; i >= 0; i-- {
		frame := &m.frames[i]
		fn := frame.closure.Function
		instruction := frame.ip - 1
		line := fn.Chunk.Lines[instruction]
		if fn.Name == nil {
			fmt.Fprintf(m.stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(m.stderr, "[line %d] in %s()\n", line, fn.Name.Chars)
		}
	}

	m.resetStack()
}

// ---------------------------------------------------------------------------
// Calls and dispatch
// ---------------------------------------------------------------------------

func (m *VM) call(closure *ClosureObject, argCount int) bool {
	if argCount != closure.Function.Arity {
		m.runtimeError("Expected %d arguments but got %d.",
			closure.Function.Arity, argCount)
		return false
	}
	if m.frameCount == len(m.frames) {
		m.runtimeError("Stack overflow.")
		return false
	}
	frame := &m.frames[m.frameCount]
	m.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.base = m.sp - argCount - 1
	return true
}

func (m *VM) callValue(callee Value, argCount int) bool {
	if callee.IsObject() {
		switch callee.Object().header().kind {
		case KindClosure:
			return m.call(callee.AsClosure(), argCount)
		case KindClass:
			class := callee.AsClass()
			m.stack[m.sp-argCount-1] = FromObject(m.newInstance(class))
			if initializer, ok := class.Methods.Get(m.initString); ok {
				return m.call(initializer.AsClosure(), argCount)
			}
			if argCount != 0 {
				m.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true
		case KindBoundMethod:
			bound := callee.AsBoundMethod()
			m.stack[m.sp-argCount-1] = bound.Receiver
			return m.call(bound.Method, argCount)
		case KindNative:
			native := callee.AsNative()
			result := native.Function(argCount, m.stack[m.sp-argCount:m.sp])
			m.sp -= argCount + 1
			m.push(result)
			return true
		}
	}
	m.runtimeError("Can only call functions and classes.")
	return false
}

func (m *VM) invokeFromClass(class *ClassObject, name *StringObject, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		m.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return m.call(method.AsClosure(), argCount)
}

func (m *VM) invoke(name *StringObject, argCount int) bool {
	receiver := m.peek(argCount)
	if !receiver.IsInstance() {
		m.runtimeError("Only instances have methods.")
		return false
	}
	instance := receiver.AsInstance()

	// A field shadowing the method name wins; it is called as a plain value.
	if field, ok := instance.Fields.Get(name); ok {
		m.stack[m.sp-argCount-1] = field
		return m.callValue(field, argCount)
	}
	return m.invokeFromClass(instance.Class, name, argCount)
}

func (m *VM) bindMethod(class *ClassObject, name *StringObject) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		m.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	bound := m.newBoundMethod(m.peek(0), method.AsClosure())
	m.pop()
	m.push(FromObject(bound))
	return true
}

func (m *VM) defineMethod(name *StringObject) {
	method := m.peek(0)
	class := m.peek(1).AsClass()
	class.Methods.Set(name, method)
	m.pop()
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for a stack slot, creating one if
// none exists. The open list is sorted by descending slot so captures of the
// same slot are shared and closing is a prefix operation.
func (m *VM) captureUpvalue(slot int) *UpvalueObject {
	var prev *UpvalueObject
	u := m.openUpvalues
	for u != nil && u.Slot > slot {
		prev = u
		u = u.NextOpen
	}
	if u != nil && u.Slot == slot {
		return u
	}

	created := m.newUpvalue(slot)
	created.NextOpen = u
	if prev == nil {
		m.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot,
// copying the slot's current value inline.
func (m *VM) closeUpvalues(last int) {
	for m.openUpvalues != nil && m.openUpvalues.Slot >= last {
		u := m.openUpvalues
		u.Closed = m.stack[u.Slot]
		u.Slot = -1
		m.openUpvalues = u.NextOpen
		u.NextOpen = nil
	}
}

// upvalueGet reads through an upvalue, respecting open/closed state.
func (m *VM) upvalueGet(u *UpvalueObject) Value {
	if u.IsOpen() {
		return m.stack[u.Slot]
	}
	return u.Closed
}

// upvalueSet writes through an upvalue.
func (m *VM) upvalueSet(u *UpvalueObject, v Value) {
	if u.IsOpen() {
		m.stack[u.Slot] = v
	} else {
		u.Closed = v
	}
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Interpret wraps a compiled top-level function in a closure and runs it.
func (m *VM) Interpret(fn *FunctionObject) InterpretResult {
	m.push(FromObject(fn))
	closure := m.NewClosure(fn)
	m.pop()
	m.push(FromObject(closure))
	m.call(closure, 0)
	return m.run()
}

func (m *VM) run() InterpretResult {
	frame := &m.frames[m.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readU16Operand := func() uint16 {
		v := readU16(frame.closure.Function.Chunk.Code, frame.ip)
		frame.ip += 2
		return v
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *StringObject {
		return readConstant().AsString()
	}

	for {
		if m.config.TraceExecution {
			m.traceInstruction(frame)
		}

		switch Opcode(readByte()) {
		case OpConstant:
			m.push(readConstant())
		case OpNil:
			m.push(Nil)
		case OpTrue:
			m.push(True)
		case OpFalse:
			m.push(False)
		case OpPop:
			m.pop()

		case OpGetLocal:
			slot := int(readByte())
			m.push(m.stack[frame.base+slot])
		case OpSetLocal:
			slot := int(readByte())
			m.stack[frame.base+slot] = m.peek(0)
		case OpGetGlobal:
			name := readString()
			value, ok := m.globals.Get(name)
			if !ok {
				m.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			m.push(value)
		case OpDefineGlobal:
			name := readString()
			m.globals.Set(name, m.peek(0))
			m.pop()
		case OpSetGlobal:
			name := readString()
			if m.globals.Set(name, m.peek(0)) {
				// Assignment does not declare; undo the insert.
				m.globals.Delete(name)
				m.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
		case OpGetUpvalue:
			index := int(readByte())
			m.push(m.upvalueGet(frame.closure.Upvalues[index]))
		case OpSetUpvalue:
			index := int(readByte())
			m.upvalueSet(frame.closure.Upvalues[index], m.peek(0))
		case OpGetProperty:
			if !m.peek(0).IsInstance() {
				m.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			instance := m.peek(0).AsInstance()
			name := readString()
			if value, ok := instance.Fields.Get(name); ok {
				m.pop()
				m.push(value)
				break
			}
			if !m.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}
		case OpSetProperty:
			if !m.peek(1).IsInstance() {
				m.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			instance := m.peek(1).AsInstance()
			instance.Fields.Set(readString(), m.peek(0))
			value := m.pop()
			m.pop()
			m.push(value)
		case OpGetSuper:
			name := readString()
			superclass := m.pop().AsClass()
			if !m.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case OpEqual:
			b := m.pop()
			a := m.pop()
			m.push(FromBool(a.Equals(b)))
		case OpGreater:
			if !m.binaryNumbers() {
				return InterpretRuntimeError
			}
			b := m.pop().Number()
			a := m.pop().Number()
			m.push(FromBool(a > b))
		case OpLess:
			if !m.binaryNumbers() {
				return InterpretRuntimeError
			}
			b := m.pop().Number()
			a := m.pop().Number()
			m.push(FromBool(a < b))
		case OpAdd:
			if m.peek(0).IsString() && m.peek(1).IsString() {
				m.concatenate()
			} else if m.peek(0).IsNumber() && m.peek(1).IsNumber() {
				b := m.pop().Number()
				a := m.pop().Number()
				m.push(FromNumber(a + b))
			} else {
				m.runtimeError("Operands must be two numbers or two strings.")
				return InterpretRuntimeError
			}
		case OpSubtract:
			if !m.binaryNumbers() {
				return InterpretRuntimeError
			}
			b := m.pop().Number()
			a := m.pop().Number()
			m.push(FromNumber(a - b))
		case OpMultiply:
			if !m.binaryNumbers() {
				return InterpretRuntimeError
			}
			b := m.pop().Number()
			a := m.pop().Number()
			m.push(FromNumber(a * b))
		case OpDivide:
			if !m.binaryNumbers() {
				return InterpretRuntimeError
			}
			b := m.pop().Number()
			a := m.pop().Number()
			m.push(FromNumber(a / b))
		case OpNot:
			m.push(FromBool(m.pop().IsFalsey()))
		case OpNegate:
			if !m.peek(0).IsNumber() {
				m.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			m.push(FromNumber(-m.pop().Number()))

		case OpPrint:
			fmt.Fprintln(m.stdout, m.pop().String())
		case OpJump:
			offset := readU16Operand()
			frame.ip += int(offset)
		case OpJumpIfFalse:
			offset := readU16Operand()
			if m.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}
		case OpLoop:
			offset := readU16Operand()
			frame.ip -= int(offset)

		case OpCall:
			argCount := int(readByte())
			if !m.callValue(m.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &m.frames[m.frameCount-1]
		case OpInvoke:
			name := readString()
			argCount := int(readByte())
			if !m.invoke(name, argCount) {
				return InterpretRuntimeError
			}
			frame = &m.frames[m.frameCount-1]
		case OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := m.pop().AsClass()
			if !m.invokeFromClass(superclass, name, argCount) {
				return InterpretRuntimeError
			}
			frame = &m.frames[m.frameCount-1]

		case OpClosure:
			fn := readConstant().AsFunction()
			closure := m.NewClosure(fn)
			m.push(FromObject(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					closure.Upvalues[i] = m.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case OpCloseUpvalue:
			m.closeUpvalues(m.sp - 1)
			m.pop()

		case OpReturn:
			result := m.pop()
			if frame.closure.Function.IsInitializer {
				// Initializers always yield the receiver.
				result = m.stack[frame.base]
			}
			m.closeUpvalues(frame.base)
			m.frameCount--
			if m.frameCount == 0 {
				m.pop()
				return InterpretOK
			}
			m.sp = frame.base
			m.push(result)
			frame = &m.frames[m.frameCount-1]

		case OpClass:
			m.push(FromObject(m.newClass(readString())))
		case OpInherit:
			superclass := m.peek(1)
			if !superclass.IsClass() {
				m.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := m.peek(0).AsClass()
			subclass.Methods.AddAll(&superclass.AsClass().Methods)
			m.pop() // subclass
		case OpMethod:
			m.defineMethod(readString())
		}
	}
}

// binaryNumbers checks that both binary operands are numbers.
func (m *VM) binaryNumbers() bool {
	if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
		m.runtimeError("Operands must be numbers.")
		return false
	}
	return true
}

// concatenate joins the two strings on top of the stack. The operands stay
// on the stack until after the result is interned so a collection triggered
// by the allocation cannot reclaim them.
func (m *VM) concatenate() {
	b := m.peek(0).AsString()
	a := m.peek(1).AsString()
	result := m.InternString(a.Chars + b.Chars)
	m.pop()
	m.pop()
	m.push(FromObject(result))
}
