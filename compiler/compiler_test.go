package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/perch/vm"
)

func compileOK(t *testing.T, source string) *vm.FunctionObject {
	t.Helper()
	fn, diags := Compile(source, vm.New(vm.DefaultConfig()))
	if fn == nil {
		t.Fatalf("unexpected compile errors: %v", diags)
	}
	return fn
}

func compileError(t *testing.T, source, wantMessage string) {
	t.Helper()
	fn, diags := Compile(source, vm.New(vm.DefaultConfig()))
	if fn != nil {
		t.Fatalf("expected compile error %q, got success", wantMessage)
	}
	for _, d := range diags {
		if strings.Contains(d.Message, wantMessage) {
			return
		}
	}
	t.Errorf("diagnostics %v missing %q", diags, wantMessage)
}

// ---------------------------------------------------------------------------
// Bytecode shape
// ---------------------------------------------------------------------------

func TestSimpleExpressionBytecode(t *testing.T) {
	fn := compileOK(t, `print 1 + 2;`)
	want := []byte{
		byte(vm.OpConstant), 0,
		byte(vm.OpConstant), 1,
		byte(vm.OpAdd),
		byte(vm.OpPrint),
		byte(vm.OpNil),
		byte(vm.OpReturn),
	}
	if len(fn.Chunk.Code) != len(want) {
		t.Fatalf("code length %d, want %d", len(fn.Chunk.Code), len(want))
	}
	for i, b := range want {
		if fn.Chunk.Code[i] != b {
			t.Errorf("byte %d = %d, want %d", i, fn.Chunk.Code[i], b)
		}
	}
	if fn.Chunk.Constants[0].Number() != 1 || fn.Chunk.Constants[1].Number() != 2 {
		t.Error("constant pool should hold 1 and 2 in order")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	source := `
fun outer(a) {
  var b = a + 1;
  fun inner() { return b; }
  return inner;
}
class Pair { init(x, y) { this.x = x; this.y = y; } }
print outer(1)() + Pair(2, 3).y;
`
	first := compileOK(t, source)
	second := compileOK(t, source)
	if len(first.Chunk.Code) != len(second.Chunk.Code) {
		t.Fatalf("code lengths differ: %d vs %d", len(first.Chunk.Code), len(second.Chunk.Code))
	}
	for i := range first.Chunk.Code {
		if first.Chunk.Code[i] != second.Chunk.Code[i] {
			t.Fatalf("bytecode differs at offset %d", i)
		}
	}
	if len(first.Chunk.Lines) != len(first.Chunk.Code) {
		t.Error("line array must parallel the code array")
	}
}

func TestJumpOperandsAreBigEndian(t *testing.T) {
	fn := compileOK(t, `if (true) { print 1; } else { print 2; }`)

	// The first jump is the OpJumpIfFalse over the then branch.
	code := fn.Chunk.Code
	idx := -1
	for i := 0; i < len(code); i++ {
		if vm.Opcode(code[i]) == vm.OpJumpIfFalse {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.Fatal("no OpJumpIfFalse emitted")
	}
	offset := int(code[idx+1])<<8 | int(code[idx+2])
	target := idx + 3 + offset
	if target <= idx+3 || target >= len(code) {
		t.Errorf("jump target %d out of range", target)
	}
	// The patched target must land on the else branch's pop.
	if vm.Opcode(code[target]) != vm.OpPop {
		t.Errorf("jump lands on %v, want POP", vm.Opcode(code[target]))
	}
}

func TestLoopJumpsBackward(t *testing.T) {
	fn := compileOK(t, `while (true) { print 1; }`)
	code := fn.Chunk.Code
	idx := -1
	for i := 0; i < len(code); i++ {
		if vm.Opcode(code[i]) == vm.OpLoop {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.Fatal("no OpLoop emitted")
	}
	offset := int(code[idx+1])<<8 | int(code[idx+2])
	if idx+3-offset != 0 {
		t.Errorf("loop should target offset 0, targets %d", idx+3-offset)
	}
}

func TestClosureCapturePairs(t *testing.T) {
	fn := compileOK(t, `
fun outer() {
  var a = 1;
  fun middle() {
    fun inner() { return a; }
    return inner;
  }
  return middle;
}
`)
	// outer is the only constant holding a function in the script chunk.
	var outer *vm.FunctionObject
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			outer = c.AsFunction()
		}
	}
	if outer == nil {
		t.Fatal("outer function not in constant pool")
	}

	var middle *vm.FunctionObject
	for _, c := range outer.Chunk.Constants {
		if c.IsFunction() {
			middle = c.AsFunction()
		}
	}
	if middle == nil {
		t.Fatal("middle function not in constant pool")
	}
	if middle.UpvalueCount != 1 {
		t.Errorf("middle should capture one upvalue, has %d", middle.UpvalueCount)
	}

	var inner *vm.FunctionObject
	for _, c := range middle.Chunk.Constants {
		if c.IsFunction() {
			inner = c.AsFunction()
		}
	}
	if inner == nil {
		t.Fatal("inner function not in constant pool")
	}
	// inner reaches a through middle's upvalue, not directly.
	if inner.UpvalueCount != 1 {
		t.Errorf("inner should capture one upvalue, has %d", inner.UpvalueCount)
	}
}

func TestFunctionMetadata(t *testing.T) {
	fn := compileOK(t, `fun add3(a, b, c) { return a + b + c; }`)
	var add3 *vm.FunctionObject
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			add3 = c.AsFunction()
		}
	}
	if add3 == nil {
		t.Fatal("function not in constant pool")
	}
	if add3.Arity != 3 {
		t.Errorf("arity = %d, want 3", add3.Arity)
	}
	if add3.Name == nil || add3.Name.Chars != "add3" {
		t.Errorf("name = %v, want add3", add3.Name)
	}
	if fn.Name != nil {
		t.Error("script function must be unnamed")
	}
}

func TestInitializerIsTagged(t *testing.T) {
	fn := compileOK(t, `class C { init() {} other() {} }`)
	var initFn, otherFn *vm.FunctionObject
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			f := c.AsFunction()
			switch f.Name.Chars {
			case "init":
				initFn = f
			case "other":
				otherFn = f
			}
		}
	}
	if initFn == nil || !initFn.IsInitializer {
		t.Error("init method must be tagged as initializer")
	}
	if otherFn == nil || otherFn.IsInitializer {
		t.Error("ordinary methods must not be tagged as initializer")
	}
}

// ---------------------------------------------------------------------------
// Compile errors
// ---------------------------------------------------------------------------

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"invalid assignment target", `1 = 2;`, "Invalid assignment target."},
		{"invalid binary expression target", `var a; var b; a + b = 1;`, "Invalid assignment target."},
		{"return at top level", `return 1;`, "Can't return from top-level code."},
		{"return value from init", `class C { init() { return 1; } }`,
			"Can't return a value from an initializer."},
		{"this outside class", `print this;`, "Can't use 'this' outside of a class."},
		{"super outside class", `print super.x;`, "Can't use 'super' outside of a class."},
		{"super without superclass", `class A { m() { super.m(); } }`,
			"Can't use 'super' in a class with no superclass."},
		{"self inheritance", `class A < A {}`, "A class can't inherit from itself."},
		{"duplicate local", `{ var a = 1; var a = 2; }`,
			"Already a variable with this name in this scope."},
		{"own initializer", `{ var a = 1; { var a = a; } }`,
			"Can't read local variable in its own initializer."},
		{"missing semicolon", `print 1`, "Expect ';' after value."},
		{"missing expression", `print ;`, "Expect expression."},
		{"unterminated string", `var s = "oops;`, "Unterminated string."},
		{"unexpected character", `var a = 1 @ 2;`, "Unexpected character."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compileError(t, tt.source, tt.want)
		})
	}
}

func TestErrorFormat(t *testing.T) {
	_, diags := Compile("var = 1;", vm.New(vm.DefaultConfig()))
	if len(diags) == 0 {
		t.Fatal("expected diagnostics")
	}
	got := diags[0].String()
	want := "[line 1] Error at '=': Expect variable name."
	if got != want {
		t.Errorf("diagnostic = %q, want %q", got, want)
	}
}

func TestErrorAtEnd(t *testing.T) {
	_, diags := Compile("print 1", vm.New(vm.DefaultConfig()))
	if len(diags) == 0 {
		t.Fatal("expected diagnostics")
	}
	if !strings.Contains(diags[0].String(), " at end") {
		t.Errorf("diagnostic = %q, want ' at end' location", diags[0].String())
	}
}

func TestPanicModeRecovers(t *testing.T) {
	// Two independent errors separated by a statement boundary should both
	// surface; the garbage between them should not cascade.
	_, diags := Compile("var = 1;\nprint ;\n", vm.New(vm.DefaultConfig()))
	if len(diags) != 2 {
		t.Errorf("got %d diagnostics, want 2: %v", len(diags), diags)
	}
}

func TestTooManyConstants(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 260; i++ {
		// Distinct number literals each take a constant slot.
		fmt.Fprintf(&b, "print %d.5;\n", i)
	}
	compileError(t, b.String(), "Too many constants in one chunk.")
}

func TestTooManyParameters(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun big(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "p%d", i)
	}
	b.WriteString(") {}")
	compileError(t, b.String(), "Can't have more than 255 parameters.")
}

func TestTooManyArguments(t *testing.T) {
	var b strings.Builder
	// Arguments are a local variable, not literals: each literal would take
	// a constant slot and hit the constant limit before the argument limit.
	b.WriteString("fun f() {} { var a = 1; f(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("a")
	}
	b.WriteString("); }")
	compileError(t, b.String(), "Can't have more than 255 arguments.")
}
