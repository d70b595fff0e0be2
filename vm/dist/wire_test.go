package dist

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/perch/compiler"
	"github.com/chazu/perch/vm"
)

const sampleSource = `
fun make(x) {
  fun inner() { return x; }
  return inner;
}
class Greeter {
  init(name) { this.name = name; }
  greet() { print "hi " + this.name; }
}
var f = make(42);
print f();
Greeter("world").greet();
`

func compileSample(t *testing.T, machine *vm.VM) *vm.FunctionObject {
	t.Helper()
	fn, diags := compiler.Compile(sampleSource, machine)
	if fn == nil {
		t.Fatalf("compile errors: %v", diags)
	}
	return fn
}

func TestRoundTrip(t *testing.T) {
	src := vm.New(vm.DefaultConfig())
	fn := compileSample(t, src)

	data, err := Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}

	dst := vm.New(vm.DefaultConfig())
	decoded, err := Unmarshal(data, dst)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(decoded.Chunk.Code, fn.Chunk.Code) {
		t.Error("bytecode changed across the wire")
	}
	if len(decoded.Chunk.Lines) != len(fn.Chunk.Lines) {
		t.Error("line info changed across the wire")
	}
	if len(decoded.Chunk.Constants) != len(fn.Chunk.Constants) {
		t.Fatal("constant pool size changed across the wire")
	}

	// The decoded script must actually run on the target VM.
	var out bytes.Buffer
	dst.SetOutput(&out)
	if dst.Interpret(decoded) != vm.InterpretOK {
		t.Fatal("decoded chunk failed to execute")
	}
	if out.String() != "42\nhi world\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	machine := vm.New(vm.DefaultConfig())
	fn := compileSample(t, machine)

	first, err := Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("canonical encoding should be byte-for-byte stable")
	}
}

func TestDigestStableAcrossCompiles(t *testing.T) {
	first, err := Digest(compileSample(t, vm.New(vm.DefaultConfig())))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Digest(compileSample(t, vm.New(vm.DefaultConfig())))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("identical source must digest identically")
	}

	other, err := Digest(func() *vm.FunctionObject {
		machine := vm.New(vm.DefaultConfig())
		fn, _ := compiler.Compile(`print "different";`, machine)
		return fn
	}())
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("different source should digest differently")
	}
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	machine := vm.New(vm.DefaultConfig())
	fn := compileSample(t, machine)

	data, err := Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}

	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	s.Version = FormatVersion + 1
	bumped, err := cborEncMode.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Unmarshal(bumped, vm.New(vm.DefaultConfig())); err == nil {
		t.Error("Unmarshal should reject a newer format version")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not cbor at all"), vm.New(vm.DefaultConfig())); err == nil {
		t.Error("Unmarshal should reject malformed input")
	}
}

func TestFunctionNamesReinterned(t *testing.T) {
	src := vm.New(vm.DefaultConfig())
	fn := compileSample(t, src)

	data, err := Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}

	dst := vm.New(vm.DefaultConfig())
	decoded, err := Unmarshal(data, dst)
	if err != nil {
		t.Fatal(err)
	}

	// Interned names on the target VM must be canonical there: the name of
	// the nested function equals a fresh interning of the same content.
	var nested *vm.FunctionObject
	for _, c := range decoded.Chunk.Constants {
		if c.IsFunction() {
			nested = c.AsFunction()
			break
		}
	}
	if nested == nil {
		t.Fatal("no nested function found")
	}
	if nested.Name != dst.InternString(nested.Name.Chars) {
		t.Error("decoded names must be interned on the target VM")
	}
}
