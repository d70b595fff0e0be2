// Package dist serializes compiled Perch chunks for tooling. The format is
// NOT stable: it is version-tagged and only readable by the same build that
// produced it.
package dist

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/perch/vm"
)

// FormatVersion is bumped whenever the wire layout changes.
const FormatVersion = 1

// cborEncMode uses canonical encoding so identical chunks serialize to
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Value kinds on the wire. Only the kinds a constant pool can hold appear.
const (
	kNil = iota
	kBool
	kNumber
	kString
	kFunction
)

type wireValue struct {
	Kind     int           `cbor:"k"`
	Bool     bool          `cbor:"b,omitempty"`
	Number   float64       `cbor:"n,omitempty"`
	String   string        `cbor:"s,omitempty"`
	Function *wireFunction `cbor:"f,omitempty"`
}

type wireChunk struct {
	Code      []byte      `cbor:"c"`
	Lines     []int       `cbor:"l"`
	Constants []wireValue `cbor:"k"`
}

type wireFunction struct {
	Name          string    `cbor:"n,omitempty"`
	Arity         int       `cbor:"a"`
	UpvalueCount  int       `cbor:"u"`
	IsInitializer bool      `cbor:"i,omitempty"`
	Chunk         wireChunk `cbor:"c"`
}

type snapshot struct {
	Version  int          `cbor:"v"`
	Function wireFunction `cbor:"f"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serializes a compiled top-level function to CBOR bytes.
func Marshal(fn *vm.FunctionObject) ([]byte, error) {
	wf, err := encodeFunction(fn)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(snapshot{Version: FormatVersion, Function: *wf})
}

func encodeFunction(fn *vm.FunctionObject) (*wireFunction, error) {
	wf := &wireFunction{
		Arity:         fn.Arity,
		UpvalueCount:  fn.UpvalueCount,
		IsInitializer: fn.IsInitializer,
	}
	if fn.Name != nil {
		wf.Name = fn.Name.Chars
	}

	wf.Chunk.Code = fn.Chunk.Code
	wf.Chunk.Lines = fn.Chunk.Lines
	for _, c := range fn.Chunk.Constants {
		wv, err := encodeValue(c)
		if err != nil {
			return nil, err
		}
		wf.Chunk.Constants = append(wf.Chunk.Constants, wv)
	}
	return wf, nil
}

func encodeValue(v vm.Value) (wireValue, error) {
	switch {
	case v.IsNil():
		return wireValue{Kind: kNil}, nil
	case v.IsBool():
		return wireValue{Kind: kBool, Bool: v.Bool()}, nil
	case v.IsNumber():
		return wireValue{Kind: kNumber, Number: v.Number()}, nil
	case v.IsString():
		return wireValue{Kind: kString, String: v.AsString().Chars}, nil
	case v.IsFunction():
		wf, err := encodeFunction(v.AsFunction())
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{Kind: kFunction, Function: wf}, nil
	default:
		return wireValue{}, fmt.Errorf("dist: value kind %d cannot appear in a constant pool", v.Kind())
	}
}

// Digest returns a content hash of a compiled function. Because the
// encoding is canonical, identical compilations digest identically; tooling
// can use this to content-address cached chunks.
func Digest(fn *vm.FunctionObject) (string, error) {
	data, err := Marshal(fn)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Unmarshal rebuilds a compiled function on the given VM. Strings are
// re-interned on the target VM's table.
func Unmarshal(data []byte, machine *vm.VM) (*vm.FunctionObject, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dist: unmarshal snapshot: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("dist: format version %d, this build reads %d", s.Version, FormatVersion)
	}
	return decodeFunction(&s.Function, machine)
}

func decodeFunction(wf *wireFunction, machine *vm.VM) (*vm.FunctionObject, error) {
	fn := machine.NewFunction()
	// The function under construction must survive collections triggered by
	// interning its name and constants.
	machine.Protect(vm.FromObject(fn))
	defer machine.Unprotect()

	fn.Arity = wf.Arity
	fn.UpvalueCount = wf.UpvalueCount
	fn.IsInitializer = wf.IsInitializer
	if wf.Name != "" {
		fn.Name = machine.InternString(wf.Name)
	}
	fn.Chunk.Code = wf.Chunk.Code
	fn.Chunk.Lines = wf.Chunk.Lines
	if len(fn.Chunk.Code) != len(fn.Chunk.Lines) {
		return nil, fmt.Errorf("dist: line array length %d does not match code length %d",
			len(fn.Chunk.Lines), len(fn.Chunk.Code))
	}

	for _, wv := range wf.Chunk.Constants {
		v, err := decodeValue(wv, machine)
		if err != nil {
			return nil, err
		}
		fn.Chunk.AddConstant(v)
	}
	// The chunk was filled outside the allocator; settle the accounting.
	machine.Reallocated(fn)
	return fn, nil
}

func decodeValue(wv wireValue, machine *vm.VM) (vm.Value, error) {
	switch wv.Kind {
	case kNil:
		return vm.Nil, nil
	case kBool:
		return vm.FromBool(wv.Bool), nil
	case kNumber:
		return vm.FromNumber(wv.Number), nil
	case kString:
		return vm.FromObject(machine.InternString(wv.String)), nil
	case kFunction:
		if wv.Function == nil {
			return vm.Nil, fmt.Errorf("dist: function constant missing body")
		}
		fn, err := decodeFunction(wv.Function, machine)
		if err != nil {
			return vm.Nil, err
		}
		return vm.FromObject(fn), nil
	default:
		return vm.Nil, fmt.Errorf("dist: unknown wire kind %d", wv.Kind)
	}
}
