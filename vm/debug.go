package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Disassembler and execution tracing
// ---------------------------------------------------------------------------

// DisassembleChunk writes a listing of every instruction in the chunk.
func DisassembleChunk(w io.Writer, chunk *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(chunk.Code); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction writes one instruction and returns the offset of
// the next.
func DisassembleInstruction(w io.Writer, chunk *Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.Lines[offset])
	}

	op := Opcode(chunk.Code[offset])
	info := op.Info()

	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		return constantInstruction(w, info.Name, chunk, offset)
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return byteInstruction(w, info.Name, chunk, offset)
	case OpInvoke, OpSuperInvoke:
		return invokeInstruction(w, info.Name, chunk, offset)
	case OpJump, OpJumpIfFalse:
		return jumpInstruction(w, info.Name, 1, chunk, offset)
	case OpLoop:
		return jumpInstruction(w, info.Name, -1, chunk, offset)
	case OpClosure:
		return closureInstruction(w, info.Name, chunk, offset)
	default:
		if _, known := opcodeTable[op]; !known {
			fmt.Fprintf(w, "Unknown opcode %d\n", byte(op))
			return offset + 1
		}
		fmt.Fprintf(w, "%s\n", info.Name)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, name string, chunk *Chunk, offset int) int {
	constant := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", name, constant, chunk.Constants[constant])
	return offset + 2
}

func byteInstruction(w io.Writer, name string, chunk *Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", name, slot)
	return offset + 2
}

func invokeInstruction(w io.Writer, name string, chunk *Chunk, offset int) int {
	constant := chunk.Code[offset+1]
	argCount := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", name, argCount, constant, chunk.Constants[constant])
	return offset + 3
}

func jumpInstruction(w io.Writer, name string, sign int, chunk *Chunk, offset int) int {
	jump := int(readU16(chunk.Code, offset+1))
	fmt.Fprintf(w, "%-16s %4d -> %d\n", name, offset, offset+3+sign*jump)
	return offset + 3
}

func closureInstruction(w io.Writer, name string, chunk *Chunk, offset int) int {
	offset++
	constant := chunk.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d '%s'\n", name, constant, chunk.Constants[constant])

	fn := chunk.Constants[constant].AsFunction()
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := chunk.Code[offset]
		index := chunk.Code[offset+1]
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}

// traceInstruction dumps the stack and the next instruction. Observational
// only; enabled by Config.TraceExecution.
func (m *VM) traceInstruction(frame *CallFrame) {
	fmt.Fprintf(m.stderr, "          ")
	for i := 0; i < m.sp; i++ {
		fmt.Fprintf(m.stderr, "[ %s ]", m.stack[i])
	}
	fmt.Fprintln(m.stderr)
	DisassembleInstruction(m.stderr, &frame.closure.Function.Chunk, frame.ip)
}
