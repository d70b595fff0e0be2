package vm

import "time"

// ---------------------------------------------------------------------------
// Standard natives
// ---------------------------------------------------------------------------

// registerNatives installs the host functions every VM starts with.
func registerNatives(m *VM) {
	m.DefineNative("clock", func(argCount int, args []Value) Value {
		return FromNumber(time.Since(m.startTime).Seconds())
	})
}
