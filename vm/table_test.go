package vm

import (
	"fmt"
	"testing"
)

func TestTableSetGet(t *testing.T) {
	m := New(DefaultConfig())
	var table Table

	key := m.InternString("answer")
	if !table.Set(key, FromNumber(42)) {
		t.Error("first Set should report a new key")
	}
	if table.Set(key, FromNumber(43)) {
		t.Error("second Set should report an existing key")
	}

	v, ok := table.Get(key)
	if !ok {
		t.Fatal("Get should find the key")
	}
	if v.Number() != 43 {
		t.Errorf("Get = %v, want 43", v.Number())
	}

	if _, ok := table.Get(m.InternString("missing")); ok {
		t.Error("Get should miss an absent key")
	}
}

func TestTableDeleteLeavesTombstone(t *testing.T) {
	m := New(DefaultConfig())
	var table Table

	keys := make([]*StringObject, 0, 16)
	for i := 0; i < 16; i++ {
		k := m.InternString(fmt.Sprintf("key%d", i))
		keys = append(keys, k)
		table.Set(k, FromNumber(float64(i)))
	}

	if !table.Delete(keys[3]) {
		t.Fatal("Delete should report success")
	}
	if table.Delete(keys[3]) {
		t.Error("second Delete should report failure")
	}
	if _, ok := table.Get(keys[3]); ok {
		t.Error("deleted key should be gone")
	}

	// Every other key must remain reachable through probe sequences that
	// may pass the tombstone.
	for i, k := range keys {
		if i == 3 {
			continue
		}
		v, ok := table.Get(k)
		if !ok || v.Number() != float64(i) {
			t.Errorf("key%d lost after delete", i)
		}
	}
}

func TestTableGrowthRehashes(t *testing.T) {
	m := New(DefaultConfig())
	var table Table

	const n = 100
	for i := 0; i < n; i++ {
		table.Set(m.InternString(fmt.Sprintf("entry%d", i)), FromNumber(float64(i)))
	}
	for i := 0; i < n; i++ {
		v, ok := table.Get(m.InternString(fmt.Sprintf("entry%d", i)))
		if !ok || v.Number() != float64(i) {
			t.Fatalf("entry%d missing after growth", i)
		}
	}
}

func TestTableAddAll(t *testing.T) {
	m := New(DefaultConfig())
	var src, dst Table

	a := m.InternString("a")
	b := m.InternString("b")
	src.Set(a, FromNumber(1))
	src.Set(b, FromNumber(2))
	dst.Set(b, FromNumber(99))

	dst.AddAll(&src)

	if v, _ := dst.Get(a); v.Number() != 1 {
		t.Error("AddAll should copy new entries")
	}
	if v, _ := dst.Get(b); v.Number() != 2 {
		t.Error("AddAll should overwrite existing entries")
	}
}

func TestFindStringComparesContent(t *testing.T) {
	m := New(DefaultConfig())

	// The interner uses FindString before allocating, so interning the same
	// content twice must return the identical reference.
	first := m.InternString("shared")
	second := m.InternString("shared")
	if first != second {
		t.Error("interning equal content should return the same reference")
	}

	if m.strings.FindString("absent", HashString("absent")) != nil {
		t.Error("FindString should miss content never interned")
	}
}
