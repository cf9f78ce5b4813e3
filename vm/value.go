package vm

import "fmt"

// Kind discriminates the two variants a Value may hold. Every opcode that
// touches the operand stack or a local slot must preserve the variant it
// finds; nothing in this package silently reinterprets one as the other.
type Kind uint8

const (
	KindInt Kind = iota
	KindRef
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "ref"
}

// RefSpace says which addressable region a Ref points into.
type RefSpace uint8

const (
	SpaceNone RefSpace = iota
	SpaceHeap
	SpaceString
)

// Ref is an opaque reference: null, a byte offset into the string pool, or
// a (block, offset) pair into the heap arena. Address arithmetic (AADDF,
// AADDS) only ever produces a new Ref of the same space as its input.
type Ref struct {
	Null   bool
	Space  RefSpace
	Block  int32
	Offset int32
}

// NullRef is the canonical null reference value.
var NullRef = Ref{Null: true}

func (r Ref) String() string {
	if r.Null {
		return "null"
	}
	if r.Space == SpaceString {
		return fmt.Sprintf("str+%d", r.Offset)
	}
	return fmt.Sprintf("blk%d+%d", r.Block, r.Offset)
}

// Value is a tagged union of Int(i32) and Ref(addr), per the data model.
type Value struct {
	kind Kind
	i    int32
	r    Ref
}

// FromInt wraps a signed 32-bit integer as a Value.
func FromInt(i int32) Value { return Value{kind: KindInt, i: i} }

// FromRef wraps a Ref as a Value.
func FromRef(r Ref) Value { return Value{kind: KindRef, r: r} }

// IsInt reports whether v holds the Int variant.
func (v Value) IsInt() bool { return v.kind == KindInt }

// IsRef reports whether v holds the Ref variant.
func (v Value) IsRef() bool { return v.kind == KindRef }

func (v Value) Kind() Kind { return v.kind }

// IntOf returns the Int payload. Calling this on a Ref value is a bytecode
// verifier bug, not a dynamic trap condition, so it panics rather than
// silently misreading the value.
func (v Value) IntOf() int32 {
	if v.kind != KindInt {
		panic("vm: IntOf on a Ref value")
	}
	return v.i
}

// RefOf returns the Ref payload, panicking under the same rule as IntOf.
func (v Value) RefOf() Ref {
	if v.kind != KindRef {
		panic("vm: RefOf on an Int value")
	}
	return v.r
}

// Equal implements the structural equality of §4.1: both Int with equal bit
// patterns, or both Ref naming the same address (including both null).
// Mixed-variant comparisons are false.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindInt {
		return a.i == b.i
	}
	ar, br := a.r, b.r
	if ar.Null || br.Null {
		return ar.Null == br.Null
	}
	return ar.Space == br.Space && ar.Block == br.Block && ar.Offset == br.Offset
}

func (v Value) String() string {
	if v.kind == KindInt {
		return fmt.Sprintf("%d", v.i)
	}
	return v.r.String()
}
