// Package native implements the native function table the VM core calls
// into by index: an ordered, index-stable vector of (args []Value) -> Value
// functions covering I/O and string primitives; it has no math primitives. Everything here
// runs synchronously on the calling goroutine, with no channels and no
// buffering beyond a bufio.Writer/Reader, matching the single-threaded
// execution model of the core.
package native

import (
	"bufio"
	"fmt"
	"io"

	"github.com/Sebastian764/VM/program"
	"github.com/Sebastian764/VM/vm"
)

// StringReader is satisfied by anything that can resolve a string Ref back
// to Go text, so native functions can read the caller's string-pool or heap
// arguments without depending on *vm.VM directly.
type StringReader interface {
	StringAt(r vm.Ref) (string, *vm.Trap)
}

// imageStrings adapts a program.Image (string pool only) to StringReader,
// for the common case of native functions that only ever see string-pool
// references (ALDC results), not heap-allocated char arrays.
type imageStrings struct {
	img *program.Image
}

func (s imageStrings) StringAt(r vm.Ref) (string, *vm.Trap) {
	if r.Space != vm.SpaceString {
		return "", &vm.Trap{Kind: vm.TrapMemory, Message: "native: expected string-pool reference"}
	}
	text, err := s.img.StringAt(r.Offset)
	if err != nil {
		return "", &vm.Trap{Kind: vm.TrapMemory, Message: err.Error()}
	}
	return text, nil
}

// Table is a constructed native function table plus the name->index
// mapping used while assembling a program.
type Table struct {
	funcs []vm.NativeFunc
	index map[string]int
}

// NewTable builds the standard native function table against the given
// image (for resolving string-pool references) and I/O streams.
func NewTable(img *program.Image, out io.Writer, in io.Reader) *Table {
	w := bufio.NewWriter(out)
	r := bufio.NewReader(in)
	var strs StringReader = imageStrings{img: img}

	t := &Table{index: make(map[string]int)}

	t.add("print_int", func(args []vm.Value) (vm.Value, *vm.Trap) {
		n := args[0].IntOf()
		fmt.Fprintf(w, "%d", n)
		w.Flush()
		return vm.FromInt(0), nil
	})

	t.add("print_string", func(args []vm.Value) (vm.Value, *vm.Trap) {
		s, trap := strs.StringAt(args[0].RefOf())
		if trap != nil {
			return vm.Value{}, trap
		}
		w.WriteString(s)
		w.Flush()
		return vm.FromInt(0), nil
	})

	t.add("print_char", func(args []vm.Value) (vm.Value, *vm.Trap) {
		w.WriteByte(byte(args[0].IntOf()))
		w.Flush()
		return vm.FromInt(0), nil
	})

	t.add("read_int", func(args []vm.Value) (vm.Value, *vm.Trap) {
		var n int32
		if _, err := fmt.Fscan(r, &n); err != nil {
			return vm.Value{}, &vm.Trap{Kind: vm.TrapUser, Message: "read_int: " + err.Error()}
		}
		return vm.FromInt(n), nil
	})

	t.add("strlen", func(args []vm.Value) (vm.Value, *vm.Trap) {
		s, trap := strs.StringAt(args[0].RefOf())
		if trap != nil {
			return vm.Value{}, trap
		}
		return vm.FromInt(int32(len(s))), nil
	})

	t.add("streq", func(args []vm.Value) (vm.Value, *vm.Trap) {
		a, trap := strs.StringAt(args[0].RefOf())
		if trap != nil {
			return vm.Value{}, trap
		}
		b, trap := strs.StringAt(args[1].RefOf())
		if trap != nil {
			return vm.Value{}, trap
		}
		if a == b {
			return vm.FromInt(1), nil
		}
		return vm.FromInt(0), nil
	})

	return t
}

func (t *Table) add(name string, fn vm.NativeFunc) {
	t.index[name] = len(t.funcs)
	t.funcs = append(t.funcs, fn)
}

// Funcs returns the ordered function vector the VM core indexes into.
func (t *Table) Funcs() []vm.NativeFunc { return t.funcs }

// IndexOf resolves a native function's name to its stable table index, used
// by the assembler when encoding a `.natives` declaration by name.
func (t *Table) IndexOf(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}
