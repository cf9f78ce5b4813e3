// Package vm implements the interpreter core: the fetch-decode-execute
// loop, operand/call stacks, heap, and trap surface for the bytecode
// program representation. It consumes an already-parsed program.Image; it
// never loads files or resolves native functions by name.
package vm

import (
	"fmt"
	"io"
	"math"

	"github.com/Sebastian764/VM/program"
)

// NativeFunc is the shape every entry of the native function table must
// have. It may itself raise a trap.
type NativeFunc func(args []Value) (Value, *Trap)

// defaultMaxCallDepth bounds the call stack so a runaway recursive program
// fails with a trap instead of exhausting host memory.
const defaultMaxCallDepth = 100000

// Options configures one execution.
type Options struct {
	// Trace, when set, emits one line per instruction to Trace (opcode,
	// operand stack size, program counter); this is the optional debug
	// output a build can enable.
	Trace io.Writer

	// MaxCallDepth overrides defaultMaxCallDepth when non-zero.
	MaxCallDepth int
}

// frame is a saved activation record, pushed onto the call stack by
// INVOKESTATIC and popped by RETURN.
type frame struct {
	stack  []Value
	code   []byte
	retPC  int
	locals []Value
}

// VM is one interpreter instance: the active frame's state kept unboxed
// (stack, code, pc, locals) plus the saved-frame call stack and heap.
type VM struct {
	image   *program.Image
	natives []NativeFunc
	heap    Heap

	stack  []Value
	code   []byte
	pc     int
	locals []Value

	callStack []frame
	opts      Options
}

// New constructs a VM ready to run the entry function (function_pool[0]).
func New(img *program.Image, natives []NativeFunc, opts Options) (*VM, error) {
	entry, err := img.EntryFunction()
	if err != nil {
		return nil, err
	}
	maxDepth := opts.MaxCallDepth
	if maxDepth == 0 {
		maxDepth = defaultMaxCallDepth
	}
	opts.MaxCallDepth = maxDepth

	return &VM{
		image:   img,
		natives: natives,
		code:    entry.Code,
		locals:  make([]Value, entry.NumVars),
		opts:    opts,
	}, nil
}

// Execute runs the entry function to completion and returns the i32 payload
// of its return value.
func Execute(img *program.Image, natives []NativeFunc, opts Options) (int32, *Trap) {
	m, err := New(img, natives, opts)
	if err != nil {
		return 0, newTrap(TrapInvalid, 0, err.Error())
	}
	return m.Run()
}

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) top() Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) popRef() Ref {
	v := vm.pop()
	return v.RefOf()
}

func (vm *VM) fetchByte() byte {
	b := vm.code[vm.pc]
	vm.pc++
	return b
}

func (vm *VM) fetchImmediate(n int) []byte {
	b := vm.code[vm.pc : vm.pc+n]
	vm.pc += n
	return b
}

// Run drives the fetch-decode-execute loop until RETURN at call-stack depth
// zero (normal halt) or a trap.
func (vm *VM) Run() (int32, *Trap) {
	for {
		if vm.pc < 0 || vm.pc >= len(vm.code) {
			return 0, newTrap(TrapInvalid, vm.pc, "program counter ran past end of code")
		}

		opPC := vm.pc
		op := Opcode(vm.fetchByte())

		if vm.opts.Trace != nil {
			fmt.Fprintf(vm.opts.Trace, "%02x sp=%d pc=%d\n", byte(op), len(vm.stack), opPC)
		}

		if op.reserved() {
			return 0, newTrap(TrapInvalid, opPC, fmt.Sprintf("unimplemented opcode %s", op))
		}

		trap, halted, exitVal := vm.step(op, opPC)
		if trap != nil {
			trap.PC = opPC
			return 0, trap
		}
		if halted {
			return exitVal, nil
		}
	}
}

// step executes exactly one instruction, returning (trap, halted, exitValue).
func (vm *VM) step(op Opcode, opPC int) (*Trap, bool, int32) {
	switch op {
	case NOP:
		// nothing

	case POP:
		vm.pop()
	case DUP:
		v := vm.top()
		vm.push(v)
	case SWAP:
		a := vm.pop()
		b := vm.pop()
		vm.push(a)
		vm.push(b)

	case IADD, ISUB, IMUL, IDIV, IREM, IAND, IOR, IXOR, ISHL, ISHR:
		r := vm.pop().IntOf()
		l := vm.pop().IntOf()
		v, trap := intBinOp(op, l, r)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromInt(v))

	case BIPUSH:
		b := vm.fetchImmediate(1)[0]
		vm.push(FromInt(int32(int8(b))))
	case ILDC:
		idx := uint16FromBytes(vm.fetchImmediate(2))
		vm.push(FromInt(vm.image.Ints[idx]))
	case ALDC:
		off := uint16FromBytes(vm.fetchImmediate(2))
		vm.push(FromRef(Ref{Space: SpaceString, Offset: int32(off)}))
	case ACONST_NULL:
		vm.push(FromRef(NullRef))

	case VLOAD:
		i := vm.fetchImmediate(1)[0]
		vm.push(vm.locals[i])
	case VSTORE:
		i := vm.fetchImmediate(1)[0]
		vm.locals[i] = vm.pop()

	case ATHROW:
		r := vm.popRef()
		msg, trap := vm.stringFor(r)
		if trap != nil {
			return trap, false, 0
		}
		return newTrap(TrapUser, opPC, msg), false, 0
	case ASSERT:
		m := vm.popRef()
		x := vm.pop().IntOf()
		if x == 0 {
			msg, trap := vm.stringFor(m)
			if trap != nil {
				return trap, false, 0
			}
			return newTrap(TrapAssertion, opPC, msg), false, 0
		}

	case IF_CMPEQ, IF_CMPNE:
		b := vm.pop()
		a := vm.pop()
		eq := Equal(a, b)
		taken := eq
		if op == IF_CMPNE {
			taken = !eq
		}
		vm.branch(opPC, taken)
	case IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE:
		r := vm.pop().IntOf()
		l := vm.pop().IntOf()
		var taken bool
		switch op {
		case IF_ICMPLT:
			taken = l < r
		case IF_ICMPGE:
			taken = l >= r
		case IF_ICMPGT:
			taken = l > r
		case IF_ICMPLE:
			taken = l <= r
		}
		vm.branch(opPC, taken)
	case GOTO:
		vm.branch(opPC, true)

	case INVOKESTATIC:
		idx := uint16FromBytes(vm.fetchImmediate(2))
		if int(idx) >= len(vm.image.Functions) {
			return newTrap(TrapInvalid, opPC, "invokestatic index out of range"), false, 0
		}
		if len(vm.callStack) >= vm.opts.MaxCallDepth {
			return newTrap(TrapMemory, opPC, "call stack overflow"), false, 0
		}
		fn := vm.image.Functions[idx]

		newLocals := make([]Value, fn.NumVars)
		for i := int(fn.NumArgs) - 1; i >= 0; i-- {
			newLocals[i] = vm.pop()
		}

		vm.callStack = append(vm.callStack, frame{
			stack:  vm.stack,
			code:   vm.code,
			retPC:  vm.pc,
			locals: vm.locals,
		})

		vm.stack = nil
		vm.code = fn.Code
		vm.pc = 0
		vm.locals = newLocals

	case INVOKENATIVE:
		idx := uint16FromBytes(vm.fetchImmediate(2))
		if int(idx) >= len(vm.image.Natives) {
			return newTrap(TrapInvalid, opPC, "invokenative index out of range"), false, 0
		}
		nat := vm.image.Natives[idx]
		if int(nat.FunctionTableIdx) >= len(vm.natives) {
			return newTrap(TrapInvalid, opPC, "native function table index out of range"), false, 0
		}
		args := make([]Value, nat.NumArgs)
		for i := int(nat.NumArgs) - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		ret, trap := vm.natives[nat.FunctionTableIdx](args)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(ret)

	case RETURN:
		retVal := vm.pop()
		if len(vm.callStack) == 0 {
			return nil, true, retVal.IntOf()
		}
		saved := vm.callStack[len(vm.callStack)-1]
		vm.callStack = vm.callStack[:len(vm.callStack)-1]
		vm.stack = saved.stack
		vm.code = saved.code
		vm.pc = saved.retPC
		vm.locals = saved.locals
		vm.push(retVal)

	case IMLOAD:
		r := vm.popRef()
		v, trap := vm.heap.LoadInt(r)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromInt(v))
	case IMSTORE:
		v := vm.pop().IntOf()
		r := vm.popRef()
		if trap := vm.heap.StoreInt(r, v); trap != nil {
			return trap, false, 0
		}
	case CMLOAD:
		r := vm.popRef()
		v, trap := vm.heap.LoadChar(r)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromInt(v))
	case CMSTORE:
		v := vm.pop().IntOf()
		r := vm.popRef()
		if trap := vm.heap.StoreChar(r, v); trap != nil {
			return trap, false, 0
		}
	case AMLOAD:
		r := vm.popRef()
		v, trap := vm.heap.LoadRef(r)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromRef(v))
	case AMSTORE:
		v := vm.popRef()
		r := vm.popRef()
		if trap := vm.heap.StoreRef(r, v); trap != nil {
			return trap, false, 0
		}
	case AADDF:
		off := vm.fetchImmediate(1)[0]
		r := vm.popRef()
		newRef, trap := vm.heap.AddField(r, off)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromRef(newRef))

	case NEW:
		n := vm.fetchImmediate(1)[0]
		vm.push(FromRef(vm.heap.AllocCell(n)))
	case NEWARRAY:
		stride := int8(vm.fetchImmediate(1)[0])
		n := vm.pop().IntOf()
		r, trap := vm.heap.AllocArray(n, int32(stride))
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromRef(r))
	case ARRAYLENGTH:
		r := vm.popRef()
		n, trap := vm.heap.ArrayLength(r)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromInt(n))
	case AADDS:
		k := vm.pop().IntOf()
		r := vm.popRef()
		elem, trap := vm.heap.Index(r, k)
		if trap != nil {
			return trap, false, 0
		}
		vm.push(FromRef(elem))

	default:
		return newTrap(TrapInvalid, opPC, fmt.Sprintf("unknown opcode 0x%02x", byte(op))), false, 0
	}

	return nil, false, 0
}

// branch reads the signed 16-bit big-endian offset following the branch
// opcode's own address and, if taken, adds it to that address; otherwise it
// falls through past the 3-byte instruction.
func (vm *VM) branch(opPC int, taken bool) {
	offBytes := vm.fetchImmediate(2)
	if !taken {
		return
	}
	offset := int16FromBytes(offBytes)
	vm.pc = opPC + int(offset)
}

func (vm *VM) stringFor(r Ref) (string, *Trap) {
	if r.Null || r.Space != SpaceString {
		return "", newTrap(TrapMemory, vm.pc, "expected string reference")
	}
	s, err := vm.image.StringAt(r.Offset)
	if err != nil {
		return "", newTrap(TrapMemory, vm.pc, err.Error())
	}
	return s, nil
}

// intBinOp implements the arithmetic and bitwise family, with l the value
// pushed first (next) and r the value pushed second (top).
func intBinOp(op Opcode, l, r int32) (int32, *Trap) {
	switch op {
	case IADD:
		return l + r, nil
	case ISUB:
		return l - r, nil
	case IMUL:
		return l * r, nil
	case IDIV:
		if r == 0 {
			return 0, newTrap(TrapArithmetic, -1, "division by zero")
		}
		if l == math.MinInt32 && r == -1 {
			return 0, newTrap(TrapArithmetic, -1, "division overflow")
		}
		return l / r, nil
	case IREM:
		if r == 0 {
			return 0, newTrap(TrapArithmetic, -1, "division by zero")
		}
		if l == math.MinInt32 && r == -1 {
			return 0, newTrap(TrapArithmetic, -1, "division overflow")
		}
		return l - (l/r)*r, nil
	case IAND:
		return l & r, nil
	case IOR:
		return l | r, nil
	case IXOR:
		return l ^ r, nil
	case ISHL:
		if r < 0 || r >= 32 {
			return 0, newTrap(TrapArithmetic, -1, "shift amount out of range")
		}
		return l << uint(r), nil
	case ISHR:
		if r < 0 || r >= 32 {
			return 0, newTrap(TrapArithmetic, -1, "shift amount out of range")
		}
		return l >> uint(r), nil
	default:
		panic("vm: intBinOp called with non-arithmetic opcode")
	}
}
