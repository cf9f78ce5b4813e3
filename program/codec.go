package program

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies the on-disk image format consumed by this loader. It has
// no bearing on the bytecode format itself, which is defined purely in
// terms of opcode + immediate bytes inside a function's code.
var magic = [4]byte{'C', 'V', 'M', '1'}

// Write serializes img in the loader's binary container format. All
// multi-byte fields are big-endian, matching the bytecode immediates
// themselves.
func Write(w io.Writer, img *Image) error {
	bw := &byteWriter{w: w}
	bw.write(magic[:])

	bw.writeUint16(uint16(len(img.Functions)))
	for _, fn := range img.Functions {
		bw.writeUint16(fn.NumArgs)
		bw.writeUint16(fn.NumVars)
		bw.writeUint32(uint32(len(fn.Code)))
		bw.write(fn.Code)
	}

	bw.writeUint32(uint32(len(img.Ints)))
	for _, v := range img.Ints {
		bw.writeUint32(uint32(v))
	}

	bw.writeUint32(uint32(len(img.Strings)))
	bw.write(img.Strings)

	bw.writeUint16(uint16(len(img.Natives)))
	for _, n := range img.Natives {
		bw.writeUint16(n.NumArgs)
		bw.writeUint16(n.FunctionTableIdx)
	}

	return bw.err
}

// Read parses an image previously produced by Write. Pool indices embedded
// in bytecode are not range-checked here against these pools; that bounds
// checking is the loader's responsibility, performed once at load time
// rather than on every dispatch (CheckBounds does that pass).
func Read(r io.Reader) (*Image, error) {
	br := &byteReader{r: r}

	var gotMagic [4]byte
	br.read(gotMagic[:])
	if br.err != nil {
		return nil, br.err
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("program: bad magic %q", gotMagic)
	}

	img := &Image{}

	numFns := br.readUint16()
	img.Functions = make([]Function, numFns)
	for i := range img.Functions {
		img.Functions[i].NumArgs = br.readUint16()
		img.Functions[i].NumVars = br.readUint16()
		codeLen := br.readUint32()
		code := make([]byte, codeLen)
		br.read(code)
		img.Functions[i].Code = code
	}

	numInts := br.readUint32()
	img.Ints = make([]int32, numInts)
	for i := range img.Ints {
		img.Ints[i] = int32(br.readUint32())
	}

	strLen := br.readUint32()
	img.Strings = make([]byte, strLen)
	br.read(img.Strings)

	numNatives := br.readUint16()
	img.Natives = make([]Native, numNatives)
	for i := range img.Natives {
		img.Natives[i].NumArgs = br.readUint16()
		img.Natives[i].FunctionTableIdx = br.readUint16()
	}

	if br.err != nil {
		return nil, br.err
	}
	return img, nil
}

// CheckBounds validates every pool index and branch target embedded in the
// image's function code so the core itself never has to bounds-check a pool
// lookup. It does not validate opcode semantics beyond that.
func CheckBounds(img *Image) error {
	for fi, fn := range img.Functions {
		code := fn.Code
		for pc := 0; pc < len(code); {
			op := code[pc]
			imm := immediateLen(op)
			if pc+1+imm > len(code) {
				return fmt.Errorf("function %d: truncated instruction at %d", fi, pc)
			}
			if err := checkPoolRefs(img, op, code[pc+1:pc+1+imm]); err != nil {
				return fmt.Errorf("function %d at %d: %w", fi, pc, err)
			}
			if op >= 0x50 && op <= 0x56 { // IF_*, GOTO: offset is relative to the opcode
				target := pc + int(int16(binary.BigEndian.Uint16(code[pc+1:pc+3])))
				if target < 0 || target >= len(code) {
					return fmt.Errorf("function %d at %d: branch target %d out of range", fi, pc, target)
				}
			}
			pc += 1 + imm
		}
	}
	return nil
}

// immediateLen mirrors vm.Opcode.ImmediateBytes without importing the vm
// package, so the loader stays independent of the core.
func immediateLen(op byte) int {
	switch op {
	case 0x20, 0x30, 0x31, 0x80, 0x81, 0x76: // BIPUSH, VLOAD, VSTORE, NEW, NEWARRAY, AADDF
		return 1
	case 0x21, 0x22, 0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x60, 0x61:
		// ILDC, ALDC, IF_*, GOTO, INVOKESTATIC, INVOKENATIVE
		return 2
	default:
		return 0
	}
}

func checkPoolRefs(img *Image, op byte, imm []byte) error {
	switch op {
	case 0x21: // ILDC
		idx := binary.BigEndian.Uint16(imm)
		if int(idx) >= len(img.Ints) {
			return fmt.Errorf("ildc index %d out of range", idx)
		}
	case 0x22: // ALDC
		off := binary.BigEndian.Uint16(imm)
		if int(off) > len(img.Strings) {
			return fmt.Errorf("aldc offset %d out of range", off)
		}
	case 0x60: // INVOKESTATIC
		idx := binary.BigEndian.Uint16(imm)
		if int(idx) >= len(img.Functions) {
			return fmt.Errorf("invokestatic index %d out of range", idx)
		}
	case 0x61: // INVOKENATIVE
		idx := binary.BigEndian.Uint16(imm)
		if int(idx) >= len(img.Natives) {
			return fmt.Errorf("invokenative index %d out of range", idx)
		}
	}
	return nil
}

type byteWriter struct {
	w   io.Writer
	err error
}

func (bw *byteWriter) write(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *byteWriter) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	bw.write(b[:])
}

func (bw *byteWriter) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	bw.write(b[:])
}

type byteReader struct {
	r   io.Reader
	err error
}

func (br *byteReader) read(b []byte) {
	if br.err != nil {
		return
	}
	_, br.err = io.ReadFull(br.r, b)
}

func (br *byteReader) readUint16() uint16 {
	var b [2]byte
	br.read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (br *byteReader) readUint32() uint32 {
	var b [4]byte
	br.read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
