package vm

// refBytes is the serialized width of a Ref stored inside a heap cell or
// array element (used by AMLOAD/AMSTORE). It is an internal implementation
// choice, not something bytecode ever observes the size of directly.
const refBytes = 10

type blockKind uint8

const (
	blockCell blockKind = iota
	blockArray
)

// block is one heap allocation: either a zeroed struct cell of N bytes, or
// an array's element region (count * stride zeroed bytes). The heap never
// reclaims blocks; it is a simple bump arena of append-only blocks, with no
// collector.
type block struct {
	kind   blockKind
	bytes  []byte
	count  int32
	stride int32
}

// Heap owns every struct cell and array object allocated during execution.
type Heap struct {
	blocks []block
}

// AllocCell returns a reference to n freshly zeroed bytes. n == 0 is legal
// and yields a distinct non-null reference.
func (h *Heap) AllocCell(n uint8) Ref {
	id := int32(len(h.blocks))
	h.blocks = append(h.blocks, block{kind: blockCell, bytes: make([]byte, n)})
	return Ref{Space: SpaceHeap, Block: id}
}

// AllocArray returns a reference to a fresh array header with the given
// element count and stride. Negative count traps memory error.
func (h *Heap) AllocArray(n int32, stride int32) (Ref, *Trap) {
	if n < 0 {
		return Ref{}, newTrap(TrapMemory, -1, "negative array allocation size")
	}
	id := int32(len(h.blocks))
	h.blocks = append(h.blocks, block{
		kind:   blockArray,
		bytes:  make([]byte, int64(n)*int64(stride)),
		count:  n,
		stride: stride,
	})
	return Ref{Space: SpaceHeap, Block: id}, nil
}

func (h *Heap) blockFor(r Ref) (*block, *Trap) {
	if r.Null || r.Space != SpaceHeap {
		return nil, newTrap(TrapMemory, -1, "null dereference")
	}
	if r.Block < 0 || int(r.Block) >= len(h.blocks) {
		return nil, newTrap(TrapMemory, -1, "invalid heap reference")
	}
	return &h.blocks[r.Block], nil
}

// AddField returns r+off as bytes, within the same owning block. Null input
// traps memory error.
func (h *Heap) AddField(r Ref, off uint8) (Ref, *Trap) {
	if r.Null {
		return Ref{}, newTrap(TrapMemory, -1, "field access on null reference")
	}
	blk, trap := h.blockFor(r)
	if trap != nil {
		return Ref{}, trap
	}
	newOff := r.Offset + int32(off)
	if newOff < 0 || int(newOff) > len(blk.bytes) {
		return Ref{}, newTrap(TrapMemory, -1, "field offset out of bounds")
	}
	return Ref{Space: SpaceHeap, Block: r.Block, Offset: newOff}, nil
}

// Index returns the address of element k in the array referenced by r.
// Traps memory error on null, k < 0, or k >= count.
func (h *Heap) Index(r Ref, k int32) (Ref, *Trap) {
	blk, trap := h.blockFor(r)
	if trap != nil {
		return Ref{}, trap
	}
	if blk.kind != blockArray {
		return Ref{}, newTrap(TrapMemory, -1, "index of non-array reference")
	}
	if k < 0 || k >= blk.count {
		return Ref{}, newTrap(TrapMemory, -1, "array index out of bounds")
	}
	return Ref{Space: SpaceHeap, Block: r.Block, Offset: r.Offset + k*blk.stride}, nil
}

// ArrayLength returns the element count of the array referenced by r.
func (h *Heap) ArrayLength(r Ref) (int32, *Trap) {
	blk, trap := h.blockFor(r)
	if trap != nil {
		return 0, trap
	}
	if blk.kind != blockArray {
		return 0, newTrap(TrapMemory, -1, "length of non-array reference")
	}
	return blk.count, nil
}

func (h *Heap) bytesAt(r Ref, n int) ([]byte, *Trap) {
	blk, trap := h.blockFor(r)
	if trap != nil {
		return nil, trap
	}
	if r.Offset < 0 || int(r.Offset)+n > len(blk.bytes) {
		return nil, newTrap(TrapMemory, -1, "access out of bounds")
	}
	return blk.bytes[r.Offset : int(r.Offset)+n], nil
}

// LoadInt reads a 4-byte integer field at r (IMLOAD).
func (h *Heap) LoadInt(r Ref) (int32, *Trap) {
	b, trap := h.bytesAt(r, 4)
	if trap != nil {
		return 0, trap
	}
	return int32FromBytes(b), nil
}

// StoreInt writes a 4-byte integer field at r (IMSTORE).
func (h *Heap) StoreInt(r Ref, v int32) *Trap {
	b, trap := h.bytesAt(r, 4)
	if trap != nil {
		return trap
	}
	int32ToBytes(v, b)
	return nil
}

// LoadChar reads a 1-byte char field at r (CMLOAD), low 7 bits significant.
func (h *Heap) LoadChar(r Ref) (int32, *Trap) {
	b, trap := h.bytesAt(r, 1)
	if trap != nil {
		return 0, trap
	}
	return int32(b[0] & 0x7f), nil
}

// StoreChar writes only the low 7 bits of v to the char field at r (CMSTORE).
func (h *Heap) StoreChar(r Ref, v int32) *Trap {
	b, trap := h.bytesAt(r, 1)
	if trap != nil {
		return trap
	}
	b[0] = byte(v) & 0x7f
	return nil
}

// LoadRef reads a Ref-sized address field at r (AMLOAD).
func (h *Heap) LoadRef(r Ref) (Ref, *Trap) {
	b, trap := h.bytesAt(r, refBytes)
	if trap != nil {
		return Ref{}, trap
	}
	return decodeRef(b), nil
}

// StoreRef writes a Ref-sized address field at r (AMSTORE).
func (h *Heap) StoreRef(r Ref, v Ref) *Trap {
	b, trap := h.bytesAt(r, refBytes)
	if trap != nil {
		return trap
	}
	encodeRef(v, b)
	return nil
}

func encodeRef(r Ref, b []byte) {
	if r.Null {
		b[0] = 1
		return
	}
	b[0] = 0
	b[1] = byte(r.Space)
	int32ToBytes(r.Block, b[2:6])
	int32ToBytes(r.Offset, b[6:10])
}

func decodeRef(b []byte) Ref {
	if b[0] == 1 {
		return NullRef
	}
	return Ref{
		Space:  RefSpace(b[1]),
		Block:  int32FromBytes(b[2:6]),
		Offset: int32FromBytes(b[6:10]),
	}
}
