package vm

import "encoding/binary"

// Immediates in the instruction stream are big-endian; the same encoding is
// reused internally for address/int fields stored in heap cells so that a
// single convention runs through the whole core.
func int32FromBytes(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

func int32ToBytes(v int32, b []byte) {
	binary.BigEndian.PutUint32(b, uint32(v))
}

func uint16FromBytes(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// int16FromBytes decodes a signed 16-bit big-endian branch offset, explicit
// about sign extension rather than treating the offset as unsigned.
func int16FromBytes(b []byte) int16 {
	return int16(binary.BigEndian.Uint16(b))
}
