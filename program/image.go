// Package program holds the in-memory program image the VM core consumes:
// the function pool, integer pool, string pool, and native pool built by an
// external loader/parser. The core never mutates an Image; it is owned by
// whoever constructed it and must outlive execution.
package program

import "fmt"

// Function is one entry in the function pool. Entry point is index 0.
type Function struct {
	Code    []byte
	NumArgs uint16
	NumVars uint16
}

// Native is one entry in the native pool: how many arguments to pop and
// which slot of the native function table to invoke.
type Native struct {
	NumArgs          uint16
	FunctionTableIdx uint16
}

// Image is the complete, read-only program representation.
type Image struct {
	Functions []Function
	Ints      []int32
	Strings   []byte
	Natives   []Native
}

// StringAt returns the NUL-terminated string starting at the given byte
// offset into the string pool. ALDC's operand is this byte offset, not a
// string-table index.
func (img *Image) StringAt(offset int32) (string, error) {
	if offset < 0 || int(offset) > len(img.Strings) {
		return "", fmt.Errorf("string offset %d out of range", offset)
	}
	end := int(offset)
	for end < len(img.Strings) && img.Strings[end] != 0 {
		end++
	}
	if end >= len(img.Strings) {
		return "", fmt.Errorf("unterminated string at offset %d", offset)
	}
	return string(img.Strings[offset:end]), nil
}

// EntryFunction returns the entry point function, or an error if the image
// has none.
func (img *Image) EntryFunction() (Function, error) {
	if len(img.Functions) == 0 {
		return Function{}, fmt.Errorf("program image has no functions")
	}
	return img.Functions[0], nil
}
