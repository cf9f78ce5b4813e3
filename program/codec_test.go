package program

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleImage() *Image {
	return &Image{
		Functions: []Function{
			{Code: []byte{0x20, 0x2a, 0x62}, NumArgs: 0, NumVars: 1}, // bipush 42; return
		},
		Ints:    []int32{7, -1},
		Strings: append([]byte("hi"), 0),
		Natives: []Native{{NumArgs: 1, FunctionTableIdx: 0}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	img := sampleImage()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, img))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, img.Functions, got.Functions)
	require.Equal(t, img.Ints, got.Ints)
	require.Equal(t, img.Strings, got.Strings)
	require.Equal(t, img.Natives, got.Natives)
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XXXX")
	_, err := Read(&buf)
	require.Error(t, err)
}

func TestCheckBoundsAcceptsValidImage(t *testing.T) {
	require.NoError(t, CheckBounds(sampleImage()))
}

func TestCheckBoundsRejectsTruncatedInstruction(t *testing.T) {
	img := &Image{Functions: []Function{{Code: []byte{0x20}}}} // bipush with no operand byte
	require.Error(t, CheckBounds(img))
}

func TestCheckBoundsRejectsOutOfRangeIntPoolIndex(t *testing.T) {
	img := &Image{Functions: []Function{{Code: []byte{0x21, 0x00, 0x05}}}} // ildc 5, empty Ints
	require.Error(t, CheckBounds(img))
}

func TestCheckBoundsRejectsOutOfRangeInvokestatic(t *testing.T) {
	img := &Image{Functions: []Function{{Code: []byte{0x60, 0x00, 0x09}}}}
	require.Error(t, CheckBounds(img))
}

func TestStringAtReadsNulTerminated(t *testing.T) {
	img := &Image{Strings: append([]byte("abc"), 0)}
	s, err := img.StringAt(0)
	require.NoError(t, err)
	require.Equal(t, "abc", s)
}

func TestStringAtRejectsUnterminated(t *testing.T) {
	img := &Image{Strings: []byte("abc")}
	_, err := img.StringAt(0)
	require.Error(t, err)
}

func TestEntryFunctionErrorsOnEmptyImage(t *testing.T) {
	_, err := (&Image{}).EntryFunction()
	require.Error(t, err)
}
