package asm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sebastian764/VM/native"
	"github.com/Sebastian764/VM/program"
	"github.com/Sebastian764/VM/vm"
)

func TestAssembleConstantReturn(t *testing.T) {
	src := []string{
		".func args=0 vars=0",
		"bipush 42",
		"return",
	}
	img, err := Assemble(src, nil)
	require.NoError(t, err)
	require.Len(t, img.Functions, 1)

	v, trap := vm.Execute(img, nil, vm.Options{})
	require.Nil(t, trap)
	require.Equal(t, int32(42), v)
}

func TestAssembleLabelAndBranch(t *testing.T) {
	src := []string{
		".func args=0 vars=0",
		"bipush 1",
		"bipush 1",
		"if_cmpeq taken",
		"bipush 0",
		"return",
		"taken:",
		"bipush 99",
		"return",
	}
	img, err := Assemble(src, nil)
	require.NoError(t, err)

	v, trap := vm.Execute(img, nil, vm.Options{})
	require.Nil(t, trap)
	require.Equal(t, int32(99), v)
}

func TestAssembleIntsAndStringsSections(t *testing.T) {
	src := []string{
		".ints",
		"7",
		"0x10",
		".strings",
		`"hello"`,
		".func args=0 vars=0",
		"ildc 1",
		"return",
	}
	img, err := Assemble(src, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{7, 16}, img.Ints)

	s, err := img.StringAt(0)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	v, trap := vm.Execute(img, nil, vm.Options{})
	require.Nil(t, trap)
	require.Equal(t, int32(16), v)
}

func TestAssembleStringLiteralWithEscape(t *testing.T) {
	src := []string{
		".strings",
		`"line\n"`,
		".func args=0 vars=0",
		"bipush 0",
		"return",
	}
	img, err := Assemble(src, nil)
	require.NoError(t, err)

	s, err := img.StringAt(0)
	require.NoError(t, err)
	require.Equal(t, "line\n", s)
}

func TestAssembleNativeDeclarationResolvesByName(t *testing.T) {
	table := native.NewTable(&program.Image{}, nopWriter{}, nopReader{})
	src := []string{
		".natives",
		"print_int 1",
		".func args=0 vars=0",
		"bipush 5",
		"invokenative 0",
		"pop",
		"bipush 0",
		"return",
	}
	img, err := Assemble(src, table)
	require.NoError(t, err)
	require.Len(t, img.Natives, 1)
	require.Equal(t, uint16(1), img.Natives[0].NumArgs)
}

func TestAssembleAndInvokeNativeThroughDispatch(t *testing.T) {
	// Resolving `.natives` declarations by name only needs a throwaway
	// table (any backing image works, per NewTable's own string-resolution
	// closures being lazy); the real table, bound to the assembled image,
	// is what actually executes.
	throwaway := native.NewTable(&program.Image{}, nopWriter{}, nopReader{})
	src := []string{
		".natives",
		"strlen 1",
		".strings",
		`"hello"`,
		".func args=0 vars=0",
		"aldc 0",
		"invokenative 0",
		"return",
	}
	img, err := Assemble(src, throwaway)
	require.NoError(t, err)

	table := native.NewTable(img, nopWriter{}, nopReader{})
	v, trap := vm.Execute(img, table.Funcs(), vm.Options{})
	require.Nil(t, trap)
	require.Equal(t, int32(5), v)
}

func TestAssembleUnknownMnemonicErrors(t *testing.T) {
	src := []string{
		".func args=0 vars=0",
		"bogus 1",
	}
	_, err := Assemble(src, nil)
	require.Error(t, err)
}

func TestAssembleUnknownNativeErrors(t *testing.T) {
	table := native.NewTable(&program.Image{}, nopWriter{}, nopReader{})
	src := []string{
		".natives",
		"not_a_real_native 1",
		".func args=0 vars=0",
		"bipush 0",
		"return",
	}
	_, err := Assemble(src, table)
	require.Error(t, err)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type nopReader struct{}

func (nopReader) Read(p []byte) (int, error) { return 0, nil }
