package native

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sebastian764/VM/program"
	"github.com/Sebastian764/VM/vm"
)

func imageWithString(s string) *program.Image {
	return &program.Image{Strings: append([]byte(s), 0)}
}

func TestPrintIntWritesDecimal(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&program.Image{}, &out, strings.NewReader(""))
	idx, ok := table.IndexOf("print_int")
	require.True(t, ok)

	_, trap := table.Funcs()[idx]([]vm.Value{vm.FromInt(42)})
	require.Nil(t, trap)
	require.Equal(t, "42", out.String())
}

func TestPrintStringWritesPoolText(t *testing.T) {
	img := imageWithString("hello")
	var out bytes.Buffer
	table := NewTable(img, &out, strings.NewReader(""))
	idx, _ := table.IndexOf("print_string")

	ref := vm.FromRef(vm.Ref{Space: vm.SpaceString, Offset: 0})
	_, trap := table.Funcs()[idx]([]vm.Value{ref})
	require.Nil(t, trap)
	require.Equal(t, "hello", out.String())
}

func TestPrintCharWritesSingleByte(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&program.Image{}, &out, strings.NewReader(""))
	idx, _ := table.IndexOf("print_char")

	_, trap := table.Funcs()[idx]([]vm.Value{vm.FromInt('A')})
	require.Nil(t, trap)
	require.Equal(t, "A", out.String())
}

func TestReadIntParsesFromInput(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&program.Image{}, &out, strings.NewReader("123\n"))
	idx, _ := table.IndexOf("read_int")

	v, trap := table.Funcs()[idx](nil)
	require.Nil(t, trap)
	require.Equal(t, int32(123), v.IntOf())
}

func TestReadIntOnEOFTrapsUser(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&program.Image{}, &out, strings.NewReader(""))
	idx, _ := table.IndexOf("read_int")

	_, trap := table.Funcs()[idx](nil)
	require.NotNil(t, trap)
	require.Equal(t, vm.TrapUser, trap.Kind)
}

func TestStrlenReturnsByteLength(t *testing.T) {
	img := imageWithString("hello")
	var out bytes.Buffer
	table := NewTable(img, &out, strings.NewReader(""))
	idx, _ := table.IndexOf("strlen")

	ref := vm.FromRef(vm.Ref{Space: vm.SpaceString, Offset: 0})
	v, trap := table.Funcs()[idx]([]vm.Value{ref})
	require.Nil(t, trap)
	require.Equal(t, int32(5), v.IntOf())
}

func TestStreqComparesPoolText(t *testing.T) {
	// layout: "ab\0" at 0 (len 3), "ab\0" at 3, "cd\0" at 6
	img := &program.Image{Strings: []byte("ab\x00ab\x00cd\x00")}
	var out bytes.Buffer
	table := NewTable(img, &out, strings.NewReader(""))
	idx, _ := table.IndexOf("streq")

	a := vm.FromRef(vm.Ref{Space: vm.SpaceString, Offset: 0})
	b := vm.FromRef(vm.Ref{Space: vm.SpaceString, Offset: 3})
	c := vm.FromRef(vm.Ref{Space: vm.SpaceString, Offset: 6})

	eq, trap := table.Funcs()[idx]([]vm.Value{a, b})
	require.Nil(t, trap)
	require.Equal(t, int32(1), eq.IntOf())

	neq, trap := table.Funcs()[idx]([]vm.Value{a, c})
	require.Nil(t, trap)
	require.Equal(t, int32(0), neq.IntOf())
}

func TestIndexOfUnknownNameFails(t *testing.T) {
	table := NewTable(&program.Image{}, &bytes.Buffer{}, strings.NewReader(""))
	_, ok := table.IndexOf("does_not_exist")
	require.False(t, ok)
}
