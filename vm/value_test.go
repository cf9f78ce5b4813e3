package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqualMixedVariantIsFalse(t *testing.T) {
	i := FromInt(0)
	r := FromRef(NullRef)
	assert.False(t, Equal(i, r))
	assert.False(t, Equal(r, i))
}

func TestEqualIntComparesBitPattern(t *testing.T) {
	assert.True(t, Equal(FromInt(42), FromInt(42)))
	assert.False(t, Equal(FromInt(42), FromInt(-42)))
}

func TestEqualRefNullBothTrue(t *testing.T) {
	assert.True(t, Equal(FromRef(NullRef), FromRef(NullRef)))
}

func TestEqualRefSameAddress(t *testing.T) {
	r1 := FromRef(Ref{Space: SpaceHeap, Block: 3, Offset: 8})
	r2 := FromRef(Ref{Space: SpaceHeap, Block: 3, Offset: 8})
	r3 := FromRef(Ref{Space: SpaceHeap, Block: 3, Offset: 12})
	assert.True(t, Equal(r1, r2))
	assert.False(t, Equal(r1, r3))
}

func TestIntOfPanicsOnRef(t *testing.T) {
	assert.Panics(t, func() {
		FromRef(NullRef).IntOf()
	})
}

func TestRefOfPanicsOnInt(t *testing.T) {
	assert.Panics(t, func() {
		FromInt(1).RefOf()
	})
}
