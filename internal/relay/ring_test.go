package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushUntilFull(t *testing.T) {
	const n = 4
	r := NewRing[int](n)
	assert.Equal(t, n, r.Cap())

	for i := 0; i < n; i++ {
		r.Push(i)
		assert.Equal(t, i+1, r.Len())
	}
	assert.Equal(t, []int{0, 1, 2, 3}, r.Slice())
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 0; i < 7; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{4, 5, 6}, r.Slice())
	assert.Equal(t, []int{5, 6}, r.Last(2))
	assert.Equal(t, []int{4, 5, 6}, r.Last(10))
}

func TestRingSliceIsACopy(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)

	out := r.Slice()
	out[0] = 99
	assert.Equal(t, []int{1, 2}, r.Slice())
}

func TestRingZeroCapacityDiscards(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Slice())
}
