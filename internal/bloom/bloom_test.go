package bloom

import (
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_SetGet(t *testing.T) {
	f := New(128)
	assert.False(t, f.Get(42))

	f.Set(42)
	assert.True(t, f.Get(42))
	assert.Equal(t, 1, f.Popcount())

	// Setting the same bit again must not change popcount.
	f.Set(42)
	assert.Equal(t, 1, f.Popcount())
}

func TestFilter_SetWraps(t *testing.T) {
	f := New(64)
	f.Set(64) // wraps to bit 0
	assert.True(t, f.Get(0))
}

func TestFilter_Purge(t *testing.T) {
	f := New(64)
	f.Set(1)
	f.Set(2)
	f.Purge()
	assert.Equal(t, 0, f.Popcount())
	assert.False(t, f.Get(1))
	assert.False(t, f.Get(2))
}

// TestFilter_PopcountMatchesStorage checks invariant 7 of spec.md §3: the
// reported popcount always equals the exact number of set bits in storage.
func TestFilter_PopcountMatchesStorage(t *testing.T) {
	f := New(256)
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		f.Set(r.Uint64())

		exact := 0
		for w := 0; w < f.NumWords(); w++ {
			exact += bits.OnesCount64(f.Word(w))
		}
		assert.Equal(t, exact, f.Popcount())
		assert.LessOrEqual(t, f.Popcount(), f.NBits())
	}
}

func TestFilter_IsCongestedThenPurgeLeavesSingleBit(t *testing.T) {
	f := New(128)
	r := rand.New(rand.NewSource(3))

	for !f.IsCongested() {
		f.Set(r.Uint64())
	}

	// The next observation purges then sets exactly one bit, matching
	// scenario 6 of spec.md §8.
	f.Purge()
	f.Set(r.Uint64())
	assert.Equal(t, 1, f.Popcount())
}
