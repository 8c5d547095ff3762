package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}

func TestForceSendDropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 3; i++ {
		assert.False(t, rc.ForceSend(i))
	}
	assert.True(t, rc.ForceSend(3))
	assert.True(t, rc.ForceSend(4))

	require.Equal(t, 3, rc.Len())
	assert.Equal(t, 2, <-rc.C())
	assert.Equal(t, 3, <-rc.C())
	assert.Equal(t, 4, <-rc.C())

	assert.EqualValues(t, 5, rc.Written())
	assert.EqualValues(t, 2, rc.Overwritten())
}

func TestTrySend(t *testing.T) {
	rc := New[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
	assert.Equal(t, 1, rc.Cap())
	assert.Equal(t, "a", <-rc.C())
}

func TestCloseEndsRange(t *testing.T) {
	rc := New[int](4)
	rc.ForceSend(1)
	rc.ForceSend(2)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestForceSendConcurrentProducers(t *testing.T) {
	rc := New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.ForceSend(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, rc.Len())
	assert.EqualValues(t, 4000, rc.Written())
	assert.EqualValues(t, 4000-8, rc.Overwritten())
}
