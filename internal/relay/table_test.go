package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablePairMissThenHit(t *testing.T) {
	tb := newTable()
	first, second := newFakeStream("first"), newFakeStream("second")

	partner, parked := tb.Pair("s1", first, time.Now())
	require.Nil(t, partner)
	require.NotNil(t, parked)
	assert.Equal(t, 1, tb.Len())

	partner, parked = tb.Pair("s1", second, time.Now())
	require.Nil(t, parked)
	require.NotNil(t, partner)
	assert.Same(t, first, partner.stream)
	assert.Equal(t, 0, tb.Len())

	select {
	case <-partner.claimed:
	default:
		t.Fatal("claimed not signalled")
	}
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	tb := newTable()
	_, w := tb.Pair("s1", newFakeStream("a"), time.Now())

	assert.True(t, tb.Remove(w))
	assert.False(t, tb.Remove(w))
	assert.Equal(t, 0, tb.Len())
}

func TestTableRemoveAfterClaimIsNoop(t *testing.T) {
	tb := newTable()
	_, w := tb.Pair("s1", newFakeStream("a"), time.Now())
	partner, _ := tb.Pair("s1", newFakeStream("b"), time.Now())
	require.Same(t, w, partner)

	assert.False(t, tb.Remove(w))
}

func TestTableRemoveKeepsNewerEntry(t *testing.T) {
	tb := newTable()
	_, old := tb.Pair("s1", newFakeStream("a"), time.Now())
	require.True(t, tb.Remove(old))

	_, newer := tb.Pair("s1", newFakeStream("b"), time.Now())
	assert.False(t, tb.Remove(old))
	assert.Equal(t, 1, tb.Len())

	partner, _ := tb.Pair("s1", newFakeStream("c"), time.Now())
	assert.Same(t, newer, partner)
}

func TestTableConcurrentPairHasOneWinner(t *testing.T) {
	tb := newTable()
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("race-%d", i)
		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			mu      sync.Mutex
			hits    int
			parkeds int
		)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				partner, parked := tb.Pair(id, newFakeStream(id), time.Now())
				mu.Lock()
				defer mu.Unlock()
				if partner != nil {
					hits++
				}
				if parked != nil {
					parkeds++
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, 1, hits, id)
		require.Equal(t, 1, parkeds, id)
	}
	assert.Equal(t, 0, tb.Len())
}
