// ABOUTME: Tests for the processed-message tracker
// ABOUTME: Validates duplicate detection, TTL expiry, size limits, and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_FirstDeliveryIsNew(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Delivered("msg-1"))
}

func TestTracker_SecondDeliveryIsDuplicate(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Delivered("msg-1"))
	assert.True(t, tr.Delivered("msg-1"))
	assert.False(t, tr.Delivered("msg-2"))
}

func TestTracker_ExpiredEntryIsNewAgain(t *testing.T) {
	tr := NewTracker(10*time.Millisecond, 100)
	defer tr.Close()

	assert.False(t, tr.Delivered("msg-1"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, tr.Delivered("msg-1"))
}

func TestTracker_SizeLimit(t *testing.T) {
	tr := NewTracker(5*time.Minute, 3)
	defer tr.Close()

	tr.Delivered("msg-1")
	time.Sleep(time.Millisecond)
	tr.Delivered("msg-2")
	time.Sleep(time.Millisecond)
	tr.Delivered("msg-3")
	time.Sleep(time.Millisecond)

	// Inserting a fourth evicts the oldest
	tr.Delivered("msg-4")
	assert.Equal(t, 3, tr.Len())

	// msg-1 was evicted, so it reads as new again
	assert.False(t, tr.Delivered("msg-1"))

	// msg-4 is still tracked
	assert.True(t, tr.Delivered("msg-4"))
}

func TestTracker_RunCleanup(t *testing.T) {
	tr := NewTracker(5*time.Millisecond, 100)
	defer tr.Close()

	for i := 0; i < 10; i++ {
		tr.Delivered(fmt.Sprintf("msg-%d", i))
	}
	time.Sleep(10 * time.Millisecond)

	tr.runCleanup()
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_Concurrency(t *testing.T) {
	tr := NewTracker(5*time.Minute, 1000)
	defer tr.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Delivered(fmt.Sprintf("msg-%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 800, tr.Len())
}

func TestTracker_CloseTwice(t *testing.T) {
	tr := NewTracker(time.Minute, 10)
	tr.Close()
	tr.Close()
}
