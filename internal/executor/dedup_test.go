package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_TTL(t *testing.T) {
	now := time.Unix(1000, 0)
	dd := NewDedup(time.Minute)
	dd.now = func() time.Time { return now }

	assert.False(t, dd.IsDuplicate(1))
	assert.True(t, dd.IsDuplicate(1))

	now = now.Add(2 * time.Minute)
	assert.False(t, dd.IsDuplicate(1), "expired entry is recorded again")
	assert.False(t, dd.IsDuplicate(2))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, dd.Cleanup())
	assert.Equal(t, 0, dd.Len())
}

func TestDedup_NoTTLKeepsUntilReset(t *testing.T) {
	dd := NewDedup(0)
	assert.False(t, dd.IsDuplicate(7))
	assert.True(t, dd.IsDuplicate(7))
	assert.Equal(t, 0, dd.Cleanup())

	dd.Reset()
	assert.False(t, dd.IsDuplicate(7))
}

func TestDedup_Concurrent(t *testing.T) {
	dd := NewDedup(0)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !dd.IsDuplicate(42) {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
