package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimestampSource(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	source := NewTimestampSource(func() time.Time { return clock })

	first := source.Next()
	r.Equal(uint64(clock.Unix())*timestampStep, first)

	// Same second bumps by a full step.
	second := source.Next()
	r.Equal(first+timestampStep, second)

	// A new second produces its own value.
	clock = clock.Add(2 * time.Second)
	third := source.Next()
	r.Equal(uint64(clock.Unix())*timestampStep, third)
	r.Greater(third, second)

	// A clock that goes backwards still yields increasing timestamps.
	clock = clock.Add(-time.Minute)
	fourth := source.Next()
	r.Greater(fourth, third)
}

func TestTimestampSourceConcurrent(t *testing.T) {
	t.Parallel()

	source := NewTimestampSource(nil)

	const n = 64
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- source.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{}, n)
	for ts := range seen {
		unique[ts] = struct{}{}
	}
	require.Len(t, unique, n)
}
