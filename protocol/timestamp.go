package protocol

import (
	"sync"
	"time"
)

// timestampStep is the amount a timestamp grows by when its second has
// already been used.
const timestampStep = 1_000_000

// TimestampSource issues strictly increasing wire timestamps: UTC seconds
// times 10^6, bumped by a full step whenever the current second has
// already produced one. Safe for concurrent use.
type TimestampSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last uint64
}

// NewTimestampSource returns a source reading the clock through now; a nil
// now uses time.Now.
func NewTimestampSource(now func() time.Time) *TimestampSource {
	if now == nil {
		now = time.Now
	}
	return &TimestampSource{now: now}
}

// Next returns the next timestamp.
func (ts *TimestampSource) Next() uint64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t := uint64(ts.now().UTC().Unix()) * timestampStep
	if t <= ts.last {
		t = ts.last + timestampStep
	}
	ts.last = t
	return t
}
