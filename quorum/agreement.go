package quorum

import (
	"bytes"
)

// tally establishes agreement between up to three responses purely by
// byte-equality over a designated slice, typically the deterministic
// signature portion of a signed payload.
//
// The status starts at 1 with the first response and counts responses
// equal to the current anchor. When the third response matches neither
// the first nor an already counted pair, the second response gets a turn
// as anchor: any two equal responses out of three yield status 2,
// regardless of arrival order. The anchor is preserved across
// incremental arrivals so each response is compared at most once per
// anchor.
type tally struct {
	slices [][]byte
	anchor int
	status int
}

// add records one response slice and returns the updated status.
func (t *tally) add(slice []byte) int {
	t.slices = append(t.slices, slice)
	switch {
	case len(t.slices) == 1:
		t.status = 1
	case bytes.Equal(slice, t.slices[t.anchor]):
		t.status++
	case len(t.slices) == 3 && t.status == 1 && bytes.Equal(t.slices[2], t.slices[1]):
		t.anchor = 1
		t.status = 2
	}
	return t.status
}

// anchorIndex returns the index of the response the status counts
// matches against.
func (t *tally) anchorIndex() int {
	return t.anchor
}

// full reports whether all three responses arrived.
func (t *tally) full() bool {
	return len(t.slices) == 3
}
