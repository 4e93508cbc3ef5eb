// Package bitfield packs per-computor status votes into the wire
// bitfield: four two-bit votes per byte, most-significant lanes first.
package bitfield

import (
	"fmt"
)

const (
	// Lanes is the number of votes a bitfield addresses, one per
	// committee member.
	Lanes = 676

	// Size is the packed wire size in bytes. The trailing unaddressed
	// bits stay zero.
	Size = 170
)

// Bitfield is a packed vote table. The zero value holds VoteUnseen in
// every lane.
type Bitfield [Size]byte

// Set stores vote in lane.
func (b *Bitfield) Set(lane int, vote Vote) {
	if lane < 0 || lane >= Lanes {
		panic(fmt.Sprintf("bitfield: lane out of range: %d", lane))
	}
	shift := uint(6 - 2*(lane%4))
	b[lane/4] = b[lane/4]&^(0x3<<shift) | byte(vote&0x3)<<shift
}

// Get returns the vote stored in lane.
func (b *Bitfield) Get(lane int) Vote {
	if lane < 0 || lane >= Lanes {
		panic(fmt.Sprintf("bitfield: lane out of range: %d", lane))
	}
	return Vote(b[lane/4] >> uint(6-2*(lane%4)) & 0x3)
}

// Fill stores vote in every lane.
func (b *Bitfield) Fill(vote Vote) {
	for lane := 0; lane < Lanes; lane++ {
		b.Set(lane, vote)
	}
}

// Count returns the number of lanes holding vote.
func (b *Bitfield) Count(vote Vote) int {
	var n int
	for lane := 0; lane < Lanes; lane++ {
		if b.Get(lane) == vote {
			n++
		}
	}
	return n
}

// Votes unpacks all lanes.
func (b *Bitfield) Votes() [Lanes]Vote {
	var votes [Lanes]Vote
	for lane := 0; lane < Lanes; lane++ {
		votes[lane] = b.Get(lane)
	}
	return votes
}

// FromBytes copies a packed bitfield out of data.
func FromBytes(data []byte) (Bitfield, error) {
	var b Bitfield
	if len(data) != Size {
		return b, fmt.Errorf("invalid bitfield; expected: %d bytes, given: %d", Size, len(data))
	}
	copy(b[:], data)
	return b, nil
}
