package bitfield

import (
	"fmt"
)

// Vote is a single two-bit status vote.
type Vote byte

const (
	VoteUnseen    Vote = 0x0
	VoteSeen      Vote = 0x1
	VoteProcessed Vote = 0x2
	VoteReserved  Vote = 0x3
)

func (v Vote) String() string {
	switch v {
	case VoteUnseen:
		return "unseen"
	case VoteSeen:
		return "seen"
	case VoteProcessed:
		return "processed"
	case VoteReserved:
		return "reserved"
	default:
		return fmt.Sprintf("vote(%d)", byte(v))
	}
}
