package simnode

import "fmt"

// ErrInvalidDelta mirrors github.com/m-lab/etl/tcp's sequence-arithmetic
// error: a computed signed delta outside (-2^30, 2^30) means the two
// sequence numbers being compared are not plausibly related (one has
// wrapped around relative to the other in a way that can't be the normal
// forward progress of a single connection).
var ErrInvalidDelta = fmt.Errorf("simnode: invalid sequence delta")

// SeqNum is a TCP-style 32-bit sequence/ack number with wraparound-safe
// comparison, adapted from github.com/m-lab/etl/tcp's SeqNum.diff.
type SeqNum uint32

// diff returns next-sn as a signed delta, treating the subtraction as
// wrapping arithmetic the way RFC 1982 serial-number comparison does.
func (sn SeqNum) diff(next SeqNum) (int32, error) {
	delta := int32(next - sn)
	if !(-1<<30 < delta && delta < 1<<30) {
		return delta, ErrInvalidDelta
	}
	return delta, nil
}

// Less reports whether sn precedes other in sequence-number order.
func (sn SeqNum) Less(other SeqNum) bool {
	d, err := sn.diff(other)
	return err == nil && d > 0
}

// Equal reports simple numeric equality (no wraparound ambiguity possible).
func (sn SeqNum) Equal(other SeqNum) bool {
	return sn == other
}

// Add returns sn+n, wrapping at 2^32 the way a real sequence number does.
func (sn SeqNum) Add(n uint32) SeqNum {
	return sn + SeqNum(n)
}
