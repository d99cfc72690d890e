package simpacket

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrReassembleIncomplete is logged (never returned to a caller that can't
// act on it) when a tail fragment arrives but the stored fragments don't
// sum to a contiguous run (§4.3.4, §7).
var ErrReassembleIncomplete = fmt.Errorf("reassemble_failed_incomplete_data")

// SplitFragments splits payload into ordered chunks no larger than
// maxChunk bytes, tagging each with the byte offset it starts at and
// whether more fragments follow. All chunks share originalID (§4.3.4).
func SplitFragments(originalID uuid.UUID, payload []byte, maxChunk int) []Fragmentation {
	if maxChunk <= 0 {
		maxChunk = len(payload)
	}
	var frags []Fragmentation
	for offset := 0; offset < len(payload) || (len(payload) == 0 && offset == 0); offset += maxChunk {
		end := offset + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		frags = append(frags, Fragmentation{
			OriginalDataID: originalID,
			Offset:         offset,
			MoreFragments:  end < len(payload),
		})
		if end == len(payload) {
			break
		}
	}
	if len(frags) == 0 {
		frags = []Fragmentation{{OriginalDataID: originalID, Offset: 0, MoreFragments: false}}
	}
	return frags
}

// fragmentPiece is a single received fragment's length, keyed by offset in
// Reassembler.
type fragmentPiece struct {
	offset int
	length int
}

// Reassembler holds in-flight fragment state for one host, keyed by
// original-data ID (§3's "Reassembly on receive").
type Reassembler struct {
	pending map[uuid.UUID][]fragmentPiece
	bytes   map[uuid.UUID]map[int][]byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		pending: make(map[uuid.UUID][]fragmentPiece),
		bytes:   make(map[uuid.UUID]map[int][]byte),
	}
}

// AddFragment stores one received fragment's payload. When the fragment
// carrying MoreFragments=false arrives, it attempts reassembly and returns
// (data, true, nil) on success, or (nil, false, ErrReassembleIncomplete) if
// the stored fragments don't form a contiguous run up to that fragment's
// end. Non-terminal fragments return (nil, false, nil).
func (r *Reassembler) AddFragment(id uuid.UUID, offset int, moreFragments bool, data []byte) ([]byte, bool, error) {
	r.pending[id] = append(r.pending[id], fragmentPiece{offset: offset, length: len(data)})
	if r.bytes[id] == nil {
		r.bytes[id] = make(map[int][]byte)
	}
	r.bytes[id][offset] = data

	if moreFragments {
		return nil, false, nil
	}

	lastOffset := offset
	lastLength := len(data)
	pieces := r.pending[id]
	sum := 0
	for _, p := range pieces {
		sum += p.length
	}
	if sum != lastOffset+lastLength {
		return nil, false, ErrReassembleIncomplete
	}

	out := make([]byte, lastOffset+lastLength)
	for off, chunk := range r.bytes[id] {
		copy(out[off:], chunk)
	}
	delete(r.pending, id)
	delete(r.bytes, id)
	return out, true, nil
}
