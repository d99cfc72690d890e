package simpacket

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	id := uuid.New()
	payload := bytes.Repeat([]byte("abcdefgh"), 200) // 1600 bytes
	frags := SplitFragments(id, payload, 500)
	if len(frags) != 4 {
		t.Fatalf("got %d fragments, want 4", len(frags))
	}

	r := NewReassembler()
	var result []byte
	for i, f := range frags {
		start := f.Offset
		end := start + 500
		if end > len(payload) {
			end = len(payload)
		}
		data, done, err := r.AddFragment(id, f.Offset, f.MoreFragments, payload[start:end])
		if err != nil {
			t.Fatalf("fragment %d: unexpected error %v", i, err)
		}
		if done {
			result = data
		}
	}
	if !bytes.Equal(result, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(result), len(payload))
	}
}

func TestReassembleIncompleteDetected(t *testing.T) {
	id := uuid.New()
	r := NewReassembler()
	// Skip the first fragment entirely; only the tail arrives.
	_, done, err := r.AddFragment(id, 500, false, []byte("tail-only"))
	if done {
		t.Fatal("expected reassembly to fail, not succeed")
	}
	if err != ErrReassembleIncomplete {
		t.Fatalf("err = %v, want ErrReassembleIncomplete", err)
	}
}

func TestSplitSmallPayloadSingleFragment(t *testing.T) {
	id := uuid.New()
	frags := SplitFragments(id, []byte("short"), 1500)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].MoreFragments {
		t.Fatal("single fragment should not set MoreFragments")
	}
}
