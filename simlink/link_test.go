package simlink

import (
	"math/rand"
	"testing"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// recorder is a minimal Endpoint used to observe deliveries in tests.
type recorder struct {
	id        string
	delivered []*simpacket.Packet
	arrivals  []simclock.Time
}

func (r *recorder) EndpointID() string { return r.id }
func (r *recorder) Receive(now simclock.Time, pkt *simpacket.Packet, link *Link) {
	r.delivered = append(r.delivered, pkt)
	r.arrivals = append(r.arrivals, now)
}

func newTestPacket(size int) *simpacket.Packet {
	return &simpacket.Packet{Kind: simpacket.KindData, Size: size}
}

func TestSerializationAndPropagationDelay(t *testing.T) {
	sched := simclock.NewScheduler()
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rng := rand.New(rand.NewSource(1))
	link, err := NewLink(a, b, 10_000_000, 0.01, 0, sched, rng) // 10 Mbps, 10ms
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}

	pkt := newTestPacket(1000) // 1000 bytes -> 0.8ms serialization
	if err := link.Enqueue(0, pkt, a); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	sched.Run()

	if len(b.arrivals) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(b.arrivals))
	}
	got := float64(b.arrivals[0])
	want := 0.0008 + 0.01
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("arrival time = %v, want %v", got, want)
	}
}

func TestPerDirectionFIFO(t *testing.T) {
	sched := simclock.NewScheduler()
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rng := rand.New(rand.NewSource(1))
	link, _ := NewLink(a, b, 1_000_000, 0.001, 0, sched, rng)

	big := newTestPacket(10000)
	small := newTestPacket(10)
	link.Enqueue(0, big, a)
	link.Enqueue(0, small, a)
	sched.Run()

	if len(b.delivered) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(b.delivered))
	}
	if b.delivered[0] != big || b.delivered[1] != small {
		t.Fatal("FIFO order violated: small packet overtook big packet")
	}
	if b.arrivals[0] > b.arrivals[1] {
		t.Fatal("arrival times out of order")
	}
}

func TestLossFidelity(t *testing.T) {
	sched := simclock.NewScheduler()
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rng := rand.New(rand.NewSource(42))
	link, _ := NewLink(a, b, 100_000_000, 0, 0.5, sched, rng)

	const n = 2000
	for i := 0; i < n; i++ {
		link.Enqueue(simclock.Time(i), newTestPacket(64), a)
	}
	sched.Run()

	lost := 0
	for _, p := range b.delivered {
		if p.IsLost() {
			lost++
		}
	}
	frac := float64(lost) / float64(n)
	if frac < 0.4 || frac > 0.6 {
		t.Fatalf("loss fraction = %v, want close to 0.5", frac)
	}
}

func TestEnqueueRefusedWhenInactive(t *testing.T) {
	sched := simclock.NewScheduler()
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rng := rand.New(rand.NewSource(1))
	link, _ := NewLink(a, b, 1_000_000, 0.001, 0, sched, rng)
	link.Disable()

	if err := link.Enqueue(0, newTestPacket(10), a); err != ErrLinkInactive {
		t.Fatalf("err = %v, want ErrLinkInactive", err)
	}
}
