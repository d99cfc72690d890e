package simswitch

import (
	"math/rand"
	"net"
	"testing"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// fakeEndpoint is a minimal simlink.Endpoint used to assert what a switch
// forwards without pulling in the full simnode package.
type fakeEndpoint struct {
	id       string
	mac      net.HardwareAddr
	received []*simpacket.Packet
}

func (f *fakeEndpoint) EndpointID() string { return f.id }
func (f *fakeEndpoint) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	f.received = append(f.received, pkt)
}

func TestUnknownDestinationFloodsThenLearnsForwarding(t *testing.T) {
	sched := simclock.NewScheduler()
	rng := rand.New(rand.NewSource(1))
	sw := NewSwitch(sched, Config{ID: "sw1", Rand: rng})

	a := &fakeEndpoint{id: "a", mac: net.HardwareAddr{1, 1, 1, 1, 1, 1}}
	b := &fakeEndpoint{id: "b", mac: net.HardwareAddr{2, 2, 2, 2, 2, 2}}
	linkA, _ := simlink.NewLink(a, sw, 1e7, 0, 0, sched, rng)
	linkB, _ := simlink.NewLink(b, sw, 1e7, 0, 0, sched, rng)
	sw.AttachPort(linkA)
	sw.AttachPort(linkB)

	pkt := &simpacket.Packet{
		Kind: simpacket.KindData,
		L2:   simpacket.L2Header{SrcMAC: a.mac, DstMAC: b.mac},
		Size: 64,
	}
	_ = linkA.Enqueue(sched.Now(), pkt, a)
	// The switch's BPDU hello reschedules itself forever, so stop before
	// its first tick at bpduHelloInterval.
	sched.RunUntil(1)

	if len(b.received) != 1 {
		t.Fatalf("b.received = %d packets, want 1", len(b.received))
	}
	if len(a.received) != 0 {
		t.Fatalf("a.received = %d packets, want 0 (not flooded back to sender)", len(a.received))
	}

	table := sw.forwardingTableSnapshot()
	if len(table) != 1 || table[0] != a.mac.String() {
		t.Fatalf("forwarding table = %v, want [%v]", table, a.mac.String())
	}
}
