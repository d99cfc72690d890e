package simnode

import (
	"math/rand"
	"net"
	"testing"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

func mustNode(t *testing.T, sched *simclock.Scheduler, id, cidr string, seed int64) *Node {
	t.Helper()
	n, err := NewNode(sched, Config{ID: id, CIDR: cidr, Rand: rand.New(rand.NewSource(seed))})
	if err != nil {
		t.Fatalf("NewNode(%s): %v", id, err)
	}
	return n
}

func linkNodes(t *testing.T, sched *simclock.Scheduler, a, b *Node, seed int64) *simlink.Link {
	t.Helper()
	l, err := simlink.NewLink(a, b, 1e7, 0.001, 0, sched, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	a.AttachLink(l)
	b.AttachLink(l)
	return l
}

func TestARPResolutionThenUDPDelivery(t *testing.T) {
	sched := simclock.NewScheduler()
	a := mustNode(t, sched, "a", "10.0.0.1/24", 1)
	b := mustNode(t, sched, "b", "10.0.0.2/24", 2)
	linkNodes(t, sched, a, b, 3)

	var got []byte
	b.OnUDP(9999, func(now simclock.Time, srcIP net.IP, srcPort uint16, data []byte) {
		got = data
	})

	a.SendUDP(sched.Now(), b.IP(), 9999, 5000, []byte("hello"))
	sched.Run()

	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestUDPFragmentationReassembly(t *testing.T) {
	sched := simclock.NewScheduler()
	a := mustNode(t, sched, "a", "10.0.0.1/24", 1)
	b := mustNode(t, sched, "b", "10.0.0.2/24", 2)
	a.mtu = 100
	linkNodes(t, sched, a, b, 3)

	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	var got []byte
	b.OnUDP(9999, func(now simclock.Time, srcIP net.IP, srcPort uint16, data []byte) {
		got = data
	})

	a.SendUDP(sched.Now(), b.IP(), 9999, 5000, payload)
	sched.Run()

	if len(got) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestTCPHandshakeAndTeardown(t *testing.T) {
	sched := simclock.NewScheduler()
	a := mustNode(t, sched, "a", "10.0.0.1/24", 1)
	b := mustNode(t, sched, "b", "10.0.0.2/24", 2)
	linkNodes(t, sched, a, b, 3)

	a.SendTCP(sched.Now(), b.IP(), 443, 6000, []byte("payload"))
	sched.Run()

	if len(a.tcp) != 0 {
		t.Fatalf("expected connection to be torn down on the active side, got %d remaining", len(a.tcp))
	}
}

func TestDHCPAssignsAddressFromNetworkForm(t *testing.T) {
	sched := simclock.NewScheduler()
	client := mustNode(t, sched, "client", "192.168.1.0/24", 1)
	if client.configured {
		t.Fatalf("expected unconfigured client from network-form CIDR")
	}
	sched.Schedule(2.0, func(now simclock.Time, args interface{}) {
		// The scheduled DISCOVER has already moved the client to
		// dhcpDiscovering; stand in for the OFFER/REQUEST step.
		client.dhcp.phase = dhcpRequesting
		pkt := &simpacket.Packet{
			Payload: simpacket.DHCPPayload{
				MessageType: simpacket.DHCPAck,
				AssignedIP:  net.IPv4(192, 168, 1, 50),
			},
		}
		client.handleDHCP(now, pkt)
	}, nil)
	sched.Run()

	if !client.IP().Equal(net.IPv4(192, 168, 1, 50)) {
		t.Fatalf("IP after DHCP = %v, want 192.168.1.50", client.IP())
	}
}
