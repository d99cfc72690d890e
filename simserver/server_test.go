package simserver

import (
	"math/rand"
	"net"
	"testing"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

type fakeClient struct {
	id       string
	mac      net.HardwareAddr
	received []*simpacket.Packet
}

func (c *fakeClient) EndpointID() string { return c.id }
func (c *fakeClient) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	c.received = append(c.received, pkt)
}

func TestDHCPPoolExhaustion(t *testing.T) {
	sched := simclock.NewScheduler()
	rng := rand.New(rand.NewSource(7))
	srv, err := NewDHCPServer(sched, Config{ID: "dhcp1", PoolCIDR: "192.168.1.0/30", Rand: rng})
	if err != nil {
		t.Fatalf("NewDHCPServer: %v", err)
	}
	if len(srv.pool) != 1 {
		t.Fatalf("pool size = %d, want 1 usable address in a /30 minus the server's own", len(srv.pool))
	}

	client := &fakeClient{id: "c1", mac: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	link, _ := simlink.NewLink(client, srv, 1e7, 0, 0, sched, rng)

	discover := &simpacket.Packet{
		Kind: simpacket.KindDHCP,
		L2:   simpacket.L2Header{SrcMAC: client.mac, DstMAC: simpacket.Broadcast},
		Payload: simpacket.DHCPPayload{
			MessageType: simpacket.DHCPDiscover,
		},
	}
	_ = link.Enqueue(sched.Now(), discover, client)
	// Stop before offerTimeout so the first OFFER is still outstanding when
	// the second DISCOVER arrives.
	sched.RunUntil(1)

	if len(client.received) != 1 {
		t.Fatalf("client.received = %d, want 1 OFFER", len(client.received))
	}
	offer := client.received[0].Payload.(simpacket.DHCPPayload)
	if offer.MessageType != simpacket.DHCPOffer {
		t.Fatalf("message type = %v, want OFFER", offer.MessageType)
	}

	second := &fakeClient{id: "c2", mac: net.HardwareAddr{6, 5, 4, 3, 2, 1}}
	link2, _ := simlink.NewLink(second, srv, 1e7, 0, 0, sched, rng)
	discover2 := &simpacket.Packet{
		Kind: simpacket.KindDHCP,
		L2:   simpacket.L2Header{SrcMAC: second.mac, DstMAC: simpacket.Broadcast},
		Payload: simpacket.DHCPPayload{
			MessageType: simpacket.DHCPDiscover,
		},
	}
	_ = link2.Enqueue(sched.Now(), discover2, second)
	sched.Run()

	if len(second.received) != 0 {
		t.Fatalf("second client should see no OFFER (pool exhausted), got %d", len(second.received))
	}
}
