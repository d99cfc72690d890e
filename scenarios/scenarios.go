// Package scenarios holds the worked end-to-end scenarios: one Go function
// per named scenario, each building its own topology via a topology.Builder
// and returning control to RunScenarios for independent, concurrent
// execution.
package scenarios

import (
	"math/rand"
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simnode"
	"github.com/flyby-yunakayama/network-simulator/simrouter"
	"github.com/flyby-yunakayama/network-simulator/simserver"
	"github.com/flyby-yunakayama/network-simulator/simswitch"
	"github.com/flyby-yunakayama/network-simulator/topology"
)

// Select returns the named scenarios, or every scenario if name is "all".
func Select(name string) []topology.Scenario {
	all := []topology.Scenario{
		{Name: "s1_two_host_udp", Seed: 1, Build: s1TwoHostUDP},
		{Name: "s2_arp_then_tcp", Seed: 2, Build: s2ARPThenTCP},
		{Name: "s3_switched_lan_stp", Seed: 3, Build: s3SwitchedLAN},
		{Name: "s4_router_link_failure", Seed: 4, Build: s4RouterLinkFailure},
		{Name: "s5_dhcp_assignment", Seed: 5, Build: s5DHCPAssignment},
		{Name: "s6_dns_then_tcp", Seed: 6, Build: s6DNSThenTCP},
	}
	if name == "all" || name == "" {
		return all
	}
	var out []topology.Scenario
	for _, sc := range all {
		if sc.Name == name {
			out = append(out, sc)
		}
	}
	return out
}

// s1TwoHostUDP: two directly-linked hosts, eight paced UDP datagrams, no loss.
func s1TwoHostUDP(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	a, _ := b.NewNode(simnode.Config{ID: "a", CIDR: "10.0.0.1/24", Rand: rng})
	c, _ := b.NewNode(simnode.Config{ID: "c", CIDR: "10.0.0.2/24", Rand: rng})
	l, _ := b.NewLink(a, c, 1e7, 0.005, 0)
	a.AttachLink(l)
	c.AttachLink(l)

	c.OnUDP(9000, func(now simclock.Time, srcIP net.IP, srcPort uint16, data []byte) {})
	// 1000-byte payload, 1 s spacing, 8 packets (spec §8 S1): bitrate chosen
	// so (header+payload)*8/bitrate == 1s exactly, duration wide enough for
	// packets at t=0..7 but not t=8.
	topology.StartUDPTraffic(b, 0, a, c.IP(), 9000, 5000, 8224, 7.5, 28, 1000, 1.0)
	return 0
}

// s2ARPThenTCP: two hosts exchange a TCP connection over a lossy link,
// exercising ARP resolution, the handshake, and fast retransmit.
func s2ARPThenTCP(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	a, _ := b.NewNode(simnode.Config{ID: "a", CIDR: "10.0.1.1/24", Rand: rng})
	c, _ := b.NewNode(simnode.Config{ID: "c", CIDR: "10.0.1.2/24", Rand: rng})
	l, _ := b.NewLink(a, c, 1e7, 0.002, 0.05)
	a.AttachLink(l)
	c.AttachLink(l)

	// 3000 bytes total at 24000 bps, 250-byte segments.
	topology.StartTCPTraffic(b, 0, a, c.IP(), 443, 6000, 24000, 1.0, 40, 250, 1.0)
	return 0
}

// s3SwitchedLAN: two hosts behind a switch, with a second switch attached
// over a single inter-switch link, exercising MAC learning and BPDU
// exchange. The topology has no loop, so STP blocks no port.
func s3SwitchedLAN(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	sw1 := b.NewSwitch(simswitch.Config{ID: "sw1"})
	sw2 := b.NewSwitch(simswitch.Config{ID: "sw2"})

	a, _ := b.NewNode(simnode.Config{ID: "a", CIDR: "10.1.0.1/24", Rand: rng})
	c, _ := b.NewNode(simnode.Config{ID: "c", CIDR: "10.1.0.2/24", Rand: rng})

	l1, _ := b.NewLink(a, sw1, 1e8, 0.001, 0)
	l2, _ := b.NewLink(sw1, c, 1e8, 0.001, 0)
	lredundant, _ := b.NewLink(sw1, sw2, 1e8, 0.001, 0)
	a.AttachLink(l1)
	c.AttachLink(l2)
	sw1.AttachPort(l1)
	sw1.AttachPort(l2)
	sw1.AttachPort(lredundant)
	sw2.AttachPort(lredundant)

	c.OnUDP(7000, func(now simclock.Time, srcIP net.IP, srcPort uint16, data []byte) {})
	// A single 12-byte datagram: duration shorter than the inter-packet
	// interval its own bitrate implies, so generate_packet fires once.
	topology.StartUDPTraffic(b, 5, a, c.IP(), 7000, 5001, 320, 0.5, 28, 12, 1.0)
	return 20
}

// s4RouterLinkFailure: two routers connected by two parallel point-to-
// point links; the primary link is disabled mid-run to exercise OSPF-like
// reconvergence. Hellos still arrive over the backup link, so the dead-
// timer sweep does not expire the other router; later LSAs mark the
// primary link inactive and SPF skips it.
func s4RouterLinkFailure(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	// Shorter-than-default Hello/LSA intervals so the scenario's 300s
	// window comfortably covers several dead-timer sweeps after the
	// primary link drops at t=100.
	r1, _ := b.NewRouter(simrouter.Config{ID: "r1", CIDRs: []string{"10.2.0.1/30", "10.2.1.1/30"}, Rand: rng, HelloInterval: 5, LSAInterval: 5})
	r2, _ := b.NewRouter(simrouter.Config{ID: "r2", CIDRs: []string{"10.2.0.2/30", "10.2.1.2/30"}, Rand: rng, HelloInterval: 5, LSAInterval: 5})

	primary, _ := b.NewLink(r1, r2, 1e7, 0.001, 0)
	r1.AttachLink(primary)
	r2.AttachLink(primary)

	backup, _ := b.NewLink(r1, r2, 1e6, 0.002, 0)
	r1.AttachLink(backup)
	r2.AttachLink(backup)

	sched.Schedule(100, func(now simclock.Time, args interface{}) {
		primary.Disable()
	}, nil)

	return 300
}

// s5DHCPAssignment: an unconfigured host acquires an address from a DHCP
// server over a shared link.
func s5DHCPAssignment(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	client, _ := b.NewNode(simnode.Config{ID: "client", CIDR: "192.168.5.0/24", Rand: rng})
	server, _ := b.NewDHCPServer(simserver.Config{ID: "dhcp1", PoolCIDR: "192.168.5.0/24", Rand: rng})

	l, _ := b.NewLink(client, server, 1e7, 0.001, 0)
	client.AttachLink(l)

	return 10
}

// s6DNSThenTCP: a host, a DNS server holding a record for the target and
// the target server share a LAN; at t=1 the host opens a TCP connection
// to the server's address directly. No DNS query is issued: nothing in
// this scenario resolves "example.test". The client is single-homed
// (§4.3's one-link-per-Node design), so the DNS server and the target
// server share the client's LAN behind a switch rather than each taking a
// dedicated point-to-point link.
func s6DNSThenTCP(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) simclock.Time {
	b := topology.NewBuilder(sched, rng, log)
	client, _ := b.NewNode(simnode.Config{ID: "client", CIDR: "10.3.0.1/24", Rand: rng, DNS: net.IPv4(10, 3, 0, 53)})
	dns, _ := b.NewDNSServer(simserver.DNSConfig{
		ID:      "dns1",
		CIDR:    "10.3.0.53/24",
		Records: map[string]net.IP{"example.test": net.IPv4(10, 3, 0, 100)},
		Rand:    rng,
	})
	server, _ := b.NewNode(simnode.Config{ID: "server", CIDR: "10.3.0.100/24", Rand: rng})
	sw := b.NewSwitch(simswitch.Config{ID: "lan-switch"})

	clientLink, _ := b.NewLink(client, sw, 1e7, 0.001, 0)
	client.AttachLink(clientLink)
	sw.AttachPort(clientLink)

	dnsLink, _ := b.NewLink(dns, sw, 1e7, 0.001, 0)
	sw.AttachPort(dnsLink)

	serverLink, _ := b.NewLink(server, sw, 1e7, 0.001, 0)
	server.AttachLink(serverLink)
	sw.AttachPort(serverLink)

	sched.Schedule(1, func(now simclock.Time, args interface{}) {
		client.SendTCP(now, server.IP(), 80, 7000, []byte("GET / over simulated TCP"))
	}, nil)

	return 30
}
