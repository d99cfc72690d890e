package simnode

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// dnsQueryPort is the well-known DNS port used for both query and response
// (§4.6's DNS server default).
const dnsQueryPort uint16 = 53

type dnsClientState struct {
	waiting map[string][]func(now simclock.Time, ip net.IP)
}

func (d *dnsClientState) init() {
	d.waiting = make(map[string][]func(now simclock.Time, ip net.IP))
}

// resolveDomain implements §4.3.3's lookup: a query is sent only for the
// first caller waiting on a given domain; subsequent callers for the same
// domain before the response arrives are queued and all released together.
func (n *Node) resolveDomain(now simclock.Time, domain string, onResolved func(now simclock.Time, ip net.IP)) {
	if n.dnsServerIP == nil {
		return
	}
	_, already := n.dns.waiting[domain]
	n.dns.waiting[domain] = append(n.dns.waiting[domain], onResolved)
	if already {
		return
	}
	n.sendIP(now, n.dnsServerIP, func(dstMAC net.HardwareAddr) *simpacket.Packet {
		return n.newDNSPacket(now, dstMAC, n.dnsServerIP, simpacket.DNSPayload{
			QueryDomain: domain,
			QueryType:   "A",
		})
	})
}

func (n *Node) newDNSPacket(now simclock.Time, dstMAC net.HardwareAddr, dstIP net.IP, payload simpacket.DNSPayload) *simpacket.Packet {
	size, _ := simpacket.UDPFrameSize(n.mac, dstMAC, n.IP(), dstIP, 0, dnsQueryPort, len(payload.QueryDomain)+16)
	return &simpacket.Packet{
		ID:           newPacketID(n.rng),
		Kind:         simpacket.KindDNS,
		L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
		L3:           simpacket.L3Header{SrcIP: n.IP(), DstIP: dstIP, TTL: 64},
		Size:         size,
		CreationTime: now,
		Payload:      payload,
	}
}

// handleDNS implements the client half of §4.3.3: a response drains and
// releases every caller queued on its domain.
func (n *Node) handleDNS(now simclock.Time, pkt *simpacket.Packet) {
	dns, ok := pkt.Payload.(simpacket.DNSPayload)
	if !ok || dns.ResolvedIP == nil {
		n.logEvent(now, pkt, "dropped")
		return
	}
	waiters := n.dns.waiting[dns.QueryDomain]
	delete(n.dns.waiting, dns.QueryDomain)
	n.logEvent(now, pkt, "dns_resolved")
	for _, cb := range waiters {
		cb(now, dns.ResolvedIP)
	}
}
