package simnode

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// pendingSend is a deferred send, resumable once the target MAC is known.
// Carrying the whole closure (rather than a bespoke kwargs struct) is the
// mechanism §9 calls for: every argument required to resume travels with
// the function value itself.
type pendingSend func(now simclock.Time, dstMAC net.HardwareAddr)

// arpState is a Node's ARP cache and outstanding-request bookkeeping.
type arpState struct {
	cache   map[string]net.HardwareAddr
	pending map[string][]pendingSend
	waiting map[string]bool // true while a request for this IP is outstanding
}

func (a *arpState) init() {
	a.cache = make(map[string]net.HardwareAddr)
	a.pending = make(map[string][]pendingSend)
	a.waiting = make(map[string]bool)
}

func (a *arpState) lookup(ip net.IP) (net.HardwareAddr, bool) {
	mac, ok := a.cache[ip.String()]
	return mac, ok
}

// resolveAndSend resolves dstIP to a MAC address, invoking send immediately
// on a cache hit or deferring it (and issuing an ARP request, if one isn't
// already outstanding) on a miss (§4.3.1).
func (n *Node) resolveAndSend(now simclock.Time, dstIP net.IP, send pendingSend) {
	if mac, ok := n.arp.lookup(dstIP); ok {
		send(now, mac)
		return
	}
	key := dstIP.String()
	n.arp.pending[key] = append(n.arp.pending[key], send)
	if n.arp.waiting[key] {
		return
	}
	n.arp.waiting[key] = true
	n.sendARPRequest(now, dstIP)
}

func (n *Node) sendARPRequest(now simclock.Time, targetIP net.IP) {
	pkt := n.newARPPacket(now, simpacket.Broadcast, simpacket.ARPPayload{
		Operation: simpacket.ARPRequest,
		SenderMAC: n.mac,
		SenderIP:  n.IP(),
		TargetIP:  targetIP,
	})
	_ = n.transmit(now, pkt)
}

func (n *Node) newARPPacket(now simclock.Time, dstMAC net.HardwareAddr, payload simpacket.ARPPayload) *simpacket.Packet {
	size, _ := simpacket.ControlFrameSize(n.mac, dstMAC, n.IP(), payload.TargetIP, 28)
	return &simpacket.Packet{
		ID:           newPacketID(n.rng),
		Kind:         simpacket.KindARP,
		L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
		L3:           simpacket.L3Header{SrcIP: n.IP(), DstIP: payload.TargetIP, TTL: 1},
		Size:         size,
		CreationTime: now,
		Payload:      payload,
	}
}

// handleARP implements §4.3.1: answer requests addressed to our IP, and on
// a reply, cache the mapping and flush every send deferred on it.
func (n *Node) handleARP(now simclock.Time, pkt *simpacket.Packet) {
	arp, ok := pkt.Payload.(simpacket.ARPPayload)
	if !ok {
		n.logEvent(now, pkt, "dropped")
		return
	}
	switch arp.Operation {
	case simpacket.ARPRequest:
		if !arp.TargetIP.Equal(n.IP()) {
			return
		}
		reply := n.newARPPacket(now, arp.SenderMAC, simpacket.ARPPayload{
			Operation: simpacket.ARPReply,
			SenderMAC: n.mac,
			SenderIP:  n.IP(),
			TargetMAC: arp.SenderMAC,
			TargetIP:  arp.SenderIP,
		})
		n.arp.cache[arp.SenderIP.String()] = arp.SenderMAC
		_ = n.transmit(now, reply)

	case simpacket.ARPReply:
		if !arp.TargetIP.Equal(n.IP()) {
			return
		}
		key := arp.SenderIP.String()
		n.arp.cache[key] = arp.SenderMAC
		delete(n.arp.waiting, key)
		queued := n.arp.pending[key]
		delete(n.arp.pending, key)
		for _, send := range queued {
			send(now, arp.SenderMAC)
		}
	}
}
