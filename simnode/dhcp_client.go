package simnode

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// dhcpClientPhase tracks progress through the four-message exchange (§4.3.2).
type dhcpClientPhase int

const (
	dhcpUnconfigured dhcpClientPhase = iota
	dhcpDiscovering
	dhcpRequesting
	dhcpBound
)

type dhcpClientState struct {
	phase     dhcpClientPhase
	offeredIP net.IP
}

// scheduleDHCPDiscover issues the initial DISCOVER at now + U[0.5, 0.6),
// the jittered startup delay §4.3.2 calls for so multiple unconfigured
// hosts on the same segment don't collide at t=0.
func (n *Node) scheduleDHCPDiscover() {
	jitter := simclock.Time(0.5 + n.rng.Float64()*0.1)
	n.sched.Schedule(n.sched.Now()+jitter, func(now simclock.Time, args interface{}) {
		n.sendDHCPDiscover(now)
	}, nil)
}

func (n *Node) sendDHCPDiscover(now simclock.Time) {
	n.dhcp.phase = dhcpDiscovering
	pkt := n.newDHCPPacket(now, simpacket.Broadcast, net.IPv4bcast, simpacket.DHCPPayload{
		MessageType: simpacket.DHCPDiscover,
	})
	_ = n.transmit(now, pkt)
}

func (n *Node) newDHCPPacket(now simclock.Time, dstMAC net.HardwareAddr, dstIP net.IP, payload simpacket.DHCPPayload) *simpacket.Packet {
	srcIP := n.IP()
	if !n.configured {
		srcIP = net.IPv4zero
	}
	size, _ := simpacket.ControlFrameSize(n.mac, dstMAC, srcIP, dstIP, 240)
	return &simpacket.Packet{
		ID:           newPacketID(n.rng),
		Kind:         simpacket.KindDHCP,
		L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
		L3:           simpacket.L3Header{SrcIP: srcIP, DstIP: dstIP, TTL: 1},
		Size:         size,
		CreationTime: now,
		Payload:      payload,
	}
}

// handleDHCP implements the client half of §4.3.2's state machine: OFFER
// prompts an immediate REQUEST echoing the offered address; ACK completes
// configuration, adopting the assigned IP and (if present) the server's
// advertised DNS address.
func (n *Node) handleDHCP(now simclock.Time, pkt *simpacket.Packet) {
	dhcp, ok := pkt.Payload.(simpacket.DHCPPayload)
	if !ok {
		n.logEvent(now, pkt, "dropped")
		return
	}
	switch dhcp.MessageType {
	case simpacket.DHCPOffer:
		if n.dhcp.phase != dhcpDiscovering {
			return
		}
		n.dhcp.offeredIP = dhcp.OfferedIP
		n.dhcp.phase = dhcpRequesting
		reply := n.newDHCPPacket(now, simpacket.Broadcast, net.IPv4bcast, simpacket.DHCPPayload{
			MessageType: simpacket.DHCPRequest,
			RequestedIP: dhcp.OfferedIP,
		})
		_ = n.transmit(now, reply)

	case simpacket.DHCPAck:
		if n.dhcp.phase != dhcpRequesting {
			return
		}
		n.ipNet.IP = dhcp.AssignedIP
		n.configured = true
		n.dhcp.phase = dhcpBound
		if dhcp.DNSServerIP != nil {
			n.dnsServerIP = dhcp.DNSServerIP
		}
		n.logEvent(now, pkt, "dhcp_bound")
	}
}
