// Traffic generators (§6's start_udp_traffic/start_tcp_traffic): the
// entry points scenarios use to inject application-level sends into the
// simulation.
package simnode

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// UDPHandler receives reassembled UDP application data addressed to a
// registered local port.
type UDPHandler func(now simclock.Time, srcIP net.IP, srcPort uint16, data []byte)

// OnUDP registers the handler invoked for UDP datagrams arriving on
// localPort; only one handler may be registered per port.
func (n *Node) OnUDP(localPort uint16, h UDPHandler) {
	if n.udpHandlers == nil {
		n.udpHandlers = make(map[uint16]UDPHandler)
	}
	n.udpHandlers[localPort] = h
}

func (n *Node) handleUDP(now simclock.Time, pkt *simpacket.Packet, data simpacket.DataPayload) {
	h, ok := n.udpHandlers[data.DstPort]
	if !ok {
		n.logEvent(now, pkt, "dropped")
		return
	}
	h(now, pkt.L3.SrcIP, data.SrcPort, data.Bytes)
}

// SendUDP sends one UDP datagram (StartUDPTraffic is the paced
// start_udp_traffic flow built on it): payload larger than the link
// MTU minus headers is split into IP fragments per §4.3.4 and reassembled
// at the destination before the handler sees it.
func (n *Node) SendUDP(now simclock.Time, dstIP net.IP, dstPort, srcPort uint16, payload []byte) {
	maxChunk := n.mtu - simpacket.IPv4HeaderLen - simpacket.UDPHeaderLen
	frags := simpacket.SplitFragments(newPacketID(n.rng), payload, maxChunk)
	for _, frag := range frags {
		chunk := payload[frag.Offset:]
		if frag.MoreFragments {
			chunk = payload[frag.Offset : frag.Offset+maxChunk]
		}
		frag := frag // capture for closure
		n.sendIP(now, dstIP, func(dstMAC net.HardwareAddr) *simpacket.Packet {
			size, _ := simpacket.UDPFrameSize(n.mac, dstMAC, n.IP(), dstIP, srcPort, dstPort, len(chunk))
			return &simpacket.Packet{
				ID:           newPacketID(n.rng),
				Kind:         simpacket.KindData,
				L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
				L3:           simpacket.L3Header{SrcIP: n.IP(), DstIP: dstIP, TTL: 64, Fragment: frag},
				Size:         size,
				CreationTime: now,
				Payload: simpacket.DataPayload{
					Transport: simpacket.TransportUDP,
					SrcPort:   srcPort,
					DstPort:   dstPort,
					Bytes:     chunk,
				},
			}
		})
	}
}

// SendTCP is the simple one-shot counterpart to StartTCPTraffic: it dials
// dstIP:dstPort, queues payload, and closes the connection once it has
// fully drained (ACK-clocked, see tcp.go's trySendNext).
func (n *Node) SendTCP(now simclock.Time, dstIP net.IP, dstPort, srcPort uint16, payload []byte) {
	n.DialTCP(now, dstIP, dstPort, srcPort, func(now simclock.Time, c *tcpConn) {
		c.SendTCP(now, payload)
		c.closeWhenDrained = true
	})
}

// StartUDPTraffic begins a bitrate-paced UDP flow (§6's start_udp_traffic):
// a payloadSize-byte datagram goes out every
// (headerSize+payloadSize)*8/bitrateBps*burstiness seconds, self-
// rescheduling until now+duration elapses. Grounded on
// _examples/original_source/sec11b/Node.py's set_udp_traffic/generate_packet.
func (n *Node) StartUDPTraffic(now simclock.Time, dstIP net.IP, dstPort, srcPort uint16, bitrateBps float64, duration simclock.Time, headerSize, payloadSize int, burstiness float64) {
	endTime := now + duration
	payload := make([]byte, payloadSize)
	interval := simclock.Time(float64(headerSize+payloadSize) * 8 / bitrateBps * burstiness)

	var generate func(now simclock.Time, args interface{})
	generate = func(now simclock.Time, args interface{}) {
		if now >= endTime {
			return
		}
		n.SendUDP(now, dstIP, dstPort, srcPort, payload)
		n.sched.Schedule(now+interval, generate, nil)
	}
	n.sched.Schedule(now, generate, nil)
}

// StartTCPTraffic opens a TCP connection and queues a bitrateBps*duration/8
// byte payload for it (§6's start_tcp_traffic); payloadSize becomes the
// connection's per-segment chunk size so the ACK-clocked sender in tcp.go
// reproduces the paced send_tcp_data_packet rate rather than MTU-derived
// segmentation. headerSize and burstiness only shape the UDP sibling's
// pacing and are accepted here for interface symmetry, matching
// set_tcp_traffic's (unused) header_size/burstiness fields.
func (n *Node) StartTCPTraffic(now simclock.Time, dstIP net.IP, dstPort, srcPort uint16, bitrateBps float64, duration simclock.Time, headerSize, payloadSize int, burstiness float64) {
	totalBytes := int(bitrateBps * float64(duration) / 8)
	payload := make([]byte, totalBytes)
	n.DialTCP(now, dstIP, dstPort, srcPort, func(now simclock.Time, c *tcpConn) {
		if payloadSize > 0 {
			c.mss = payloadSize
		}
		c.SendTCP(now, payload)
		c.closeWhenDrained = true
	})
}
