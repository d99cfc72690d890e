// TCP-like connection state machine (§4.3.5): handshake, cumulative ACK,
// 3x-duplicate-ACK fast retransmit and FIN teardown, built on SeqNum's
// wraparound-safe comparisons (seq.go, adapted from
// github.com/m-lab/etl/tcp/sequence.go).
package simnode

import (
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

type tcpState int

const (
	tcpClosed tcpState = iota
	tcpSynSent
	tcpSynReceived
	tcpEstablished
	tcpFinWait
	tcpClosing
	tcpTimeWait
)

// connKey identifies one TCP connection by the 4-tuple minus the always-
// local IP (a Node only ever sees connections terminating at itself).
type connKey struct {
	peerIP    string
	peerPort  uint16
	localPort uint16
}

// outSegment is one sent-but-possibly-unacked byte range, kept so fast
// retransmit can resend exactly what was sent rather than redrawing from
// the application buffer.
type outSegment struct {
	seq  SeqNum
	data []byte
}

// tcpConn holds one connection's state machine.
type tcpConn struct {
	node *Node
	key  connKey

	state tcpState

	sndUna SeqNum // oldest byte sent but not yet acked
	sndNxt SeqNum // next sequence number to use for new data
	rcvNxt SeqNum // next in-order byte expected from the peer

	unacked     []outSegment
	lastAckSeen SeqNum
	dupAcks     int

	mss int

	// sendBuffer holds application data queued but not yet handed to the
	// network; trySendNext drains it one MSS-sized chunk per qualifying
	// ACK rather than bursting it all at once (§4.3.5).
	sendBuffer       []byte
	closeWhenDrained bool

	onEstablished func(now simclock.Time, c *tcpConn)
	onClosed      func(now simclock.Time, c *tcpConn)
}

func (n *Node) connFor(peerIP net.IP, peerPort, localPort uint16) *tcpConn {
	return n.tcp[connKey{peerIP: peerIP.String(), peerPort: peerPort, localPort: localPort}]
}

func (n *Node) newConn(peerIP net.IP, peerPort, localPort uint16) *tcpConn {
	c := &tcpConn{
		node: n,
		key:  connKey{peerIP: peerIP.String(), peerPort: peerPort, localPort: localPort},
		mss:  n.mtu - simpacket.IPv4HeaderLen - simpacket.TCPHeaderLen,
	}
	n.tcp[c.key] = c
	return c
}

// DialTCP opens an active connection to peerIP:peerPort from localPort,
// sending the initial SYN; onEstablished fires once the handshake
// completes (§4.3.5's CLOSED -> SYN_SENT -> ESTABLISHED path).
func (n *Node) DialTCP(now simclock.Time, peerIP net.IP, peerPort, localPort uint16, onEstablished func(now simclock.Time, c *tcpConn)) *tcpConn {
	c := n.newConn(peerIP, peerPort, localPort)
	c.onEstablished = onEstablished
	c.sndUna = SeqNum(n.rng.Uint32())
	c.sndNxt = c.sndUna
	c.state = tcpSynSent
	n.sendTCPSegment(now, c, simpacket.FlagSYN, nil)
	c.sndNxt = c.sndNxt.Add(1)
	return c
}

func (n *Node) sendTCPSegment(now simclock.Time, c *tcpConn, flags simpacket.TCPFlags, data []byte) {
	seq := c.sndNxt
	n.sendIP(now, c.key.peerIPAddr(), func(dstMAC net.HardwareAddr) *simpacket.Packet {
		size, _ := simpacket.TCPFrameSize(n.mac, dstMAC, n.IP(), c.key.peerIPAddr(), c.key.localPort, c.key.peerPort, len(data))
		return &simpacket.Packet{
			ID:           newPacketID(n.rng),
			Kind:         simpacket.KindData,
			L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
			L3:           simpacket.L3Header{SrcIP: n.IP(), DstIP: c.key.peerIPAddr(), TTL: 64},
			Size:         size,
			CreationTime: now,
			Payload: simpacket.DataPayload{
				Transport: simpacket.TransportTCP,
				SrcPort:   c.key.localPort,
				DstPort:   c.key.peerPort,
				Seq:       uint32(seq),
				Ack:       uint32(c.rcvNxt),
				Flags:     flags,
				Bytes:     data,
			},
		}
	})
	if len(data) > 0 {
		c.unacked = append(c.unacked, outSegment{seq: seq, data: data})
	}
}

func (k connKey) peerIPAddr() net.IP { return net.ParseIP(k.peerIP) }

// SendTCP queues application data for transmission on an established
// connection. It only buffers the bytes; actual segments go out one
// MSS-sized chunk per qualifying ACK via trySendNext, matching
// _examples/original_source/sec11b/Node.py's send_tcp_data_packet (the
// sender never bursts its whole pending buffer on one call).
func (c *tcpConn) SendTCP(now simclock.Time, data []byte) {
	if c.state != tcpEstablished {
		return
	}
	c.sendBuffer = append(c.sendBuffer, data...)
}

// trySendNext emits exactly one MSS-sized chunk from the front of the
// connection's buffered application data, if any remains. Call it once
// per qualifying ACK (including the handshake's completing ACK) so data
// transmission stays ACK-clocked rather than front-loaded. If the buffer
// has drained and the connection was marked to close once empty, it
// begins active teardown.
func (n *Node) trySendNext(now simclock.Time, c *tcpConn) {
	if c.state != tcpEstablished {
		return
	}
	if len(c.sendBuffer) == 0 {
		if c.closeWhenDrained {
			c.closeWhenDrained = false
			c.CloseTCP(now)
		}
		return
	}
	chunkLen := c.mss
	if chunkLen > len(c.sendBuffer) {
		chunkLen = len(c.sendBuffer)
	}
	chunk := c.sendBuffer[:chunkLen]
	c.sendBuffer = c.sendBuffer[chunkLen:]
	n.sendTCPSegment(now, c, simpacket.FlagACK, chunk)
	c.sndNxt = c.sndNxt.Add(uint32(chunkLen))
}

// CloseTCP begins active teardown by sending FIN (§4.3.5).
func (c *tcpConn) CloseTCP(now simclock.Time) {
	if c.state != tcpEstablished {
		return
	}
	c.state = tcpFinWait
	c.node.sendTCPSegment(now, c, simpacket.FlagFIN|simpacket.FlagACK, nil)
	c.sndNxt = c.sndNxt.Add(1)
}

// handleData dispatches a received DATA packet: UDP payloads go straight to
// their traffic-layer handler; TCP segments drive the connection state
// machine.
func (n *Node) handleData(now simclock.Time, pkt *simpacket.Packet) {
	data, ok := pkt.Payload.(simpacket.DataPayload)
	if !ok {
		n.logEvent(now, pkt, "dropped")
		return
	}
	if pkt.L3.Fragment.MoreFragments || pkt.L3.Fragment.OriginalDataID != [16]byte{} {
		reassembled, done, err := n.reassembler.AddFragment(pkt.L3.Fragment.OriginalDataID, pkt.L3.Fragment.Offset, pkt.L3.Fragment.MoreFragments, data.Bytes)
		if err != nil {
			n.logEvent(now, pkt, "reassemble_failed_incomplete_data")
			return
		}
		if !done {
			return
		}
		n.logEvent(now, pkt, "reassembled")
		data.Bytes = reassembled
	}

	if data.Transport == simpacket.TransportUDP {
		n.handleUDP(now, pkt, data)
		return
	}
	n.handleTCP(now, pkt, data)
}

func (n *Node) handleTCP(now simclock.Time, pkt *simpacket.Packet, data simpacket.DataPayload) {
	c := n.connFor(pkt.L3.SrcIP, data.SrcPort, data.DstPort)

	if c == nil {
		if data.Flags.SYN() && !data.Flags.ACK() {
			n.acceptTCP(now, pkt, data)
		}
		return
	}

	switch c.state {
	case tcpSynSent:
		if data.Flags.SYN() && data.Flags.ACK() {
			c.rcvNxt = SeqNum(data.Seq).Add(1)
			c.sndUna = SeqNum(data.Ack)
			c.state = tcpEstablished
			n.sendTCPSegment(now, c, simpacket.FlagACK, nil)
			if c.onEstablished != nil {
				c.onEstablished(now, c)
			}
			n.trySendNext(now, c)
		}

	case tcpSynReceived:
		if data.Flags.ACK() {
			c.sndUna = SeqNum(data.Ack)
			c.state = tcpEstablished
			if c.onEstablished != nil {
				c.onEstablished(now, c)
			}
			n.trySendNext(now, c)
		}

	case tcpEstablished:
		n.handleEstablishedTCP(now, pkt, c, data)

	case tcpFinWait:
		if data.Flags.ACK() {
			c.sndUna = SeqNum(data.Ack)
		}
		if data.Flags.FIN() {
			c.rcvNxt = SeqNum(data.Seq).Add(1)
			n.sendTCPSegment(now, c, simpacket.FlagACK, nil)
			c.state = tcpTimeWait
			delete(n.tcp, c.key)
			if c.onClosed != nil {
				c.onClosed(now, c)
			}
		}

	case tcpClosing:
		if data.Flags.ACK() {
			delete(n.tcp, c.key)
			if c.onClosed != nil {
				c.onClosed(now, c)
			}
		}
	}
}

func (n *Node) acceptTCP(now simclock.Time, pkt *simpacket.Packet, data simpacket.DataPayload) {
	c := n.newConn(pkt.L3.SrcIP, data.SrcPort, data.DstPort)
	c.rcvNxt = SeqNum(data.Seq).Add(1)
	c.sndUna = SeqNum(n.rng.Uint32())
	c.sndNxt = c.sndUna
	c.state = tcpSynReceived
	n.sendTCPSegment(now, c, simpacket.FlagSYN|simpacket.FlagACK, nil)
	c.sndNxt = c.sndNxt.Add(1)
}

// handleEstablishedTCP implements cumulative ACK processing, 3x-duplicate-
// ACK fast retransmit, and passive FIN handling.
func (n *Node) handleEstablishedTCP(now simclock.Time, pkt *simpacket.Packet, c *tcpConn, data simpacket.DataPayload) {
	ackNum := SeqNum(data.Ack)
	if ackNum.Equal(c.lastAckSeen) {
		c.dupAcks++
		if c.dupAcks == 3 && len(c.unacked) > 0 {
			simlog.TCPRetransmits.Inc()
			seg := c.unacked[0]
			n.sendIP(now, pkt.L3.SrcIP, func(dstMAC net.HardwareAddr) *simpacket.Packet {
				size, _ := simpacket.TCPFrameSize(n.mac, dstMAC, n.IP(), pkt.L3.SrcIP, c.key.localPort, c.key.peerPort, len(seg.data))
				return &simpacket.Packet{
					ID:           newPacketID(n.rng),
					Kind:         simpacket.KindData,
					L2:           simpacket.L2Header{SrcMAC: n.mac, DstMAC: dstMAC},
					L3:           simpacket.L3Header{SrcIP: n.IP(), DstIP: pkt.L3.SrcIP, TTL: 64},
					Size:         size,
					CreationTime: now,
					Payload: simpacket.DataPayload{
						Transport: simpacket.TransportTCP,
						SrcPort:   c.key.localPort,
						DstPort:   c.key.peerPort,
						Seq:       uint32(seg.seq),
						Ack:       uint32(c.rcvNxt),
						Flags:     simpacket.FlagACK,
						Bytes:     seg.data,
					},
				}
			})
			c.dupAcks = 0
		}
	} else {
		c.lastAckSeen = ackNum
		c.dupAcks = 0
		c.sndUna = ackNum
		for len(c.unacked) > 0 && c.unacked[0].seq.Less(ackNum) {
			c.unacked = c.unacked[1:]
		}
		n.trySendNext(now, c)
	}

	if len(data.Bytes) > 0 && SeqNum(data.Seq).Equal(c.rcvNxt) {
		c.rcvNxt = c.rcvNxt.Add(uint32(len(data.Bytes)))
		n.sendTCPSegment(now, c, simpacket.FlagACK, nil)
	}

	if data.Flags.FIN() {
		c.rcvNxt = c.rcvNxt.Add(1)
		n.sendTCPSegment(now, c, simpacket.FlagACK, nil)
		c.state = tcpClosing
		n.sendTCPSegment(now, c, simpacket.FlagFIN|simpacket.FlagACK, nil)
		c.sndNxt = c.sndNxt.Add(1)
	}
}
