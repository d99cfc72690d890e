// Package simpacket implements the simulator's packet model: an immutable
// (except for TTL and MAC-header rewrite at a hop) tagged packet with a
// common L2/L3 header and a variant-specific payload, built on top of
// gopacket/layers so that wire sizes come from real frame serialization
// instead of hand-counted byte arithmetic.
package simpacket

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/flyby-yunakayama/network-simulator/simclock"
)

// Broadcast is the link-layer broadcast address.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// OSPFMulticast is the reserved multicast destination flooded out every
// router interface instead of being routed.
var OSPFMulticast = net.IPv4(224, 0, 0, 5)

// Lost is the sentinel ArrivalTime that marks a packet as lost in flight.
// It is still delivered to the receiver so loss can be logged (§4.2, §9).
const Lost simclock.Time = -1

// Kind tags which payload variant a Packet carries. Dispatch on Kind is a
// plain switch, never a type hierarchy (§9's "polymorphic packet variants"
// note).
type Kind int

const (
	KindData Kind = iota
	KindARP
	KindDHCP
	KindDNS
	KindBPDU
	KindHello
	KindLSA
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindARP:
		return "ARP"
	case KindDHCP:
		return "DHCP"
	case KindDNS:
		return "DNS"
	case KindBPDU:
		return "BPDU"
	case KindHello:
		return "HELLO"
	case KindLSA:
		return "LSA"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// L2Header is the Ethernet-like header: present and mutable (at relay hops)
// on every packet.
type L2Header struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
}

// Fragmentation carries the IP-fragmentation fields from §3/§4.3.4.
type Fragmentation struct {
	MoreFragments  bool
	OriginalDataID uuid.UUID
	Offset         int // byte offset of this fragment within the original payload
}

// L3Header is the IP-like header. TTL is decremented at each router hop;
// everything else is fixed at creation.
type L3Header struct {
	SrcIP    net.IP
	DstIP    net.IP
	TTL      uint8
	Fragment Fragmentation
}

// Payload is implemented by each of the seven packet-variant payload
// structs below. It carries no behavior; it exists purely so Packet.Payload
// is statically limited to one of the known variants.
type Payload interface {
	payloadKind() Kind
}

// Packet is the wire unit flowing across links. It is uniquely owned by
// whichever link or node currently holds it; the packet log (simlog) holds
// only an ID reference, never shared ownership of the mutable packet
// (§3 Ownership).
type Packet struct {
	ID   uuid.UUID
	Kind Kind
	L2   L2Header
	L3   L3Header

	// Size is the on-wire byte size: headers (computed via
	// gopacket.SerializeLayers where a real frame applies) plus payload.
	Size int

	CreationTime simclock.Time
	// ArrivalTime is simclock.Lost (-1) if this packet was marked lost on
	// its link, or unset (0, but callers should treat ArrivalTime as valid
	// only once Arrived is true) otherwise.
	ArrivalTime simclock.Time
	Arrived     bool

	Payload Payload
}

// MarkArrived stamps the packet's arrival at the current simulated time.
func (p *Packet) MarkArrived(now simclock.Time) {
	p.ArrivalTime = now
	p.Arrived = true
}

// MarkLost stamps the packet with the lost-in-flight sentinel. The packet
// is still delivered to the receiving link/node so loss can be logged.
func (p *Packet) MarkLost() {
	p.ArrivalTime = Lost
	p.Arrived = true
}

// IsLost reports whether this packet was marked lost on its link.
func (p *Packet) IsLost() bool {
	return p.Arrived && p.ArrivalTime == Lost
}

// IsBroadcast reports whether the destination MAC is the broadcast address.
func (l2 L2Header) IsBroadcast() bool {
	return l2.DstMAC != nil && l2.DstMAC.String() == Broadcast.String()
}

// --- payload variants ---

// TransportKind distinguishes the two DATA sub-variants (§3).
type TransportKind int

const (
	TransportUDP TransportKind = iota
	TransportTCP
)

func (t TransportKind) String() string {
	if t == TransportTCP {
		return "TCP"
	}
	return "UDP"
}

// TCPFlags mirrors the teacher's tcp.Flags bit-accessor style
// (github.com/m-lab/etl/tcp), generalized to the handful of flags the
// simulator's state machine actually sets.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagACK
	FlagPSH
)

func (f TCPFlags) FIN() bool { return f&FlagFIN != 0 }
func (f TCPFlags) SYN() bool { return f&FlagSYN != 0 }
func (f TCPFlags) ACK() bool { return f&FlagACK != 0 }
func (f TCPFlags) PSH() bool { return f&FlagPSH != 0 }

// DataPayload carries a UDP or TCP segment (§3).
type DataPayload struct {
	Transport TransportKind
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32
	Ack       uint32
	Flags     TCPFlags
	Bytes     []byte
}

func (DataPayload) payloadKind() Kind { return KindData }

// ARPOperation is request or reply (§3).
type ARPOperation int

const (
	ARPRequest ARPOperation = iota
	ARPReply
)

// ARPPayload carries an ARP request/reply.
type ARPPayload struct {
	Operation ARPOperation
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr // zero value for requests
	TargetIP  net.IP
}

func (ARPPayload) payloadKind() Kind { return KindARP }

// DHCPMessageType enumerates the four DHCP messages the spec models (§3).
type DHCPMessageType int

const (
	DHCPDiscover DHCPMessageType = iota
	DHCPOffer
	DHCPRequest
	DHCPAck
)

func (t DHCPMessageType) String() string {
	switch t {
	case DHCPDiscover:
		return "DISCOVER"
	case DHCPOffer:
		return "OFFER"
	case DHCPRequest:
		return "REQUEST"
	case DHCPAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// DHCPPayload carries DHCP client/server message state (§3/§4.3.2/§4.6).
type DHCPPayload struct {
	MessageType DHCPMessageType
	OfferedIP   net.IP
	RequestedIP net.IP
	AssignedIP  net.IP
	DNSServerIP net.IP
}

func (DHCPPayload) payloadKind() Kind { return KindDHCP }

// DNSPayload carries a DNS query/response (§3/§4.3.3/§4.6).
type DNSPayload struct {
	QueryDomain string
	QueryType   string
	ResolvedIP  net.IP
}

func (DNSPayload) payloadKind() Kind { return KindDNS }

// BPDUPayload carries an STP bridge-protocol-data-unit (§3/§4.4).
type BPDUPayload struct {
	RootID   string
	BridgeID string
	PathCost float64
}

func (BPDUPayload) payloadKind() Kind { return KindBPDU }

// HelloPayload carries an OSPF-like Hello (§3/§4.5).
type HelloPayload struct {
	RouterID      string
	NetworkMask   net.IPMask
	HelloInterval float64
	Neighbors     []string
}

func (HelloPayload) payloadKind() Kind { return KindHello }

// LinkStateEntry is one entry of an LSA's local link-state map (§4.5). The
// advertising router's own interface IP is not carried (entries are keyed
// by interface name in LSAPayload.LinkState); NeighborID carries the router ID observed on the
// other end of the link so SPF can build a router-level graph even for
// links several hops from the node running it, not just direct neighbors.
type LinkStateEntry struct {
	NeighborID   string
	NeighborIP   net.IP
	NeighborMask net.IPMask
	Cost         float64
	Active       bool
}

// LSAPayload carries a link-state advertisement (§3/§4.5).
type LSAPayload struct {
	RouterID       string
	SequenceNumber uint32
	LinkState      map[string]LinkStateEntry // keyed by local link/interface name
}

func (LSAPayload) payloadKind() Kind { return KindLSA }

// --- wire-size computation, grounded on gopacket/layers serialization ---

// EthernetHeaderLen is the fixed Ethernet-II header length gopacket/layers
// produces for an untagged frame (no 802.1Q, no FCS), used as the L2
// overhead for every packet kind.
const EthernetHeaderLen = 14

// IPv4HeaderLen is the minimum (no-options) IPv4 header length (§6 default).
const IPv4HeaderLen = 20

// UDPHeaderLen and TCPHeaderLen match §6's stated defaults.
const (
	UDPHeaderLen = 8
	TCPHeaderLen = 20
)

// frameSize serializes a minimal Ethernet+IPv4(+transport) frame with
// gopacket to get a byte-accurate size instead of hand-summed constants,
// mirroring how github.com/m-lab/etl/tcpip builds headers with
// gopacket/layers.
func frameSize(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, transport gopacket.SerializableLayer, payloadLen int) (int, error) {
	eth := &layers.Ethernet{
		SrcMAC:       padMAC(srcMAC),
		DstMAC:       padMAC(dstMAC),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    padIPv4(srcIP),
		DstIP:    padIPv4(dstIP),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: false}
	layersToSerialize := []gopacket.SerializableLayer{eth, ip}
	if transport != nil {
		layersToSerialize = append(layersToSerialize, transport)
	}
	if payloadLen > 0 {
		layersToSerialize = append(layersToSerialize, gopacket.Payload(make([]byte, payloadLen)))
	}
	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		return 0, fmt.Errorf("simpacket: serializing frame: %w", err)
	}
	return len(buf.Bytes()), nil
}

func padMAC(mac net.HardwareAddr) net.HardwareAddr {
	if len(mac) == 6 {
		return mac
	}
	return make(net.HardwareAddr, 6)
}

func padIPv4(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return net.IPv4zero.To4()
}

// UDPFrameSize returns the on-wire size of an Ethernet+IPv4+UDP frame
// carrying payloadLen bytes of application data.
func UDPFrameSize(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payloadLen int) (int, error) {
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	return frameSize(srcMAC, dstMAC, srcIP, dstIP, udp, payloadLen)
}

// TCPFrameSize returns the on-wire size of an Ethernet+IPv4+TCP frame
// carrying payloadLen bytes of application data.
func TCPFrameSize(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payloadLen int) (int, error) {
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), DataOffset: 5}
	return frameSize(srcMAC, dstMAC, srcIP, dstIP, tcp, payloadLen)
}

// ControlFrameSize returns the on-wire size of a control packet (ARP, DHCP,
// DNS, BPDU, Hello, LSA): Ethernet + IPv4 framing, with no transport
// header, plus an estimate of the marshaled control payload. Real routers encode these with dedicated
// protocol headers; the simulator approximates the control-plane payload
// size since §6 does not specify a wire format for it.
func ControlFrameSize(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, payloadLen int) (int, error) {
	return frameSize(srcMAC, dstMAC, srcIP, dstIP, nil, payloadLen)
}
