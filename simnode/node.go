// Package simnode implements the Host/Node (§4.3): ARP cache and pending
// queue, DHCP client, DNS client, IP fragmenter/reassembler, and the
// UDP/TCP send path and TCP state machine (§4.3.5), grounded on
// github.com/m-lab/etl/tcp's TCP header/flag vocabulary and sequence-number
// arithmetic.
package simnode

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/google/uuid"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// ErrNoLink is returned when a Node tries to send before any Link has been
// attached to it.
var ErrNoLink = fmt.Errorf("simnode: node has no attached link")

// ErrUnknownRoute is returned internally when a destination can't be
// reached; callers log it as a runtime drop rather than surfacing it.
var ErrUnknownRoute = fmt.Errorf("simnode: no route to destination")

// Config configures a new Node, matching §6's
// Node(id, ip_cidr, scheduler, [mac], [dns], [mtu=1500], [default_route]).
type Config struct {
	ID string
	// CIDR is the node's address in CIDR form. A network-address form
	// (e.g. "192.168.1.0/24") means "unconfigured, acquire via DHCP"
	// (§4.3.2).
	CIDR string
	MAC     net.HardwareAddr // optional; generated from Rand if nil
	DNS     net.IP           // optional configured DNS server
	Gateway net.IP           // optional default gateway for off-subnet sends
	MTU     int              // default 1500 (§6)
	Rand    *rand.Rand       // required: seeds MAC generation, DHCP/ISN jitter, loss-adjacent draws
}

// Node is a simulated host (§4.3).
type Node struct {
	id          string
	mac         net.HardwareAddr
	ipNet       *net.IPNet
	configured  bool // true once a non-network address is assigned (static or via DHCP)
	ipConsumed  bool // true once a Link has bound this node's CIDR
	dnsServerIP net.IP
	gatewayIP   net.IP
	mtu         int

	sched *simclock.Scheduler
	rng   *rand.Rand
	log   simlog.Logger

	link        *simlink.Link
	defaultLink *simlink.Link

	arp  arpState
	dhcp dhcpClientState
	dns  dnsClientState
	tcp  map[connKey]*tcpConn

	udpHandlers map[uint16]UDPHandler

	reassembler *simpacket.Reassembler
}

// NewNode constructs a Node. It returns an error (a configuration fault
// per §7) if cfg.CIDR is not parseable or cfg.Rand is nil.
func NewNode(sched *simclock.Scheduler, cfg Config) (*Node, error) {
	if cfg.Rand == nil {
		return nil, fmt.Errorf("simnode: Config.Rand must be set for deterministic replay")
	}
	ip, ipNet, err := net.ParseCIDR(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("simnode: invalid CIDR %q: %w", cfg.CIDR, err)
	}
	ipNet.IP = ip

	mac := cfg.MAC
	if mac == nil {
		mac = randomMAC(cfg.Rand)
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = 1500
	}

	n := &Node{
		id:          cfg.ID,
		mac:         mac,
		ipNet:       ipNet,
		dnsServerIP: cfg.DNS,
		gatewayIP:   cfg.Gateway,
		mtu:         mtu,
		sched:       sched,
		rng:         cfg.Rand,
		tcp:         make(map[connKey]*tcpConn),
		reassembler: simpacket.NewReassembler(),
	}
	n.arp.init()
	n.dns.init()

	n.configured = !isNetworkAddress(ipNet)
	if !n.configured {
		n.scheduleDHCPDiscover()
	}
	return n, nil
}

// randomMAC draws a locally-administered unicast MAC from rng, matching
// the teacher's convention of test link addresses starting with a fixed
// high nibble (github.com/m-lab/etl's fuchsia-adjacent examples use
// "\x52\x11\x22..."-style addresses); here the first byte's locally-
// administered bit is set and the rest are drawn from rng for uniqueness.
func randomMAC(rng *rand.Rand) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	rng.Read(mac)
	mac[0] = (mac[0] | 0x02) & 0xfe
	return mac
}

func isNetworkAddress(n *net.IPNet) bool {
	return n.IP.Equal(n.IP.Mask(n.Mask))
}

// EndpointID implements simlink.Endpoint.
func (n *Node) EndpointID() string { return n.id }

// SetLogger attaches the packet-event logger.
func (n *Node) SetLogger(log simlog.Logger) { n.log = log }

// AttachLink binds the node's single link (§3's Link owns endpoints;
// Node, by construction, is single-homed: a later call replaces the link).
func (n *Node) AttachLink(l *simlink.Link) {
	n.link = l
	if n.defaultLink == nil {
		n.defaultLink = l
	}
}

// SetDefaultLink sets the link used when no more specific route applies
// (§6's default_route parameter, and §4.3.4's "via the default route").
func (n *Node) SetDefaultLink(l *simlink.Link) {
	n.defaultLink = l
}

// IP returns the node's current address (may be a network address if DHCP
// hasn't completed yet).
func (n *Node) IP() net.IP { return n.ipNet.IP }

// MAC returns the node's link-layer address.
func (n *Node) MAC() net.HardwareAddr { return n.mac }

// AvailableCIDRs implements simlink.AddressOwner: a Node offers its one
// configured (or pre-DHCP network-form) CIDR until a Link has consumed it.
func (n *Node) AvailableCIDRs() []*net.IPNet {
	if n.ipConsumed {
		return nil
	}
	return []*net.IPNet{n.ipNet}
}

// UseCIDR implements simlink.AddressOwner.
func (n *Node) UseCIDR(cidr *net.IPNet) net.IP {
	n.ipConsumed = true
	return n.ipNet.IP
}

func (n *Node) logEvent(now simclock.Time, pkt *simpacket.Packet, event string) {
	if n.log != nil {
		n.log.Event(now, pkt, event, n.id)
	}
}

// Receive implements simlink.Endpoint, dispatching per §4.3: lost packets
// are logged and dropped; packets not addressed to this node (unicast, not
// broadcast) are logged as dropped; everything else is dispatched by Kind.
func (n *Node) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	if pkt.IsLost() {
		n.logEvent(now, pkt, "lost")
		return
	}
	if !pkt.L2.IsBroadcast() && pkt.L2.DstMAC.String() != n.mac.String() {
		n.logEvent(now, pkt, "dropped")
		return
	}

	switch pkt.Kind {
	case simpacket.KindARP:
		n.handleARP(now, pkt)
	case simpacket.KindDHCP:
		n.handleDHCP(now, pkt)
	case simpacket.KindDNS:
		n.handleDNS(now, pkt)
	case simpacket.KindData:
		n.handleData(now, pkt)
	default:
		n.logEvent(now, pkt, "dropped")
	}
}

// transmit hands pkt to the node's attached link for emission.
func (n *Node) transmit(now simclock.Time, pkt *simpacket.Packet) error {
	if n.link == nil {
		return ErrNoLink
	}
	if n.log != nil {
		n.log.FirstSeen(now, pkt)
	}
	return n.link.Enqueue(now, pkt, n)
}

// nextHop returns the IP that should be ARP-resolved to reach dst: dst
// itself when it's on our subnet, otherwise the configured gateway (§4.3.4
// "via the default route"). If no gateway is configured, it falls back to
// dst, matching a directly-attached topology with no router hop.
func (n *Node) nextHop(dst net.IP) net.IP {
	if n.ipNet.Contains(dst) {
		return dst
	}
	if n.gatewayIP != nil {
		return n.gatewayIP
	}
	return dst
}

// sendIP resolves the correct next hop for dstIP and hands build(dstMAC)'s
// result to the link once the MAC is known, deferring through the ARP
// pending queue on a cache miss. build receives the resolved MAC so it can
// stamp the packet's L2 destination.
func (n *Node) sendIP(now simclock.Time, dstIP net.IP, build func(dstMAC net.HardwareAddr) *simpacket.Packet) {
	hop := n.nextHop(dstIP)
	n.resolveAndSend(now, hop, func(now simclock.Time, dstMAC net.HardwareAddr) {
		pkt := build(dstMAC)
		if err := n.transmit(now, pkt); err != nil {
			return
		}
	})
}

func newPacketID(rng *rand.Rand) uuid.UUID {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		// rand.Rand satisfies io.Reader and never errors; this path is
		// unreachable in practice.
		return uuid.New()
	}
	return id
}
