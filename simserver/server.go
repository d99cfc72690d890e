// Package simserver implements the DHCP and DNS servers (§4.6): a pool-
// backed IP lease allocator and a static domain-to-address lookup table,
// grounded on github.com/m-lab/etl/annotator's "load once into a map,
// serve from it" shape (annotator.go's SiteAnnotator), generalized here
// from static site metadata to network-sim address records.
package simserver

import (
	"math/rand"
	"net"

	"github.com/google/uuid"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

func newPacketID(rng *rand.Rand) uuid.UUID {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return uuid.New()
	}
	return id
}

// --- DHCP server ---

// DHCPServer leases addresses out of a CIDR pool (§4.6). Offered-but-
// unconfirmed leases time out and return to the pool if no REQUEST
// follows, matching real DHCP's OFFER expiry and supplementing the
// distilled spec's pool-exhaustion behavior with a way for exhaustion to
// be temporary rather than permanent.
type DHCPServer struct {
	id string

	sched *simclock.Scheduler
	rng   *rand.Rand
	log   simlog.Logger
	mac   net.HardwareAddr
	ip    net.IP
	ipNet *net.IPNet
	bound bool

	pool      []net.IP
	free      map[string]bool
	leased    map[string]string // IP -> client MAC
	offered   map[string]string // IP -> client MAC, pending REQUEST
	dnsServer net.IP
}

// offerTimeout is how long an OFFER is held before the address is
// returned to the pool absent a REQUEST.
const offerTimeout simclock.Time = 5.0

// Config configures a DHCP server over the usable host addresses of CIDR
// (§6's DHCPServer(id, ip_cidr_pool, scheduler, [dns_server])).
type Config struct {
	ID        string
	PoolCIDR  string
	MAC       net.HardwareAddr
	DNSServer net.IP
	Rand      *rand.Rand
}

// NewDHCPServer constructs a server whose pool is every usable host
// address in cfg.PoolCIDR (network and broadcast addresses excluded)
// except the first, which becomes the server's own address.
func NewDHCPServer(sched *simclock.Scheduler, cfg Config) (*DHCPServer, error) {
	ip, ipNet, err := net.ParseCIDR(cfg.PoolCIDR)
	if err != nil {
		return nil, err
	}
	ipNet.IP = ip
	s := &DHCPServer{
		id:        cfg.ID,
		sched:     sched,
		rng:       cfg.Rand,
		mac:       cfg.MAC,
		ipNet:     ipNet,
		free:      make(map[string]bool),
		leased:    make(map[string]string),
		offered:   make(map[string]string),
		dnsServer: cfg.DNSServer,
	}
	first := true
	for a := cloneIP(ipNet.IP.Mask(ipNet.Mask)); ipNet.Contains(a); incIP(a) {
		if a.Equal(ipNet.IP.Mask(ipNet.Mask)) || isBroadcastOf(a, ipNet) {
			continue
		}
		candidate := cloneIP(a)
		if first {
			// Reserve the first usable address in the pool for the
			// server's own interface rather than leasing it out.
			s.ip = candidate
			first = false
			continue
		}
		s.pool = append(s.pool, candidate)
		s.free[candidate.String()] = true
	}
	return s, nil
}

// AvailableCIDRs implements simlink.AddressOwner.
func (s *DHCPServer) AvailableCIDRs() []*net.IPNet {
	if s.bound {
		return nil
	}
	return []*net.IPNet{s.ipNet}
}

// UseCIDR implements simlink.AddressOwner.
func (s *DHCPServer) UseCIDR(cidr *net.IPNet) net.IP {
	s.bound = true
	return s.ip
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func isBroadcastOf(ip net.IP, n *net.IPNet) bool {
	bcast := cloneIP(n.IP.Mask(n.Mask))
	for i := range bcast {
		bcast[i] |= ^n.Mask[i]
	}
	return ip.Equal(bcast)
}

func (s *DHCPServer) EndpointID() string { return s.id }

// SetLogger attaches the packet-event logger.
func (s *DHCPServer) SetLogger(log simlog.Logger) { s.log = log }

func (s *DHCPServer) logEvent(now simclock.Time, pkt *simpacket.Packet, event string) {
	if s.log != nil {
		s.log.Event(now, pkt, event, s.id)
	}
}

// Receive implements simlink.Endpoint, handling DISCOVER and REQUEST per
// §4.6/§4.3.2.
func (s *DHCPServer) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	if pkt.IsLost() {
		s.logEvent(now, pkt, "lost")
		return
	}
	dhcp, ok := pkt.Payload.(simpacket.DHCPPayload)
	if !ok {
		return
	}
	clientMAC := pkt.L2.SrcMAC

	switch dhcp.MessageType {
	case simpacket.DHCPDiscover:
		s.handleDiscover(now, pkt, link, clientMAC)
	case simpacket.DHCPRequest:
		s.handleRequest(now, pkt, link, clientMAC, dhcp.RequestedIP)
	}
}

func (s *DHCPServer) handleDiscover(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link, clientMAC net.HardwareAddr) {
	var offer net.IP
	for _, ip := range s.pool {
		if s.free[ip.String()] {
			offer = ip
			break
		}
	}
	if offer == nil {
		s.logEvent(now, pkt, "dhcp_pool_exhausted")
		return
	}
	delete(s.free, offer.String())
	s.offered[offer.String()] = clientMAC.String()

	s.sched.Schedule(now+offerTimeout, func(now simclock.Time, args interface{}) {
		if s.offered[offer.String()] == clientMAC.String() {
			delete(s.offered, offer.String())
			s.free[offer.String()] = true
		}
	}, nil)

	reply := s.newPacket(now, clientMAC, simpacket.DHCPPayload{
		MessageType: simpacket.DHCPOffer,
		OfferedIP:   offer,
		DNSServerIP: s.dnsServer,
	})
	_ = link.Enqueue(now, reply, s)
}

func (s *DHCPServer) handleRequest(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link, clientMAC net.HardwareAddr, requested net.IP) {
	if requested == nil || s.offered[requested.String()] != clientMAC.String() {
		return
	}
	delete(s.offered, requested.String())
	s.leased[requested.String()] = clientMAC.String()

	reply := s.newPacket(now, clientMAC, simpacket.DHCPPayload{
		MessageType: simpacket.DHCPAck,
		AssignedIP:  requested,
		DNSServerIP: s.dnsServer,
	})
	_ = link.Enqueue(now, reply, s)
}

func (s *DHCPServer) newPacket(now simclock.Time, dstMAC net.HardwareAddr, payload simpacket.DHCPPayload) *simpacket.Packet {
	size, _ := simpacket.ControlFrameSize(s.mac, dstMAC, s.ip, net.IPv4bcast, 240)
	pkt := &simpacket.Packet{
		ID:           newPacketID(s.rng),
		Kind:         simpacket.KindDHCP,
		L2:           simpacket.L2Header{SrcMAC: s.mac, DstMAC: dstMAC},
		L3:           simpacket.L3Header{SrcIP: s.ip, DstIP: net.IPv4bcast, TTL: 1},
		Size:         size,
		CreationTime: now,
		Payload:      payload,
	}
	if s.log != nil {
		s.log.FirstSeen(now, pkt)
	}
	return pkt
}
