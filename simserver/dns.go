package simserver

import (
	"math/rand"
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// DNSServer answers A-record queries from a static domain table (§4.6).
type DNSServer struct {
	id string

	sched *simclock.Scheduler
	rng   *rand.Rand
	log   simlog.Logger
	mac   net.HardwareAddr
	ip    net.IP
	ipNet *net.IPNet
	bound bool

	records map[string]net.IP
}

// DNSConfig configures a DNS server (§6's DNSServer(id, ip_cidr, scheduler, records)).
type DNSConfig struct {
	ID      string
	CIDR    string
	MAC     net.HardwareAddr
	Records map[string]net.IP
	Rand    *rand.Rand
}

// NewDNSServer constructs a DNS server serving a fixed domain->IP map.
func NewDNSServer(sched *simclock.Scheduler, cfg DNSConfig) (*DNSServer, error) {
	ip, ipNet, err := net.ParseCIDR(cfg.CIDR)
	if err != nil {
		return nil, err
	}
	ipNet.IP = ip
	records := make(map[string]net.IP, len(cfg.Records))
	for k, v := range cfg.Records {
		records[k] = v
	}
	return &DNSServer{
		id:      cfg.ID,
		sched:   sched,
		rng:     cfg.Rand,
		mac:     cfg.MAC,
		ip:      ip,
		ipNet:   ipNet,
		records: records,
	}, nil
}

func (s *DNSServer) EndpointID() string { return s.id }

// SetLogger attaches the packet-event logger.
func (s *DNSServer) SetLogger(log simlog.Logger) { s.log = log }

// AvailableCIDRs implements simlink.AddressOwner.
func (s *DNSServer) AvailableCIDRs() []*net.IPNet {
	if s.bound {
		return nil
	}
	return []*net.IPNet{s.ipNet}
}

// UseCIDR implements simlink.AddressOwner.
func (s *DNSServer) UseCIDR(cidr *net.IPNet) net.IP {
	s.bound = true
	return s.ip
}

// Receive implements simlink.Endpoint, answering A queries against the
// static record table and logging unknown domains as drops (§4.6).
func (s *DNSServer) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	if pkt.IsLost() {
		if s.log != nil {
			s.log.Event(now, pkt, "lost", s.id)
		}
		return
	}
	query, ok := pkt.Payload.(simpacket.DNSPayload)
	if !ok {
		return
	}
	resolved, found := s.records[query.QueryDomain]
	if !found {
		if s.log != nil {
			s.log.Event(now, pkt, "dns_domain_not_found", s.id)
		}
		return
	}

	size, _ := simpacket.UDPFrameSize(s.mac, pkt.L2.SrcMAC, s.ip, pkt.L3.SrcIP, dnsQueryPort, 0, len(query.QueryDomain)+20)
	reply := &simpacket.Packet{
		ID:           newPacketID(s.rng),
		Kind:         simpacket.KindDNS,
		L2:           simpacket.L2Header{SrcMAC: s.mac, DstMAC: pkt.L2.SrcMAC},
		L3:           simpacket.L3Header{SrcIP: s.ip, DstIP: pkt.L3.SrcIP, TTL: 64},
		Size:         size,
		CreationTime: now,
		Payload: simpacket.DNSPayload{
			QueryDomain: query.QueryDomain,
			QueryType:   query.QueryType,
			ResolvedIP:  resolved,
		},
	}
	if s.log != nil {
		s.log.FirstSeen(now, reply)
	}
	_ = link.Enqueue(now, reply, s)
}

// dnsQueryPort mirrors simnode's well-known DNS port constant.
const dnsQueryPort uint16 = 53
