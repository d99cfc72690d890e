// Package simswitch implements the L2 Switch (§4.4): a MAC-learning
// forwarding table per port plus a BPDU-driven spanning-tree port-state
// machine, grounded in shape (table-driven dispatch keyed by a record type,
// one handler per message class) on github.com/m-lab/etl/parser's per-
// datatype parser layout, generalized here from BigQuery rows to BPDUs.
package simswitch

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// PortState is a port's spanning-tree disposition (§4.4).
type PortState int

const (
	PortBlocking PortState = iota
	PortForwarding
)

func (s PortState) String() string {
	if s == PortForwarding {
		return "forwarding"
	}
	return "blocking"
}

// bpduHelloInterval is the period on which a root bridge (re-)advertises
// its own BPDU, matching the worked STP scenario's steady-state behavior.
const bpduHelloInterval simclock.Time = 2.0

type port struct {
	link  *simlink.Link
	state PortState
	// bestRootID/bestCost/bestBridgeID hold the best BPDU seen on this
	// port, used to pick the root port per the standard STP comparison.
	bestRootID   string
	bestCost     float64
	bestBridgeID string
	haveBPDU     bool
}

// Switch is a simulated L2 bridge (§4.4). It never carries an IP address,
// so it does not implement simlink.AddressOwner.
type Switch struct {
	id       string
	bridgeID string

	sched *simclock.Scheduler
	log   simlog.Logger
	rng   *rand.Rand

	ports []*port
	// forwarding is the MAC learning table: source MAC -> the port it was
	// last seen arriving on.
	forwarding map[string]int

	rootID   string
	rootCost float64
	rootPort int // index into ports, or -1 if this switch is the root
}

// Config configures a new Switch (§6's Switch(id, scheduler, [priority])).
type Config struct {
	ID       string
	Priority int        // lower sorts first in the bridge-ID comparison; default 32768 if 0
	Rand     *rand.Rand // required: seeds per-BPDU packet IDs for deterministic replay
}

// NewSwitch constructs a Switch that believes itself to be the root of its
// own spanning tree until a lower-bridge-ID BPDU arrives (§4.4).
func NewSwitch(sched *simclock.Scheduler, cfg Config) *Switch {
	priority := cfg.Priority
	if priority == 0 {
		priority = 32768
	}
	bridgeID := fmt.Sprintf("%05d.%s", priority, cfg.ID)
	s := &Switch{
		id:         cfg.ID,
		bridgeID:   bridgeID,
		sched:      sched,
		rng:        cfg.Rand,
		forwarding: make(map[string]int),
		rootID:     bridgeID,
		rootPort:   -1,
	}
	s.scheduleHello()
	return s
}

func (s *Switch) EndpointID() string { return s.id }

func (s *Switch) newPacketID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return uuid.New()
	}
	return id
}

// SetLogger attaches the packet-event logger.
func (s *Switch) SetLogger(log simlog.Logger) { s.log = log }

// AttachPort adds a link terminating at this switch, initially forwarding;
// STP will demote it to blocking on the next BPDU-driven recomputation if
// it turns out to be a redundant path.
func (s *Switch) AttachPort(l *simlink.Link) int {
	idx := len(s.ports)
	s.ports = append(s.ports, &port{link: l, state: PortForwarding})
	return idx
}

// PortState reports a port's current STP disposition.
func (s *Switch) PortState(idx int) PortState {
	return s.ports[idx].state
}

func (s *Switch) logEvent(now simclock.Time, pkt *simpacket.Packet, event string) {
	if s.log != nil {
		s.log.Event(now, pkt, event, s.id)
	}
}

func (s *Switch) scheduleHello() {
	s.sendBPDU(s.sched.Now())
	s.sched.Schedule(s.sched.Now()+bpduHelloInterval, func(now simclock.Time, args interface{}) {
		s.sendBPDU(now)
		s.scheduleHello()
	}, nil)
}

func (s *Switch) sendBPDU(now simclock.Time) {
	for i, p := range s.ports {
		if p.link == nil {
			continue
		}
		cost := s.rootCost
		if s.rootPort != i {
			cost += p.link.Cost()
		}
		s.emitBPDU(now, i, cost)
	}
}

func (s *Switch) emitBPDU(now simclock.Time, portIdx int, cost float64) {
	p := s.ports[portIdx]
	if p.link == nil {
		return
	}
	pkt := &simpacket.Packet{
		ID:           s.newPacketID(),
		Kind:         simpacket.KindBPDU,
		CreationTime: now,
		Size:         64,
		Payload: simpacket.BPDUPayload{
			RootID:   s.rootID,
			BridgeID: s.bridgeID,
			PathCost: cost,
		},
	}
	if s.log != nil {
		s.log.FirstSeen(now, pkt)
	}
	_ = p.link.Enqueue(now, pkt, s)
}

// Receive implements simlink.Endpoint: learn the sender's MAC on the
// arriving port, then either process a BPDU or forward by destination MAC
// (flooding on an unknown or broadcast destination) per §4.4.
func (s *Switch) Receive(now simclock.Time, pkt *simpacket.Packet, link *simlink.Link) {
	if pkt.IsLost() {
		s.logEvent(now, pkt, "lost")
		return
	}
	portIdx := s.portIndex(link)
	if portIdx < 0 {
		return
	}

	if srcMAC := pkt.L2.SrcMAC; srcMAC != nil {
		s.forwarding[srcMAC.String()] = portIdx
	}

	if pkt.Kind == simpacket.KindBPDU {
		s.handleBPDU(now, pkt, portIdx)
		return
	}

	if s.ports[portIdx].state == PortBlocking {
		return
	}
	s.forward(now, pkt, portIdx)
}

func (s *Switch) portIndex(link *simlink.Link) int {
	for i, p := range s.ports {
		if p.link == link {
			return i
		}
	}
	return -1
}

// forward sends pkt out its learned egress port, or floods every
// forwarding port but the ingress one if the destination is unknown or
// broadcast.
func (s *Switch) forward(now simclock.Time, pkt *simpacket.Packet, ingress int) {
	dst := pkt.L2.DstMAC.String()
	if !pkt.L2.IsBroadcast() {
		if egress, ok := s.forwarding[dst]; ok {
			if s.ports[egress].state == PortForwarding && egress != ingress {
				_ = s.ports[egress].link.Enqueue(now, pkt, s)
			}
			return
		}
	}
	for i, p := range s.ports {
		if i == ingress || p.state != PortForwarding {
			continue
		}
		_ = p.link.Enqueue(now, pkt, s)
	}
}

// handleBPDU implements the standard STP comparison (§4.4): a BPDU
// advertising a lower root ID, or an equal root ID with lower cost,
// displaces what this switch currently believes. Any change triggers a
// full port-state recomputation.
func (s *Switch) handleBPDU(now simclock.Time, pkt *simpacket.Packet, portIdx int) {
	bpdu, ok := pkt.Payload.(simpacket.BPDUPayload)
	if !ok {
		return
	}
	p := s.ports[portIdx]
	p.bestRootID = bpdu.RootID
	p.bestCost = bpdu.PathCost
	p.bestBridgeID = bpdu.BridgeID
	p.haveBPDU = true

	changed := s.recomputeRoot()
	if changed {
		simlog.STPRecomputations.Inc()
		s.recomputePortStates()
	}
}

// recomputeRoot picks the best root/cost/port across every port's last
// BPDU plus this switch's own claim to be root, reporting whether the
// result differs from before.
func (s *Switch) recomputeRoot() bool {
	bestRootID := s.bridgeID
	bestCost := 0.0
	bestPort := -1

	for i, p := range s.ports {
		if !p.haveBPDU {
			continue
		}
		if p.bestRootID < bestRootID || (p.bestRootID == bestRootID && p.bestCost < bestCost) {
			bestRootID = p.bestRootID
			bestCost = p.bestCost
			bestPort = i
		}
	}

	changed := bestRootID != s.rootID || bestCost != s.rootCost || bestPort != s.rootPort
	s.rootID = bestRootID
	s.rootCost = bestCost
	s.rootPort = bestPort
	return changed
}

// recomputePortStates designates the root port (if any) and, among the
// remaining ports, keeps forwarding the one with the lowest-bridge-ID
// neighbor per link and blocks the rest — a simplified per-segment
// designated-port election sufficient for the point-to-point topologies
// this simulator models (no shared-segment multi-switch contention).
func (s *Switch) recomputePortStates() {
	for i, p := range s.ports {
		switch {
		case i == s.rootPort:
			p.state = PortForwarding
		case !p.haveBPDU:
			p.state = PortForwarding
		case p.bestBridgeID > s.bridgeID:
			p.state = PortForwarding
		default:
			p.state = PortBlocking
		}
	}
}

// forwardingTableSnapshot returns the MAC table sorted by MAC for
// deterministic test assertions.
func (s *Switch) forwardingTableSnapshot() []string {
	macs := make([]string, 0, len(s.forwarding))
	for mac := range s.forwarding {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}
