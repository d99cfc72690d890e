// Package simlink implements the bidirectional point-to-point link: two
// independent per-direction FIFO serialization queues modeling transmission
// time, propagation delay and random packet loss (§4.2).
package simlink

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// ErrNoCompatibleSubnet is returned by NewLink when neither endpoint offers
// a pair of CIDR addresses that share a network (§4.2).
var ErrNoCompatibleSubnet = fmt.Errorf("simlink: no compatible subnet between link endpoints")

// ErrLinkInactive is returned by Enqueue on a disabled link. Per the §9
// open question on inactive-link enqueue, this implementation refuses the
// enqueue rather than silently transmitting on a link routing is meant to
// avoid.
var ErrLinkInactive = fmt.Errorf("simlink: link is inactive")

// Endpoint is anything a Link can terminate at: a host, switch or router.
// Receive is invoked by the link's dequeue callback with the packet and a
// reference to the link it arrived on.
type Endpoint interface {
	EndpointID() string
	Receive(now simclock.Time, pkt *simpacket.Packet, link *Link)
}

// AddressOwner is implemented by endpoints that carry IP addresses (hosts
// and routers; switches do not and so never implement this). NewLink uses
// it to pick a compatible CIDR pair at construction (§4.2).
type AddressOwner interface {
	Endpoint
	AvailableCIDRs() []*net.IPNet
	UseCIDR(cidr *net.IPNet) net.IP
}

// direction holds one direction's FIFO queue bookkeeping.
type direction struct {
	queue    []*simpacket.Packet
	tailTime simclock.Time
}

// Link is a bidirectional point-to-point link between two Endpoints.
// Bandwidth is in bits/second, delay in seconds, loss in [0,1] (§4.2).
type Link struct {
	x, y           Endpoint
	bandwidth float64
	delay     float64
	lossRate  float64
	isActive  bool
	sched     *simclock.Scheduler
	rng       *rand.Rand
	xToY      direction
	yToX      direction
	onLoss    func(pkt *simpacket.Packet, link *Link)
	log       simlog.Logger
}

// SetLogger attaches a packet-event logger; if set, each enqueued packet's
// first-seen record, its "arrived" event on delivery, and a "dropped"
// event for an enqueue refused on an inactive link are reported through it.
func (l *Link) SetLogger(log simlog.Logger) {
	l.log = log
}

// NewLink constructs a link between x and y. If both endpoints implement
// AddressOwner, it selects the first pair of CIDRs (one from each side)
// that share a network and binds them; construction fails with
// ErrNoCompatibleSubnet if no such pair exists. Endpoints that don't carry
// IP addresses (switches) are connected purely at L2.
func NewLink(x, y Endpoint, bandwidthBps, delaySec, lossRate float64, sched *simclock.Scheduler, rng *rand.Rand) (*Link, error) {
	if bandwidthBps <= 0 {
		return nil, fmt.Errorf("simlink: bandwidth must be positive, got %v", bandwidthBps)
	}
	if lossRate < 0 || lossRate > 1 {
		return nil, fmt.Errorf("simlink: loss_rate must be in [0,1], got %v", lossRate)
	}

	xOwner, xHasIP := x.(AddressOwner)
	yOwner, yHasIP := y.(AddressOwner)
	if xHasIP && yHasIP {
		if err := bindCompatibleIPs(xOwner, yOwner); err != nil {
			return nil, err
		}
	}

	l := &Link{
		x:         x,
		y:         y,
		bandwidth: bandwidthBps,
		delay:     delaySec,
		lossRate:  lossRate,
		isActive:  true,
		sched:     sched,
		rng:       rng,
	}
	return l, nil
}

func bindCompatibleIPs(x, y AddressOwner) error {
	for _, cx := range x.AvailableCIDRs() {
		for _, cy := range y.AvailableCIDRs() {
			if sameNetwork(cx, cy) {
				x.UseCIDR(cx)
				y.UseCIDR(cy)
				return nil
			}
		}
	}
	return ErrNoCompatibleSubnet
}

func sameNetwork(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Mask(a.Mask).Equal(b.IP.Mask(b.Mask))
}

// Other returns the endpoint across the link from from.
func (l *Link) Other(from Endpoint) Endpoint {
	if from == l.x {
		return l.y
	}
	return l.x
}

// SetActive toggles the link up/down (§4.2's is_active, supplemented per
// SPEC_FULL with an explicit Enable/Disable pair so OSPF recomputation has
// a concrete trigger in scenario S4).
func (l *Link) SetActive(active bool) {
	l.isActive = active
}

// IsActive reports whether the link currently carries traffic.
func (l *Link) IsActive() bool {
	return l.isActive
}

// Disable marks the link down; matching the §9-supplemented behavior, data
// already queued keeps draining but no further Enqueue calls succeed.
func (l *Link) Disable() {
	l.SetActive(false)
}

// Enable marks the link back up.
func (l *Link) Enable() {
	l.SetActive(true)
}

// Cost is the OSPF-like interface cost max(epsilon, 1/bandwidth) (§4.4).
func (l *Link) Cost() float64 {
	const epsilon = 1e-9
	c := 1.0 / l.bandwidth
	if c < epsilon {
		return epsilon
	}
	return c
}

func (l *Link) dirFor(from Endpoint) *direction {
	if from == l.x {
		return &l.xToY
	}
	return &l.yToX
}

// OnLoss registers a callback invoked (in addition to the packet being
// marked lost) whenever a packet is lost on this link.
func (l *Link) OnLoss(fn func(pkt *simpacket.Packet, link *Link)) {
	l.onLoss = fn
}

// Enqueue places pkt onto the direction from "from" to its peer. It
// implements the §4.2 enqueue semantics: effective transmit start is
// max(now, tail_time); the dequeue event fires at that start time, and the
// delivery (receive) event fires transmit_time+delay later. Per the §9
// inactive-link decision, it refuses to enqueue on a disabled link.
func (l *Link) Enqueue(now simclock.Time, pkt *simpacket.Packet, from Endpoint) error {
	if !l.isActive {
		if l.log != nil {
			l.log.Event(now, pkt, "dropped", from.EndpointID())
		}
		return ErrLinkInactive
	}
	dir := l.dirFor(from)
	transmitTime := simclock.Time(float64(pkt.Size) * 8 / l.bandwidth)
	start := now
	if dir.tailTime > start {
		start = dir.tailTime
	}
	dir.tailTime += transmitTime
	dir.queue = append(dir.queue, pkt)
	simlog.LinkQueueingDelay.Observe(float64(start - now))
	if l.log != nil {
		l.log.FirstSeen(pkt.CreationTime, pkt)
	}

	l.sched.Schedule(start, func(now simclock.Time, args interface{}) {
		l.dequeue(now, from, transmitTime)
	}, nil)
	l.sched.Schedule(start+transmitTime, func(now simclock.Time, args interface{}) {
		dir.tailTime -= transmitTime
		if dir.tailTime < 0 {
			dir.tailTime = 0
		}
	}, nil)
	return nil
}

// dequeue pops the head of the direction's queue (enqueue order guarantees
// this is the packet whose transmit window is [start, start+transmitTime))
// and schedules delivery after propagation delay.
func (l *Link) dequeue(now simclock.Time, from Endpoint, transmitTime simclock.Time) {
	dir := l.dirFor(from)
	if len(dir.queue) == 0 {
		return
	}
	pkt := dir.queue[0]
	dir.queue = dir.queue[1:]

	if l.rng.Float64() < l.lossRate {
		pkt.MarkLost()
		if l.onLoss != nil {
			l.onLoss(pkt, l)
		}
	}

	to := l.Other(from)
	deliverAt := now + transmitTime + simclock.Time(l.delay)
	l.sched.Schedule(deliverAt, func(now simclock.Time, args interface{}) {
		if !pkt.IsLost() {
			pkt.MarkArrived(now)
			if l.log != nil {
				l.log.Event(now, pkt, "arrived", to.EndpointID())
			}
		}
		to.Receive(now, pkt, l)
	}, nil)
}

// QueueDepth reports the number of packets currently queued from "from"
// toward its peer.
func (l *Link) QueueDepth(from Endpoint) int {
	return len(l.dirFor(from).queue)
}
