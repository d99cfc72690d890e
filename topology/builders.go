package topology

import (
	"math/rand"
	"net"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
	"github.com/flyby-yunakayama/network-simulator/simlog"
	"github.com/flyby-yunakayama/network-simulator/simnode"
	"github.com/flyby-yunakayama/network-simulator/simrouter"
	"github.com/flyby-yunakayama/network-simulator/simserver"
	"github.com/flyby-yunakayama/network-simulator/simswitch"
)

// Builder collects the scheduler, rng and log a scenario's Build callback
// is handed, and offers one constructor per §6 entity that auto-attaches
// the shared logger so scenario code never has to remember to call
// SetLogger itself.
type Builder struct {
	Sched *simclock.Scheduler
	Rand  *rand.Rand
	Log   *simlog.Log
}

// NewBuilder wraps an already-constructed scheduler/rng/log triple, the
// same ones RunScenarios hands to a Scenario's Build func.
func NewBuilder(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) *Builder {
	return &Builder{Sched: sched, Rand: rng, Log: log}
}

// NewNode constructs and logger-attaches a Node (§6's Node(...)).
func (b *Builder) NewNode(cfg simnode.Config) (*simnode.Node, error) {
	if cfg.Rand == nil {
		cfg.Rand = b.Rand
	}
	n, err := simnode.NewNode(b.Sched, cfg)
	if err != nil {
		return nil, err
	}
	n.SetLogger(b.Log)
	return n, nil
}

// NewSwitch constructs and logger-attaches a Switch (§6's Switch(...)).
func (b *Builder) NewSwitch(cfg simswitch.Config) *simswitch.Switch {
	if cfg.Rand == nil {
		cfg.Rand = b.Rand
	}
	s := simswitch.NewSwitch(b.Sched, cfg)
	s.SetLogger(b.Log)
	return s
}

// NewRouter constructs and logger-attaches a Router (§6's Router(...)).
func (b *Builder) NewRouter(cfg simrouter.Config) (*simrouter.Router, error) {
	if cfg.Rand == nil {
		cfg.Rand = b.Rand
	}
	r, err := simrouter.NewRouter(b.Sched, cfg)
	if err != nil {
		return nil, err
	}
	r.SetLogger(b.Log)
	return r, nil
}

// NewDHCPServer constructs and logger-attaches a DHCPServer (§6's DHCPServer(...)).
func (b *Builder) NewDHCPServer(cfg simserver.Config) (*simserver.DHCPServer, error) {
	if cfg.Rand == nil {
		cfg.Rand = b.Rand
	}
	s, err := simserver.NewDHCPServer(b.Sched, cfg)
	if err != nil {
		return nil, err
	}
	s.SetLogger(b.Log)
	return s, nil
}

// NewDNSServer constructs and logger-attaches a DNSServer (§6's DNSServer(...)).
func (b *Builder) NewDNSServer(cfg simserver.DNSConfig) (*simserver.DNSServer, error) {
	if cfg.Rand == nil {
		cfg.Rand = b.Rand
	}
	s, err := simserver.NewDNSServer(b.Sched, cfg)
	if err != nil {
		return nil, err
	}
	s.SetLogger(b.Log)
	return s, nil
}

// NewLink constructs and logger-attaches a Link (§6's Link(...)).
func (b *Builder) NewLink(x, y simlink.Endpoint, bandwidthBps, delaySec, lossRate float64) (*simlink.Link, error) {
	l, err := simlink.NewLink(x, y, bandwidthBps, delaySec, lossRate, b.Sched, b.Rand)
	if err != nil {
		return nil, err
	}
	l.SetLogger(b.Log)
	return l, nil
}

// StartUDPTraffic implements §6's start_udp_traffic(url, bitrate_bps, start,
// duration, header_size, payload_size, burstiness) entry point: a
// bitrate-paced UDP flow from "from" to dstIP:dstPort, beginning at "at".
func StartUDPTraffic(b *Builder, at simclock.Time, from *simnode.Node, dstIP net.IP, dstPort, srcPort uint16, bitrateBps float64, duration simclock.Time, headerSize, payloadSize int, burstiness float64) {
	b.Sched.Schedule(at, func(now simclock.Time, args interface{}) {
		from.StartUDPTraffic(now, dstIP, dstPort, srcPort, bitrateBps, duration, headerSize, payloadSize, burstiness)
	}, nil)
}

// StartTCPTraffic implements §6's start_tcp_traffic entry point: dials a
// TCP connection at "at" and queues a bitrateBps*duration/8 byte payload,
// drained one payloadSize-byte segment per ACK (see simnode/tcp.go).
func StartTCPTraffic(b *Builder, at simclock.Time, from *simnode.Node, dstIP net.IP, dstPort, srcPort uint16, bitrateBps float64, duration simclock.Time, headerSize, payloadSize int, burstiness float64) {
	b.Sched.Schedule(at, func(now simclock.Time, args interface{}) {
		from.StartTCPTraffic(now, dstIP, dstPort, srcPort, bitrateBps, duration, headerSize, payloadSize, burstiness)
	}, nil)
}
