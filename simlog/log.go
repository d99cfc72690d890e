package simlog

import (
	"net"

	"github.com/google/uuid"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simpacket"
)

// Entry is one append-only trace event attached to a packet record (§4.7).
type Entry struct {
	Time   simclock.Time
	Event  string
	NodeID string
}

// Record is the stable, reporter-facing view of one packet's life: its
// headers/size/timestamps and its full event trace (§6's "Log output
// contract").
type Record struct {
	ID              uuid.UUID
	Kind            simpacket.Kind
	SourceMAC       net.HardwareAddr
	DestinationMAC  net.HardwareAddr
	SourceIP        net.IP
	DestinationIP   net.IP
	Size            int
	CreationTime    simclock.Time
	ArrivalTime     simclock.Time
	ArrivalRecorded bool
	Events          []Entry
}

// Logger is implemented by Log and accepted by simnode, simswitch, simlink
// and simrouter so every subsystem can record events without importing
// each other.
type Logger interface {
	FirstSeen(now simclock.Time, pkt *simpacket.Packet)
	Event(now simclock.Time, pkt *simpacket.Packet, event string, nodeID string)
}

// Log is the sole interface the out-of-scope reporting module consumes: a
// map from packet ID to Record, built up as packets are first seen and
// annotated with events. Ownership: the Log holds only ID references to
// packets it has already copied header/size data from — never the mutable
// Packet itself (§3 Ownership).
type Log struct {
	order   []uuid.UUID
	records map[uuid.UUID]*Record
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{records: make(map[uuid.UUID]*Record)}
}

// FirstSeen records pkt's header/size/creation-time snapshot the first
// time it is observed (normally at creation). Subsequent calls for the
// same ID are no-ops.
func (l *Log) FirstSeen(now simclock.Time, pkt *simpacket.Packet) {
	if _, ok := l.records[pkt.ID]; ok {
		return
	}
	r := &Record{
		ID:             pkt.ID,
		Kind:           pkt.Kind,
		SourceMAC:      pkt.L2.SrcMAC,
		DestinationMAC: pkt.L2.DstMAC,
		SourceIP:       pkt.L3.SrcIP,
		DestinationIP:  pkt.L3.DstIP,
		Size:           pkt.Size,
		CreationTime:   now,
	}
	l.records[pkt.ID] = r
	l.order = append(l.order, pkt.ID)
	PacketsCreated.WithLabelValues(pkt.Kind.String()).Inc()
}

// Event appends a trace entry for pkt. Event types "arrived" and "lost"
// also stamp the record's arrival time and bump the matching Prometheus
// counter; the drop events ("dropped", "dropped_ttl_expired", "no_route",
// "dhcp_pool_exhausted"), "reassembled" and "reassemble_failed_incomplete_
// data" bump their own counters; any other event string (e.g.
// "duplicate_lsa") is recorded purely as a trace entry.
func (l *Log) Event(now simclock.Time, pkt *simpacket.Packet, event string, nodeID string) {
	r, ok := l.records[pkt.ID]
	if !ok {
		l.FirstSeen(now, pkt)
		r = l.records[pkt.ID]
	}
	r.Events = append(r.Events, Entry{Time: now, Event: event, NodeID: nodeID})

	switch event {
	case "arrived":
		r.ArrivalTime = now
		r.ArrivalRecorded = true
		PacketsArrived.WithLabelValues(pkt.Kind.String()).Inc()
	case "lost":
		r.ArrivalTime = simpacket.Lost
		r.ArrivalRecorded = true
		PacketsLost.Inc()
	case "dropped", "dropped_ttl_expired", "no_route", "dhcp_pool_exhausted":
		PacketsDropped.WithLabelValues(event).Inc()
	case "reassembled":
		FragmentsReassembled.Inc()
	case "reassemble_failed_incomplete_data":
		FragmentsReassembleFailed.Inc()
	}
}

// Get returns the record for id, if any.
func (l *Log) Get(id uuid.UUID) (*Record, bool) {
	r, ok := l.records[id]
	return r, ok
}

// Records returns every packet record in first-seen order, for consumption
// by the out-of-scope reporting/plotting module.
func (l *Log) Records() []*Record {
	out := make([]*Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}
