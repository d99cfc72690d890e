// Package simlog is the packet log & metrics collector (§4.7): the sole
// interface the out-of-scope reporting module consumes. It records, per
// first-seen packet, its headers/size/timestamps and an append-only event
// trace, and exposes Prometheus counters for the same events, following the
// promauto declaration style of github.com/m-lab/etl/metrics.
package simlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsCreated counts packets emitted by a source, by packet kind.
	PacketsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_packets_created_total",
		Help: "Number of packets created by traffic generators and protocol state machines, by kind.",
	}, []string{"kind"})

	// PacketsArrived counts packets successfully delivered to their
	// destination's link-layer, by packet kind.
	PacketsArrived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_packets_arrived_total",
		Help: "Number of packets that completed their link traversal without being marked lost.",
	}, []string{"kind"})

	// PacketsLost counts packets marked lost in flight by a link's loss
	// trial (§4.2).
	PacketsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_packets_lost_total",
		Help: "Number of packets marked lost in flight by link loss trials.",
	})

	// PacketsDropped counts runtime drops recorded via Event(..., "dropped", ...)
	// and friends: unknown destination MAC, TTL expiry, no matching route.
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_packets_dropped_total",
		Help: "Number of packets dropped at runtime, by reason.",
	}, []string{"reason"})

	// FragmentsReassembled counts successful IP-fragment reassemblies.
	FragmentsReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_fragments_reassembled_total",
		Help: "Number of original datagrams successfully reassembled from fragments.",
	})

	// FragmentsReassembleFailed counts reassembly failures (§4.3.4, §7).
	FragmentsReassembleFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_fragments_reassemble_failed_total",
		Help: "Number of reassemblies that failed due to missing or inconsistent fragments.",
	})

	// TCPRetransmits counts fast-retransmit events (§4.3.5).
	TCPRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_tcp_retransmits_total",
		Help: "Number of TCP segments retransmitted after three duplicate ACKs.",
	})

	// STPRecomputations counts BPDU-triggered port-state recalculations (§4.4).
	STPRecomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_stp_recomputations_total",
		Help: "Number of times a switch recomputed its spanning-tree port states.",
	})

	// OSPFSPFRecomputations counts LSA-triggered SPF reruns (§4.5).
	OSPFSPFRecomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsim_ospf_spf_recomputations_total",
		Help: "Number of times a router reran Dijkstra SPF after a topology-DB change.",
	})

	// LinkQueueingDelay observes, per link direction, the gap between a
	// packet's enqueue time and its transmit start (the portion of delay
	// attributable to queueing rather than serialization/propagation).
	LinkQueueingDelay = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "netsim_link_queueing_delay_seconds",
		Help:       "Queueing delay observed by packets entering a link's per-direction FIFO.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)
