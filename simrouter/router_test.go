package simrouter

import (
	"math/rand"
	"testing"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlink"
)

func TestHelloConvergesNeighborAndSPFBuildsRoute(t *testing.T) {
	sched := simclock.NewScheduler()
	rng := rand.New(rand.NewSource(42))

	r1, err := NewRouter(sched, Config{ID: "r1", CIDRs: []string{"10.0.0.1/30"}, Rand: rng})
	if err != nil {
		t.Fatalf("NewRouter r1: %v", err)
	}
	r2, err := NewRouter(sched, Config{ID: "r2", CIDRs: []string{"10.0.0.2/30"}, Rand: rng})
	if err != nil {
		t.Fatalf("NewRouter r2: %v", err)
	}

	link, err := simlink.NewLink(r1, r2, 1e7, 0.001, 0, sched, rng)
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	r1.AttachLink(link)
	r2.AttachLink(link)

	sched.RunUntil(r1.helloInterval * 3)

	if _, ok := r1.neighbors["r2"]; !ok {
		t.Fatalf("r1 never learned r2 as a neighbor")
	}
	if _, ok := r2.neighbors["r1"]; !ok {
		t.Fatalf("r2 never learned r1 as a neighbor")
	}

	learned := false
	for _, rt := range r1.routingTable {
		if rt.nextHop != nil {
			learned = true
		}
	}
	if !learned {
		t.Fatalf("r1 SPF built no route via a neighbor: %v", r1.routingTable)
	}
}
