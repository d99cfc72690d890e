// Package topology is the external construction surface (§6): thin
// wrappers that pair the scheduler, node/link/switch/router constructors
// and a shared Log together, plus a concurrent scenario runner grounded
// on github.com/m-lab/etl/active's errgroup-per-job pattern (generalized
// here from GCS parsing jobs to independent simulation runs).
package topology

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flyby-yunakayama/network-simulator/simclock"
	"github.com/flyby-yunakayama/network-simulator/simlog"
)

// Scenario is a self-contained simulation run: it builds its own topology
// against a fresh Scheduler/Log/rng and runs it to completion, returning
// the resulting Log for a caller to inspect or report on.
type Scenario struct {
	Name string
	// Seed seeds every random draw in this scenario's build (MACs, ISNs,
	// loss trials, jitter) so reruns are reproducible (§9's determinism
	// design note).
	Seed int64
	// Build wires up a scenario's nodes/links/switches/routers against
	// sched and rng, and returns the simclock.Time at which RunUntil
	// should stop (0 means run until the event queue drains).
	Build func(sched *simclock.Scheduler, rng *rand.Rand, log *simlog.Log) (endAt simclock.Time)
}

// Result pairs a scenario's name with the Log its run produced.
type Result struct {
	Name string
	Log  *simlog.Log
}

// RunScenarios executes every scenario concurrently, bounded by
// maxConcurrent simultaneous runs, and returns one Result per scenario in
// input order. Each scenario gets its own Scheduler and Log, so runs never
// share mutable simulation state — only the bounding semaphore and
// errgroup are shared, mirroring active.RunAll's one-goroutine-per-job
// fan-out.
func RunScenarios(ctx context.Context, scenarios []Scenario, maxConcurrent int) ([]Result, error) {
	results := make([]Result, len(scenarios))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	eg, ctx := errgroup.WithContext(ctx)

	for i, sc := range scenarios {
		i, sc := i, sc
		eg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			sched := simclock.NewScheduler()
			rng := rand.New(rand.NewSource(sc.Seed))
			log := simlog.NewLog()

			endAt := sc.Build(sched, rng, log)
			if endAt > 0 {
				sched.RunUntil(endAt)
			} else {
				sched.Run()
			}

			results[i] = Result{Name: sc.Name, Log: log}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
