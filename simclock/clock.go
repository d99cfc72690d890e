// Package simclock implements the simulator's single-threaded, cooperative
// virtual-clock event queue: a time-ordered priority queue dispatched one
// callback at a time, with no OS threads and no real time involved.
package simclock

import (
	"container/heap"
	"fmt"
)

// Callback is invoked when a scheduled Event's time arrives. args is passed
// through unchanged from Schedule.
type Callback func(now Time, args interface{})

// Time is virtual simulation time, measured in seconds since the scheduler
// was created. It is never derived from the wall clock.
type Time float64

// Event is a single entry in the scheduler's heap: ordered by (Time, seq),
// ties broken by seq so that events scheduled at the same instant dispatch
// in the order they were scheduled.
type Event struct {
	Time Time
	seq  uint64
	fn   Callback
	args interface{}
}

// eventHeap implements container/heap.Interface, ordering by (Time, seq).
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*Event))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ErrPastSchedule is returned when Schedule is asked to place an event
// strictly before the scheduler's current time.
var ErrPastSchedule = fmt.Errorf("simclock: cannot schedule an event in the past")

// Scheduler owns the event heap exclusively; it is the only component that
// mutates it. It is not safe for concurrent use by multiple goroutines —
// per the simulation model, callbacks run to completion one at a time.
type Scheduler struct {
	now     Time
	nextSeq uint64
	heap    eventHeap
}

// NewScheduler returns a Scheduler with now=0 and an empty event heap.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// Now returns the scheduler's current virtual time: the Time of the most
// recently dispatched event (or 0, before the first Run/RunUntil call).
func (s *Scheduler) Now() Time {
	return s.now
}

// Schedule inserts a new event at the given time, calling fn(time, args)
// when it is dispatched. It requires time >= s.Now(); scheduling an event
// from within a callback at the current instant is legal and dispatches
// after any already-queued earlier-seq event at that same instant.
func (s *Scheduler) Schedule(at Time, fn Callback, args interface{}) (*Event, error) {
	if at < s.now {
		return nil, fmt.Errorf("%w: now=%v requested=%v", ErrPastSchedule, s.now, at)
	}
	e := &Event{
		Time: at,
		seq:  s.nextSeq,
		fn:   fn,
		args: args,
	}
	s.nextSeq++
	heap.Push(&s.heap, e)
	return e, nil
}

// Pending reports the number of events still in the heap.
func (s *Scheduler) Pending() int {
	return s.heap.Len()
}

// Step pops and dispatches exactly one event, advancing Now() to its time.
// It returns false if the heap was empty.
func (s *Scheduler) Step() bool {
	if s.heap.Len() == 0 {
		return false
	}
	e := heap.Pop(&s.heap).(*Event)
	s.now = e.Time
	e.fn(e.Time, e.args)
	return true
}

// Run dispatches events until the heap is empty. Callbacks that schedule
// further events (periodic tasks, deferred sends) keep Run going; they are
// expected to self-terminate via a state predicate (see simnode/simrouter
// periodic tasks), since the scheduler itself has no cancellation.
func (s *Scheduler) Run() {
	for s.Step() {
	}
}

// RunUntil dispatches events in order until the heap empties or the next
// event's time would exceed end, whichever comes first. The scheduler's
// Now() is left at end if the run is truncated this way, matching the
// "now is non-decreasing" invariant.
func (s *Scheduler) RunUntil(end Time) {
	for s.heap.Len() > 0 {
		next := s.heap[0]
		if next.Time > end {
			s.now = end
			return
		}
		s.Step()
	}
}
