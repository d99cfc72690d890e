package simclock

import (
	"testing"
)

func TestMonotoneClock(t *testing.T) {
	s := NewScheduler()
	var seen []Time
	for i := 0; i < 5; i++ {
		s.Schedule(Time(i), func(now Time, args interface{}) {
			seen = append(seen, now)
		}, nil)
	}
	s.Run()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("clock went backwards: %v then %v", seen[i-1], seen[i])
		}
	}
	if len(seen) != 5 {
		t.Fatalf("got %d events, want 5", len(seen))
	}
}

func TestFIFOTieBreak(t *testing.T) {
	s := NewScheduler()
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		s.Schedule(Time(1), func(now Time, args interface{}) {
			order = append(order, i)
		}, nil)
	}
	s.Run()
	for i, v := range order {
		if v != i {
			t.Fatalf("dispatch order = %v, want 0,1,2,3", order)
		}
	}
}

func TestScheduleFromWithinCallback(t *testing.T) {
	s := NewScheduler()
	var order []string
	s.Schedule(Time(0), func(now Time, args interface{}) {
		order = append(order, "first")
		s.Schedule(now, func(now Time, args interface{}) {
			order = append(order, "nested-same-instant")
		}, nil)
	}, nil)
	s.Schedule(Time(0), func(now Time, args interface{}) {
		order = append(order, "second-queued-earlier")
	}, nil)
	s.Run()
	want := []string{"first", "second-queued-earlier", "nested-same-instant"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestScheduleInPastRejected(t *testing.T) {
	s := NewScheduler()
	s.Schedule(Time(5), func(Time, interface{}) {}, nil)
	s.Step()
	if _, err := s.Schedule(Time(1), func(Time, interface{}) {}, nil); err == nil {
		t.Fatal("expected error scheduling event in the past")
	}
}

func TestRunUntilTruncates(t *testing.T) {
	s := NewScheduler()
	var fired int
	s.Schedule(Time(1), func(Time, interface{}) { fired++ }, nil)
	s.Schedule(Time(10), func(Time, interface{}) { fired++ }, nil)
	s.RunUntil(Time(5))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}
}
