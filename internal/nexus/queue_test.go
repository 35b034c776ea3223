package nexus

import "testing"

func ev(id uint64, priority float64) Event {
	return Event{ID: id, Priority: priority, Intensity: priority}
}

func TestQueue_PopsByPriorityThenFIFO(t *testing.T) {
	q := newQueue(16)
	in := []Event{ev(1, 0.2), ev(2, 0.9), ev(3, 0.5), ev(4, 0.5), ev(5, 0.9), ev(6, 0.1)}
	for _, e := range in {
		if _, evicted := q.push(e); evicted {
			t.Fatalf("unexpected eviction pushing %d", e.ID)
		}
	}

	want := []uint64{2, 5, 3, 4, 1, 6}
	for i, id := range want {
		got, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if got.ID != id {
			t.Errorf("pop %d: got event %d, want %d", i, got.ID, id)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_DistinctPrioritiesStrictlyDescending(t *testing.T) {
	q := newQueue(64)
	for i := 0; i < 40; i++ {
		// scatter priorities so insertion order differs from rank order
		p := float64((i*17)%40) / 40
		q.push(ev(uint64(i+1), p))
	}
	prev := 2.0
	for q.len() > 0 {
		e, _ := q.pop()
		if e.Priority >= prev {
			t.Fatalf("priority %v dequeued after %v", e.Priority, prev)
		}
		prev = e.Priority
	}
}

func TestQueue_FullEvictsOldestLowestPriority(t *testing.T) {
	q := newQueue(3)
	q.push(ev(1, 0.5))
	q.push(ev(2, 0.2))
	q.push(ev(3, 0.2))

	evicted, ok := q.push(ev(4, 0.9))
	if !ok {
		t.Fatal("expected eviction from full queue")
	}
	if evicted.ID != 2 {
		t.Errorf("evicted %d, want oldest lowest-priority event 2", evicted.ID)
	}
	if q.len() != 3 {
		t.Errorf("len = %d, want 3", q.len())
	}

	// An incoming event ranked below everything is itself the victim.
	evicted, ok = q.push(ev(5, 0.1))
	if !ok || evicted.ID != 5 {
		t.Errorf("evicted = %d (ok=%v), want incoming event 5", evicted.ID, ok)
	}

	first, _ := q.pop()
	if first.ID != 4 {
		t.Errorf("first pop = %d, want 4", first.ID)
	}
}

func TestQueue_DropOldestKeepsOrdering(t *testing.T) {
	q := newQueue(16)
	for i := 1; i <= 6; i++ {
		q.push(ev(uint64(i), float64(i)/10))
	}

	dropped := q.dropOldest(2)
	if len(dropped) != 2 || dropped[0].ID != 1 || dropped[1].ID != 2 {
		t.Fatalf("dropped = %+v, want events 1 and 2", dropped)
	}

	want := []uint64{6, 5, 4, 3}
	for i, id := range want {
		got, _ := q.pop()
		if got.ID != id {
			t.Errorf("pop %d: got %d, want %d", i, got.ID, id)
		}
	}

	if got := q.dropOldest(0); got != nil {
		t.Errorf("dropOldest(0) = %v, want nil", got)
	}
}

func TestQueue_DrainOldestFirst(t *testing.T) {
	q := newQueue(8)
	q.push(ev(3, 0.9))
	q.push(ev(1, 0.1))
	q.push(ev(2, 0.5))

	out := q.drain()
	if len(out) != 3 {
		t.Fatalf("drained %d, want 3", len(out))
	}
	for i, e := range out {
		if e.ID != uint64(i+1) {
			t.Errorf("drain[%d] = %d, want %d", i, e.ID, i+1)
		}
	}
	if q.len() != 0 {
		t.Errorf("len after drain = %d", q.len())
	}
}
