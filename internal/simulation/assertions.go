package simulation

import (
	"testing"
)

// AssertNoLoss asserts that every enqueued event was transferred, discarded
// at teardown or is still pending.
func AssertNoLoss(t testing.TB, res *Result) {
	t.Helper()
	c := res.Final.Counters
	pending := uint64(res.Final.ActiveQueueDepth)
	if got := c.Accounted() + pending; got != c.Enqueued {
		t.Errorf("AssertNoLoss: enqueued %d, but normal %d + guaranteed %d + discarded %d + pending %d = %d",
			c.Enqueued, c.Normal, c.Guaranteed, c.Discarded, pending, got)
	}
	if c.Enqueued != uint64(res.Injected) {
		t.Errorf("AssertNoLoss: injected %d, enqueued %d", res.Injected, c.Enqueued)
	}
}

// AssertIntegrityBounded asserts that integrity stayed within [0, 1] on
// every tick.
func AssertIntegrityBounded(t testing.TB, res *Result) {
	t.Helper()
	for _, ts := range res.Ticks {
		if v := ts.Diagnostics.IntegrityIndex; v < 0 || v > 1 {
			t.Errorf("AssertIntegrityBounded: tick %d: integrity %.6f outside [0, 1]", ts.Tick, v)
		}
	}
}

// AssertQueueBounded asserts that the pending count never exceeded limit
// after stabilization had a chance to run.
func AssertQueueBounded(t testing.TB, res *Result, limit int, afterTick int) {
	t.Helper()
	for _, ts := range res.Ticks {
		if ts.Tick < afterTick {
			continue
		}
		if d := ts.Diagnostics.ActiveQueueDepth; d > limit {
			t.Errorf("AssertQueueBounded: tick %d: queue depth %d > %d", ts.Tick, d, limit)
		}
	}
}

// AssertEffectsDelivered asserts that at least min effects were delivered.
func AssertEffectsDelivered(t testing.TB, res *Result, min int) {
	t.Helper()
	total := 0
	for _, n := range res.Effects {
		total += n
	}
	if total < min {
		t.Errorf("AssertEffectsDelivered: %d effects delivered, want at least %d (by category: %v)", total, min, res.Effects)
	}
	if uint64(total) != res.Final.DeliveredEffects {
		t.Errorf("AssertEffectsDelivered: handler saw %d effects, engine reports %d", total, res.Final.DeliveredEffects)
	}
}

// AssertNoSelfContamination asserts that a lone session never receives an
// effect, since an effect needs a receiver other than its origin.
func AssertNoSelfContamination(t testing.TB, res *Result) {
	t.Helper()
	if len(res.Sessions) > 1 {
		return
	}
	for s, n := range res.Received {
		if n > 0 {
			t.Errorf("AssertNoSelfContamination: lone session %s received %d effects", s, n)
		}
	}
}

// AssertSameRun asserts that two results of the same scenario are
// indistinguishable tick by tick.
func AssertSameRun(t testing.TB, a, b *Result) {
	t.Helper()
	if len(a.Ticks) != len(b.Ticks) {
		t.Fatalf("AssertSameRun: %d ticks vs %d", len(a.Ticks), len(b.Ticks))
	}
	for i := range a.Ticks {
		x, y := a.Ticks[i], b.Ticks[i]
		if x.Dispatches != y.Dispatches || x.Scheduled != y.Scheduled || x.Delivered != y.Delivered {
			t.Fatalf("AssertSameRun: tick %d diverged: %+v vs %+v", i, x, y)
		}
		if x.Diagnostics.IntegrityIndex != y.Diagnostics.IntegrityIndex {
			t.Fatalf("AssertSameRun: tick %d integrity %.9f vs %.9f", i,
				x.Diagnostics.IntegrityIndex, y.Diagnostics.IntegrityIndex)
		}
	}
	if a.Final.Counters != b.Final.Counters {
		t.Errorf("AssertSameRun: counters %+v vs %+v", a.Final.Counters, b.Final.Counters)
	}
}
