package nexus

import (
	"math"
	"sort"
	"time"
)

// stabilize drains every queue longer than QueueCap, dropping the oldest
// DropFraction of it per pass into the guaranteed path until the queue is
// back at the cap. Nothing is discarded.
func (s *Scheduler) stabilize(now time.Time) []Dispatch {
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Dispatch
	drained := make(map[string]int)
	queues := make([]*queue, 0, len(ids)+len(s.orphans))
	for _, id := range ids {
		queues = append(queues, s.queues[id])
	}
	orphans := s.orphanOrder()
	for _, id := range orphans {
		queues = append(queues, s.orphans[id])
	}
	ids = append(ids, orphans...)
	for i, id := range ids {
		q := queues[i]
		for q.len() > s.cfg.QueueCap {
			n := int(math.Ceil(float64(q.len()) * s.cfg.DropFraction))
			for _, ev := range q.dropOldest(n) {
				out = append(out, s.guaranteed(ev, PathStabilized, now))
				s.counters.Stabilized++
				drained[id]++
			}
		}
	}

	s.counters.Stabilizations++
	requested := s.stabilizeRequested
	s.stabilizeRequested = false
	s.overloadRun = 0

	s.logger.Info("stabilization complete",
		"drained", len(out), "queues", len(drained), "requested", requested, "pending", s.Pending())
	s.decisions.Log(map[string]any{
		"event":     "stabilization",
		"drained":   len(out),
		"per_queue": drained,
		"requested": requested,
		"pending":   s.Pending(),
	})
	return out
}
