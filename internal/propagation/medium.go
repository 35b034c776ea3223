package propagation

import (
	"github.com/nvandessel/contagion/internal/diagnostics"
	"github.com/nvandessel/contagion/internal/nexus"
)

// medium exposes scheduler-owned state to the mutation engine. The global
// density is sampled once per step.
type medium struct {
	sched  *nexus.Scheduler
	global float64
}

func newMedium(s *nexus.Scheduler) medium {
	return medium{sched: s, global: s.Field().SampleIntegrity().AvgDensity}
}

func (m medium) Sessions() []string { return m.sched.Gateways().Sessions() }

func (m medium) LocalDensity(sessionID string) float64 {
	pos, _ := m.sched.Gateways().Anchor(sessionID)
	return m.sched.Field().DensityAt(pos)
}

func (m medium) GlobalDensity() float64 { return m.global }

// controller adapts the scheduler to the diagnostics monitor.
type controller struct {
	sched *nexus.Scheduler
}

func (c controller) Probe() diagnostics.Probe {
	integ := c.sched.Field().SampleIntegrity()
	stats := c.sched.Stats()
	return diagnostics.Probe{
		IntegrityIndex:    integ.IntegrityIndex,
		AvgDensity:        integ.AvgDensity,
		Drift:             stats.Drift,
		ActiveVectorCount: stats.ActiveVector,
		QueueDepth:        stats.Pending,
		AvgSaturation:     c.sched.Gateways().AvgSaturation(),
	}
}

func (c controller) RequestStabilization() { c.sched.RequestStabilization() }

func (c controller) SetThresholdWidening(offset float64) { c.sched.SetThresholdWidening(offset) }

func (c controller) RecalibrateVectors() { c.sched.Catalogue().RecalibrateAll() }
