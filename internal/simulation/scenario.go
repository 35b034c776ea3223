package simulation

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/diagnostics"
	"github.com/nvandessel/contagion/internal/propagation"
	"github.com/nvandessel/contagion/internal/store"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name     string
	Sessions []string
	Ticks    int

	// Seed seeds the engine and the workload. Zero is replaced with 1 so
	// runs stay reproducible.
	Seed int64

	// Options overrides the engine defaults. Clock, Seed and Journal are
	// always set by the runner.
	Options *propagation.Options

	// Workload produces the injections for each tick. Nil uses
	// SteadyWorkload(0.5).
	Workload Workload

	// HealthEvery runs a diagnostics check every N ticks. Zero derives N from
	// the diagnostics and tick intervals; negative disables checks.
	HealthEvery int

	// BeforeTick, when non-nil, is called before each tick's injections.
	// Use it to register or deregister sessions mid-run.
	BeforeTick func(tick int, e *propagation.Engine)

	// Journal receives dispatch and diagnostics records. Nil disables it.
	Journal store.Journal
}

// Injection is one synthetic telemetry event.
type Injection struct {
	Session   string
	Intensity float64
	Metadata  propagation.Metadata
}

// Workload produces the injections for a tick.
type Workload func(tick int, sessions []string, rng *rand.Rand) []Injection

// TickSnapshot captures the engine after one tick.
type TickSnapshot struct {
	Tick        int                     `json:"tick"`
	At          time.Time               `json:"at"`
	Injected    int                     `json:"injected"`
	Dispatches  int                     `json:"dispatches"`
	Scheduled   int                     `json:"scheduled"`
	Delivered   int                     `json:"delivered"`
	Diagnostics propagation.Diagnostics `json:"diagnostics"`
}

// Result captures every tick and the final engine state.
type Result struct {
	Name     string                           `json:"name"`
	Seed     int64                            `json:"seed"`
	Sessions []string                         `json:"sessions"`
	Ticks    []TickSnapshot                   `json:"ticks,omitempty"`
	Reports  []diagnostics.Report             `json:"reports,omitempty"`
	Injected int                              `json:"injected"`
	Effects  map[constants.EffectCategory]int `json:"effects"`
	Received map[string]int                   `json:"received"`
	Final    propagation.Diagnostics          `json:"final"`

	// Engine is the engine after the run, for further inspection.
	Engine *propagation.Engine `json:"-"`
}

// SessionNames returns n session identifiers "session-1" .. "session-n".
func SessionNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("session-%d", i+1)
	}
	return out
}
