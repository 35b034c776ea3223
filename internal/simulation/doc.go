// Package simulation provides a deterministic multi-session harness for the
// propagation engine.
//
// A scenario drives the real Engine (field, gateways, vectors, scheduler,
// mutation and diagnostics, no fakes) on a mock clock with seeded
// randomness, feeding it synthetic telemetry each tick and capturing a
// snapshot per tick for property assertions. The same runner backs the
// `contagion simulate` command.
//
// Usage:
//
//	func TestNoLossUnderBurst(t *testing.T) {
//	    res, err := simulation.NewRunner(nil).Run(ctx, simulation.Scenario{
//	        Name:     "burst",
//	        Sessions: simulation.SessionNames(4),
//	        Ticks:    200,
//	        Seed:     7,
//	        Workload: simulation.BurstWorkload(0.8, 1),
//	    })
//	    ...
//	    simulation.AssertNoLoss(t, res)
//	}
package simulation
