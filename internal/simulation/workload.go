package simulation

import (
	"math/rand"

	"github.com/nvandessel/contagion/internal/constants"
)

// SteadyWorkload has every session emit one event per tick with probability
// p, at a uniformly random raw intensity.
func SteadyWorkload(p float64) Workload {
	return func(tick int, sessions []string, rng *rand.Rand) []Injection {
		var out []Injection
		for _, s := range sessions {
			if rng.Float64() >= p {
				continue
			}
			out = append(out, Injection{
				Session:   s,
				Intensity: rng.Float64() * constants.MaxRawIntensity,
			})
		}
		return out
	}
}

// BurstWorkload floods the scheduler: every session emits perTick events
// each tick at intensity drawn from [floor, MaxRawIntensity].
func BurstWorkload(floor float64, perTick int) Workload {
	floor = min(max(floor, 0), 1) * constants.MaxRawIntensity
	return func(tick int, sessions []string, rng *rand.Rand) []Injection {
		out := make([]Injection, 0, len(sessions)*perTick)
		for _, s := range sessions {
			for i := 0; i < perTick; i++ {
				out = append(out, Injection{
					Session:   s,
					Intensity: floor + rng.Float64()*(constants.MaxRawIntensity-floor),
				})
			}
		}
		return out
	}
}

// NoisyWorkload wraps w, giving every injection the same noise ratio.
func NoisyWorkload(w Workload, noise float64) Workload {
	return func(tick int, sessions []string, rng *rand.Rand) []Injection {
		in := w(tick, sessions, rng)
		for i := range in {
			in[i].Metadata.NoiseRatio = noise
		}
		return in
	}
}

// TargetedWorkload wraps w, pointing every injection at the next session in
// ring order.
func TargetedWorkload(w Workload) Workload {
	return func(tick int, sessions []string, rng *rand.Rand) []Injection {
		in := w(tick, sessions, rng)
		next := make(map[string]string, len(sessions))
		for i, s := range sessions {
			next[s] = sessions[(i+1)%len(sessions)]
		}
		for i := range in {
			if hint, ok := next[in[i].Session]; ok && hint != in[i].Session {
				in[i].Metadata.TargetHint = hint
			}
		}
		return in
	}
}

// Script replays a fixed schedule of injections keyed by tick.
func Script(byTick map[int][]Injection) Workload {
	return func(tick int, _ []string, _ *rand.Rand) []Injection {
		return append([]Injection(nil), byTick[tick]...)
	}
}

