package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/benbjohnson/clock"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/mutation"
	"github.com/nvandessel/contagion/internal/nexus"
	"github.com/nvandessel/contagion/internal/propagation"
)

// Runner executes scenarios against a real engine on a mock clock.
type Runner struct {
	logger *slog.Logger

	// KeepTicks controls whether every TickSnapshot is kept in the result.
	KeepTicks bool
}

// NewRunner creates a runner. A nil logger keeps the engine quiet.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, KeepTicks: true}
}

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Result, error) {
	if sc.Ticks < 0 {
		return nil, fmt.Errorf("scenario %q: ticks must be non-negative, got %d", sc.Name, sc.Ticks)
	}
	if len(sc.Sessions) == 0 {
		return nil, errors.New("scenario needs at least one session")
	}
	seed := sc.Seed
	if seed == 0 {
		seed = 1
	}

	opts := propagation.DefaultOptions()
	if sc.Options != nil {
		opts = *sc.Options
	}
	mock := clock.NewMock()
	opts.Clock = mock
	opts.Seed = seed
	opts.Journal = sc.Journal
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	engine, err := propagation.New(opts)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	res := &Result{
		Name:     sc.Name,
		Seed:     seed,
		Sessions: append([]string(nil), sc.Sessions...),
		Effects:  make(map[constants.EffectCategory]int),
		Received: make(map[string]int),
		Engine:   engine,
	}
	engine.OnEffect(func(e mutation.Effect) {
		res.Effects[e.Category]++
		res.Received[e.SessionID]++
	})

	for _, s := range sc.Sessions {
		if _, err := engine.RegisterSession(s); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}

	workload := sc.Workload
	if workload == nil {
		workload = SteadyWorkload(0.5)
	}
	healthEvery := sc.HealthEvery
	if healthEvery == 0 {
		healthEvery = 1
		if ti := opts.Scheduler.TickInterval; ti > 0 && opts.Diagnostics.Interval > ti {
			healthEvery = int(opts.Diagnostics.Interval / ti)
		}
	}
	tickInterval := opts.Scheduler.TickInterval
	if tickInterval <= 0 {
		tickInterval = nexus.DefaultConfig().TickInterval
	}

	rng := rand.New(rand.NewSource(seed))
	log := logging.Component(r.logger, "simulation")
	log.Debug("scenario starting", "name", sc.Name, "sessions", len(sc.Sessions), "ticks", sc.Ticks, "seed", seed)

	for tick := 0; tick < sc.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if sc.BeforeTick != nil {
			sc.BeforeTick(tick, engine)
		}

		batch := workload(tick, engine.Sessions(), rng)
		for _, in := range batch {
			engine.Inject(in.Session, in.Intensity, in.Metadata)
		}
		res.Injected += len(batch)

		mock.Add(tickInterval)
		step := engine.Step(ctx)

		if healthEvery > 0 && (tick+1)%healthEvery == 0 {
			res.Reports = append(res.Reports, engine.CheckHealth(ctx))
		}

		if r.KeepTicks {
			res.Ticks = append(res.Ticks, TickSnapshot{
				Tick:        tick,
				At:          step.At,
				Injected:    len(batch),
				Dispatches:  len(step.Dispatches),
				Scheduled:   step.Scheduled,
				Delivered:   len(step.Delivered),
				Diagnostics: engine.Diagnostics(),
			})
		}
	}

	res.Final = engine.Diagnostics()
	log.Debug("scenario finished", "name", sc.Name,
		"injected", res.Injected, "delivered", res.Final.DeliveredEffects,
		"integrity", res.Final.IntegrityIndex)
	return res, nil
}
