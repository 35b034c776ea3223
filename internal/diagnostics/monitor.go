// Package diagnostics runs the periodic health check over the field and
// scheduler. The monitor never mutates core state; it asks the scheduler
// to act through Controller.
package diagnostics

import (
	"log/slog"
	"time"

	"github.com/nvandessel/contagion/internal/logging"
)

// Config tunes the health check.
type Config struct {
	Interval       time.Duration
	DriftThreshold time.Duration // stabilize when tick drift exceeds this
	IntegrityLow   float64       // widen thresholds below this integrity
	IntegrityHigh  float64       // narrow them again at or above this integrity
	WidenBy        float64       // activation threshold offset while widened
}

// DefaultConfig returns the diagnostics defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		DriftThreshold: 500 * time.Millisecond,
		IntegrityLow:   0.6,
		IntegrityHigh:  0.8,
		WidenBy:        0.3,
	}
}

// Probe is a read-only sample of core health.
type Probe struct {
	IntegrityIndex    float64
	AvgDensity        float64
	Drift             time.Duration
	ActiveVectorCount int
	QueueDepth        int
	AvgSaturation     float64
}

// Controller is the scheduler surface the monitor reads and requests
// actions through.
type Controller interface {
	Probe() Probe
	RequestStabilization()
	SetThresholdWidening(offset float64)
	// RecalibrateVectors pulls every vector's base rate back toward its
	// nominal value.
	RecalibrateVectors()
}

// Report is the result of one check.
type Report struct {
	At                     time.Time     `json:"at"`
	IntegrityIndex         float64       `json:"integrity_index"`
	AvgDensity             float64       `json:"avg_density"`
	Drift                  time.Duration `json:"drift"`
	ActiveVectorCount      int           `json:"active_vector_count"`
	QueueDepth             int           `json:"queue_depth"`
	AvgSaturation          float64       `json:"avg_saturation"`
	Widened                bool          `json:"widened"`
	WideningChanged        bool          `json:"widening_changed"`
	Recalibrated           bool          `json:"recalibrated"`
	StabilizationRequested bool          `json:"stabilization_requested"`
}

// Monitor applies the drift check and the integrity hysteresis band.
type Monitor struct {
	cfg     Config
	widened bool
	checks  int
	last    Report
	logger  *slog.Logger
}

// New creates a monitor. An inverted hysteresis band is collapsed to the
// low-water mark. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.IntegrityHigh < cfg.IntegrityLow {
		cfg.IntegrityHigh = cfg.IntegrityLow
	}
	return &Monitor{cfg: cfg, logger: logging.Component(logger, "diagnostics")}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Widened reports whether activation thresholds are currently widened.
func (m *Monitor) Widened() bool { return m.widened }

// Checks returns how many checks have run.
func (m *Monitor) Checks() int { return m.checks }

// Last returns the most recent report.
func (m *Monitor) Last() Report { return m.last }

// Check samples c once and requests corrective actions.
func (m *Monitor) Check(c Controller, now time.Time) Report {
	p := c.Probe()
	r := Report{
		At:                now,
		IntegrityIndex:    p.IntegrityIndex,
		AvgDensity:        p.AvgDensity,
		Drift:             p.Drift,
		ActiveVectorCount: p.ActiveVectorCount,
		QueueDepth:        p.QueueDepth,
		AvgSaturation:     p.AvgSaturation,
	}

	if m.cfg.DriftThreshold > 0 && p.Drift > m.cfg.DriftThreshold {
		c.RequestStabilization()
		r.StabilizationRequested = true
		m.logger.Info("tick loop falling behind, requested stabilization",
			"drift", p.Drift, "threshold", m.cfg.DriftThreshold)
	}

	switch {
	case !m.widened && p.IntegrityIndex < m.cfg.IntegrityLow:
		c.SetThresholdWidening(m.cfg.WidenBy)
		c.RecalibrateVectors()
		m.widened = true
		r.WideningChanged = true
		r.Recalibrated = true
		m.logger.Info("integrity low, widened vector thresholds and recalibrated vectors",
			"integrity", p.IntegrityIndex, "offset", m.cfg.WidenBy)
	case m.widened && p.IntegrityIndex >= m.cfg.IntegrityHigh:
		c.SetThresholdWidening(0)
		m.widened = false
		r.WideningChanged = true
		m.logger.Info("integrity recovered, narrowed vector thresholds",
			"integrity", p.IntegrityIndex)
	}
	r.Widened = m.widened

	m.checks++
	m.last = r
	m.logger.Debug("health check",
		"integrity", r.IntegrityIndex, "queue_depth", r.QueueDepth, "drift", r.Drift, "widened", r.Widened)
	return r
}

// Reset returns the monitor to its narrowed state without touching the
// controller.
func (m *Monitor) Reset() {
	m.widened = false
	m.checks = 0
	m.last = Report{}
}
