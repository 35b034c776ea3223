// Package field implements the volumetric diffusion field: a fixed-resolution
// 3-D grid of decaying intensity values shared by every session.
//
// The field is not safe for concurrent use. It is owned by the scheduler tick
// loop, which serializes every mutation.
package field

import (
	"log/slog"
	"math"
)

// MaxBreathingAmplitude bounds the periodic breathing term.
const MaxBreathingAmplitude = 0.15

// MaxResolution bounds the grid edge; the grid holds N³ cells.
const MaxResolution = 256

// Config holds tunable parameters for the field.
type Config struct {
	// Resolution is the edge length N of the N×N×N grid. Default: 16.
	Resolution int

	// DecayConstant is the per-tick multiplicative decay. Default: 0.05.
	DecayConstant float64

	// Amplification scales average density into integrity loss. Default: 12.
	Amplification float64

	// SampleStride is the stride along each grid row used by SampleIntegrity;
	// N³/SampleStride cells are read. Default: 2.
	// A stride of k samples roughly N³/k³ cells.
	SampleStride int

	// DistanceDecay is k in effect(d) = intensity * exp(-k*d). Default: 0.5.
	DistanceDecay float64

	// BreathingAmplitude is the amplitude of the periodic term, at most 0.15. Default: 0.1.
	BreathingAmplitude float64

	// BreathingPeriod is the breathing period in decay ticks. Default: 64.
	BreathingPeriod int
}

// DefaultConfig returns the default field configuration.
func DefaultConfig() Config {
	return Config{
		Resolution:         16,
		DecayConstant:      0.05,
		Amplification:      12,
		SampleStride:       2,
		DistanceDecay:      0.5,
		BreathingAmplitude: 0.1,
		BreathingPeriod:    64,
	}
}

// Position is an integer coordinate inside the grid.
type Position struct {
	X, Y, Z int
}

// Integrity is the result of a strided integrity sample.
type Integrity struct {
	IntegrityIndex float64 // 1.0 = pristine, 0.0 = saturated
	AvgDensity     float64 // mean density over sampled cells
	Samples        int     // number of cells sampled
}

// Field is the shared 3-D scalar grid.
type Field struct {
	cfg       Config
	n         int
	cells     []float64
	tick      int
	integrity float64
	logger    *slog.Logger
}

// New creates a zeroed field. It panics if the resolution is not positive,
// since that is a programming error rather than a runtime condition.
func New(cfg Config, logger *slog.Logger) *Field {
	if cfg.Resolution < 1 {
		panic("field: resolution must be positive")
	}
	if cfg.SampleStride < 1 {
		cfg.SampleStride = 1
	}
	if cfg.BreathingPeriod < 1 {
		cfg.BreathingPeriod = 1
	}
	cfg.BreathingAmplitude = clamp(cfg.BreathingAmplitude, 0, MaxBreathingAmplitude)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := cfg.Resolution
	return &Field{
		cfg:       cfg,
		n:         n,
		cells:     make([]float64, n*n*n),
		integrity: 1.0,
		logger:    logger,
	}
}

// Resolution returns the grid edge length N.
func (f *Field) Resolution() int { return f.n }

// MaxRadius returns the injection radius cap, N/4.
func (f *Field) MaxRadius() int { return f.n / 4 }

// InBounds reports whether p lies inside [0, N-1]³.
func (f *Field) InBounds(p Position) bool {
	return p.X >= 0 && p.X < f.n && p.Y >= 0 && p.Y < f.n && p.Z >= 0 && p.Z < f.n
}

// Clamp returns p with every axis clamped into the grid.
func (f *Field) Clamp(p Position) Position {
	return Position{
		X: clampInt(p.X, 0, f.n-1),
		Y: clampInt(p.Y, 0, f.n-1),
		Z: clampInt(p.Z, 0, f.n-1),
	}
}

// Centroid returns the center cell of the grid.
func (f *Field) Centroid() Position {
	c := f.n / 2
	return Position{X: c, Y: c, Z: c}
}

// RadiusFor derives an injection radius from a normalized intensity,
// capped at N/4.
func (f *Field) RadiusFor(intensity float64) int {
	r := int(math.Round(clamp(intensity, 0, 1) * float64(f.MaxRadius())))
	return clampInt(r, 0, f.MaxRadius())
}

// Inject writes a spherical region of effect centered at center. Each cell
// at distance d ≤ radius receives intensity*exp(-k*d) plus the breathing
// term, clamped to [0, 1]. It returns the change in integrity index, which is
// never positive.
//
// Out-of-bounds centers are logged and ignored with a zero delta. A zero
// intensity is a no-op.
func (f *Field) Inject(center Position, radius int, intensity float64) float64 {
	if !f.InBounds(center) {
		f.logger.Debug("injection center out of bounds", "x", center.X, "y", center.Y, "z", center.Z, "resolution", f.n)
		return 0
	}
	intensity = clamp(intensity, 0, 1)
	if intensity == 0 {
		return 0
	}
	radius = clampInt(radius, 0, f.MaxRadius())

	before := f.SampleIntegrity().IntegrityIndex
	breath := f.breathing(intensity)

	for x := max(center.X-radius, 0); x <= min(center.X+radius, f.n-1); x++ {
		for y := max(center.Y-radius, 0); y <= min(center.Y+radius, f.n-1); y++ {
			for z := max(center.Z-radius, 0); z <= min(center.Z+radius, f.n-1); z++ {
				dx, dy, dz := x-center.X, y-center.Y, z-center.Z
				d := math.Sqrt(float64(dx*dx + dy*dy + dz*dz))
				if d > float64(radius) {
					continue
				}
				i := f.index(x, y, z)
				f.cells[i] = clamp(f.cells[i]+intensity*math.Exp(-f.cfg.DistanceDecay*d)+breath, 0, 1)
			}
		}
	}

	return f.SampleIntegrity().IntegrityIndex - before
}

// breathing returns the bounded periodic term for the current tick. It is
// scaled by intensity and never negative, so injections only ever add density.
func (f *Field) breathing(intensity float64) float64 {
	phase := 2 * math.Pi * float64(f.tick%f.cfg.BreathingPeriod) / float64(f.cfg.BreathingPeriod)
	return f.cfg.BreathingAmplitude * intensity * 0.5 * (1 + math.Sin(phase))
}

// SampleIntegrity computes a deterministic strided sample of the grid and
// updates the cached integrity index. Each row along z is read every
// SampleStride cells starting at phase (x+y) mod SampleStride, so sampled
// cells satisfy (x+y+z) mod SampleStride == 0 and every run of
// SampleStride consecutive cells on any axis holds one sample.
func (f *Field) SampleIntegrity() Integrity {
	stride := f.cfg.SampleStride
	var sum float64
	samples := 0
	for x := 0; x < f.n; x++ {
		for y := 0; y < f.n; y++ {
			row := (x*f.n + y) * f.n
			for z := (x + y) % stride; z < f.n; z += stride {
				sum += f.cells[row+z]
				samples++
			}
		}
	}
	avg := 0.0
	if samples > 0 {
		avg = sum / float64(samples)
	}
	f.integrity = 1 - clamp(avg*f.cfg.Amplification, 0, 1)
	return Integrity{
		IntegrityIndex: f.integrity,
		AvgDensity:     avg,
		Samples:        samples,
	}
}

// IntegrityIndex returns the integrity index from the most recent sample.
func (f *Field) IntegrityIndex() float64 { return f.integrity }

// DecayTick multiplies every cell by (1 - decayConstant)^dt and advances the
// breathing phase.
func (f *Field) DecayTick(dt float64) {
	if dt <= 0 {
		return
	}
	factor := math.Pow(1-clamp(f.cfg.DecayConstant, 0, 1), dt)
	for i, v := range f.cells {
		v *= factor
		if v < 1e-12 {
			v = 0
		}
		f.cells[i] = v
	}
	f.tick++
}

// DensityAt returns the density at p, clamping out-of-range coordinates.
func (f *Field) DensityAt(p Position) float64 {
	p = f.Clamp(p)
	return f.cells[f.index(p.X, p.Y, p.Z)]
}

// Reset zeroes every cell and the breathing phase.
func (f *Field) Reset() {
	clear(f.cells)
	f.tick = 0
	f.integrity = 1.0
}

func (f *Field) index(x, y, z int) int {
	return (x*f.n+y)*f.n + z
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
