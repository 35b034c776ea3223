package vector

import (
	"fmt"
)

// Catalogue is the fixed set of vectors created at startup.
type Catalogue struct {
	vectors []*Vector
	byName  map[string]*Vector
}

// NewCatalogue builds a catalogue from specs. Names must be unique and at
// least one spec is required.
func NewCatalogue(specs []Spec) (*Catalogue, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("vector catalogue: at least one vector is required")
	}
	c := &Catalogue{byName: make(map[string]*Vector, len(specs))}
	for _, spec := range specs {
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("vector catalogue: duplicate vector %q", spec.Name)
		}
		v, err := New(spec)
		if err != nil {
			return nil, fmt.Errorf("vector catalogue: %w", err)
		}
		c.vectors = append(c.vectors, v)
		c.byName[spec.Name] = v
	}
	return c, nil
}

// DefaultSpecs returns the built-in vector catalogue.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:                 "memetic",
			BaseRate:             0.45,
			FluxIndex:            1.4,
			RoguenessProbability: 0.05,
			ActivationThreshold:  0.0,
			SuitabilityBase:      0.5,
			Weight:               0.3,
			CreepIndex:           0.002,
			Chain: []TransferMethod{
				{Kind: MethodPriority, Reliability: 0.7, Yield: 1.0},
				{Kind: MethodStandard, Reliability: 0.85, Yield: 1.0},
				{Kind: MethodFallback, Reliability: 0.95, Yield: 1.0},
			},
		},
		{
			Name:                 "spectral",
			BaseRate:             0.6,
			FluxIndex:            1.2,
			RoguenessProbability: 0.1,
			ActivationThreshold:  0.3,
			SuitabilityBase:      0.4,
			Weight:               0.6,
			CreepIndex:           0.003,
			Chain: []TransferMethod{
				{Kind: MethodPriority, Reliability: 0.8, Yield: 1.1},
				{Kind: MethodStandard, Reliability: 0.8, Capacity: 0.9, Yield: 1.0},
			},
		},
		{
			Name:                 "harmonic",
			BaseRate:             0.35,
			FluxIndex:            1.0,
			RoguenessProbability: 0.02,
			ActivationThreshold:  0.1,
			SuitabilityBase:      0.45,
			Weight:               0.2,
			CreepIndex:           0.001,
			Chain: []TransferMethod{
				{Kind: MethodStandard, Reliability: 0.9, Yield: 0.9},
				{Kind: MethodFallback, Reliability: 0.98, Yield: 1.0},
			},
		},
		{
			Name:                 "temporal",
			BaseRate:             0.7,
			FluxIndex:            1.6,
			RoguenessProbability: 0.2,
			ActivationThreshold:  0.6,
			SuitabilityBase:      0.2,
			Weight:               0.9,
			CreepIndex:           0.004,
			Chain: []TransferMethod{
				{Kind: MethodPriority, Reliability: 0.6, Yield: 1.2},
				{Kind: MethodFallback, Reliability: 0.9, Yield: 0.8},
			},
		},
		{
			Name:                 "residual",
			BaseRate:             0.2,
			FluxIndex:            1.0,
			RoguenessProbability: 0.01,
			ActivationThreshold:  0.0,
			SuitabilityBase:      0.3,
			Weight:               0.1,
			CreepIndex:           0.001,
			Chain: []TransferMethod{
				{Kind: MethodFallback, Reliability: 0.99, Yield: 1.0},
			},
		},
	}
}

// DefaultCatalogue returns a catalogue built from DefaultSpecs.
func DefaultCatalogue() *Catalogue {
	c, err := NewCatalogue(DefaultSpecs())
	if err != nil {
		panic(err)
	}
	return c
}

// All returns every vector in catalogue order.
func (c *Catalogue) All() []*Vector { return c.vectors }

// Get returns the named vector.
func (c *Catalogue) Get(name string) (*Vector, error) {
	v, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Len returns the number of vectors.
func (c *Catalogue) Len() int { return len(c.vectors) }

// RecalibratePending recalibrates every flagged vector and returns how many
// were adjusted.
func (c *Catalogue) RecalibratePending() int {
	n := 0
	for _, v := range c.vectors {
		if v.NeedsRecalibration() {
			v.Recalibrate()
			n++
		}
	}
	return n
}

// RecalibrateAll recalibrates every vector regardless of its flag.
func (c *Catalogue) RecalibrateAll() {
	for _, v := range c.vectors {
		v.Recalibrate()
	}
}

// ActiveCount returns how many vectors are not awaiting recalibration.
func (c *Catalogue) ActiveCount() int {
	n := 0
	for _, v := range c.vectors {
		if !v.NeedsRecalibration() {
			n++
		}
	}
	return n
}

// Reset restores every vector to its nominal state.
func (c *Catalogue) Reset() {
	for _, v := range c.vectors {
		v.Reset()
	}
}
