package vector

import (
	"errors"
	"testing"

	"github.com/nvandessel/contagion/internal/constants"
)

func TestDefaultCatalogue(t *testing.T) {
	c := DefaultCatalogue()
	if c.Len() != len(DefaultSpecs()) {
		t.Fatalf("Len() = %d, want %d", c.Len(), len(DefaultSpecs()))
	}
	zeroThreshold := false
	for _, v := range c.All() {
		if v.BaseRate() < constants.MinBaseRate || v.BaseRate() > constants.MaxBaseRate {
			t.Errorf("vector %s base rate %f out of bounds", v.Name(), v.BaseRate())
		}
		if v.ActivationThreshold() == 0 {
			zeroThreshold = true
		}
	}
	if !zeroThreshold {
		t.Error("default catalogue should accept zero-priority pings")
	}
	if c.ActiveCount() != c.Len() {
		t.Errorf("ActiveCount() = %d, want %d", c.ActiveCount(), c.Len())
	}
}

func TestNewCatalogue_Errors(t *testing.T) {
	if _, err := NewCatalogue(nil); err == nil {
		t.Error("expected error for empty catalogue")
	}
	dup := []Spec{reliableSpec("a", 0, 0, 0), reliableSpec("a", 0, 0, 0)}
	if _, err := NewCatalogue(dup); err == nil {
		t.Error("expected error for duplicate names")
	}
	bad := []Spec{{Name: "bad"}}
	if _, err := NewCatalogue(bad); err == nil {
		t.Error("expected error for empty chain")
	}
}

func TestCatalogue_Get(t *testing.T) {
	c := DefaultCatalogue()
	v, err := c.Get("memetic")
	if err != nil {
		t.Fatalf("Get(memetic): %v", err)
	}
	if v.Name() != "memetic" {
		t.Errorf("Name() = %s, want memetic", v.Name())
	}
	if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}
}

func TestCatalogue_RecalibratePending(t *testing.T) {
	c, err := NewCatalogue([]Spec{failingSpec("x"), reliableSpec("y", 0, 0, 0)})
	if err != nil {
		t.Fatalf("NewCatalogue: %v", err)
	}
	x, _ := c.Get("x")
	x.needsRecalibration = true

	if got := c.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}
	if n := c.RecalibratePending(); n != 1 {
		t.Errorf("RecalibratePending() = %d, want 1", n)
	}
	if got := c.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() after recalibration = %d, want 2", got)
	}
}

func TestCatalogue_Reset(t *testing.T) {
	c := DefaultCatalogue()
	v := c.All()[0]
	v.baseRate = constants.MaxBaseRate
	v.needsRecalibration = true
	c.Reset()
	if v.BaseRate() != v.NominalRate() {
		t.Errorf("BaseRate after reset = %f, want nominal %f", v.BaseRate(), v.NominalRate())
	}
	if v.NeedsRecalibration() {
		t.Error("recalibration flag survived reset")
	}
}
