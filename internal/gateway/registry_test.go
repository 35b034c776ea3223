package gateway

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/field"
)

func newTestRegistry(t *testing.T) (*Registry, *field.Field) {
	t.Helper()
	f := field.New(field.DefaultConfig(), nil)
	r := NewRegistry(f)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return fixed })
	return r, f
}

func mustRegister(t *testing.T, r *Registry, id string) Gateway {
	t.Helper()
	g, err := r.Register(id)
	if err != nil {
		t.Fatalf("Register(%q): %v", id, err)
	}
	return g
}

func TestRegister_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	first := mustRegister(t, r, "session-a")
	r.Absorb("session-a", 0.4)
	second := mustRegister(t, r, "session-a")

	if first.Position != second.Position {
		t.Errorf("position changed on re-register: %+v -> %+v", first.Position, second.Position)
	}
	if second.Saturation != 0.4 {
		t.Errorf("re-register should return existing gateway, saturation = %f", second.Saturation)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegister_PositionInsideBounds(t *testing.T) {
	r, f := newTestRegistry(t)
	for i := 0; i < 500; i++ {
		id := "s-" + strings.Repeat("x", i%7) + string(rune('a'+i%26)) + string(rune('A'+i/26%26))
		g, err := r.Register(id)
		if err != nil {
			t.Fatalf("Register(%q): %v", id, err)
		}
		if !f.InBounds(g.Position) {
			t.Fatalf("gateway %q at %+v outside grid", id, g.Position)
		}
	}
}

func TestRegister_InvalidSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too long", strings.Repeat("a", constants.MaxSessionIDLen+1)},
		{"control character", "abc\x00def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.id)
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Register(%q) error = %v, want ErrInvalidSession", tt.id, err)
			}
		})
	}
}

func TestResolve_NoSideEffects(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, ok := r.Resolve("missing"); ok {
		t.Error("Resolve of unknown session should return ok=false")
	}
	if r.Len() != 0 {
		t.Errorf("Resolve must not register, Len() = %d", r.Len())
	}

	mustRegister(t, r, "a")
	g, ok := r.Resolve("a")
	if !ok || g.SessionID != "a" {
		t.Errorf("Resolve(a) = %+v, %v", g, ok)
	}
}

func TestDeregister(t *testing.T) {
	r, f := newTestRegistry(t)
	mustRegister(t, r, "a")

	if err := r.Deregister("a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := r.Resolve("a"); ok {
		t.Error("gateway still resolvable after deregister")
	}

	err := r.Deregister("a")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("second Deregister error = %v, want ErrNotFound", err)
	}
	if err := r.Deregister(""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Deregister(\"\") error = %v, want ErrInvalidSession", err)
	}

	pos, ok := r.Anchor("a")
	if ok {
		t.Error("Anchor of deregistered session should report ok=false")
	}
	if pos != f.Centroid() {
		t.Errorf("Anchor fallback = %+v, want centroid %+v", pos, f.Centroid())
	}
}

func TestRecordTransfer_Bounded(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "a")

	for i := 0; i < constants.GatewayHistoryCapacity+10; i++ {
		r.RecordTransfer("a", TransferSummary{Vector: "v", Saturation: float64(i)})
	}

	g, _ := r.Resolve("a")
	h := g.History()
	if len(h) != constants.GatewayHistoryCapacity {
		t.Fatalf("history length = %d, want %d", len(h), constants.GatewayHistoryCapacity)
	}
	if h[0].Saturation != 10 {
		t.Errorf("oldest retained = %f, want 10", h[0].Saturation)
	}

	// Snapshots must not alias internal state.
	h[0].Saturation = -1
	g2, _ := r.Resolve("a")
	if g2.History()[0].Saturation == -1 {
		t.Error("History() returned aliased slice")
	}
}

func TestSaturation_DecayAndAverage(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "a")
	mustRegister(t, r, "b")
	r.Absorb("a", 1.0)
	r.Absorb("b", 0.5)
	r.Absorb("unknown", 3.0)

	if got := r.AvgSaturation(); got != 0.75 {
		t.Errorf("AvgSaturation = %f, want 0.75", got)
	}
	r.DecaySaturation(0.5)
	if got := r.AvgSaturation(); got != 0.375 {
		t.Errorf("AvgSaturation after decay = %f, want 0.375", got)
	}
}

func TestSessions_Sorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, id := range []string{"c", "a", "b"} {
		mustRegister(t, r, id)
	}
	got := r.Sessions()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sessions() = %v, want %v", got, want)
		}
	}
}
