// Package gateway maps session identifiers to fixed anchor points in the
// field and tracks per-gateway saturation.
package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/field"
)

var (
	// ErrInvalidSession is returned for empty, oversized, or malformed session IDs.
	ErrInvalidSession = errors.New("invalid session id")

	// ErrNotFound is returned when a session has no registered gateway.
	ErrNotFound = errors.New("session not found")
)

// Bounds is the subset of the field a registry needs for coordinate validation.
type Bounds interface {
	Resolution() int
	Clamp(p field.Position) field.Position
	Centroid() field.Position
}

// TransferSummary records one transfer that touched a gateway.
type TransferSummary struct {
	At         time.Time
	Vector     string
	Method     string
	Saturation float64
	Guaranteed bool
}

// Gateway is one session's anchor into the field.
type Gateway struct {
	SessionID    string
	Position     field.Position
	Saturation   float64
	RegisteredAt time.Time
	history      []TransferSummary
}

// History returns a copy of the gateway's connection history, oldest first.
func (g Gateway) History() []TransferSummary {
	out := make([]TransferSummary, len(g.history))
	copy(out, g.history)
	return out
}

// snapshot returns a value copy that does not share the history slice.
func (g *Gateway) snapshot() Gateway {
	s := *g
	s.history = g.History()
	return s
}

// Registry owns every gateway. It is not safe for concurrent use; the
// scheduler serializes access.
type Registry struct {
	bounds   Bounds
	gateways map[string]*Gateway
	nowFunc  func() time.Time // injectable clock for testing
}

// NewRegistry creates an empty registry validated against the given bounds.
func NewRegistry(b Bounds) *Registry {
	return &Registry{
		bounds:   b,
		gateways: make(map[string]*Gateway),
		nowFunc:  time.Now,
	}
}

// SetClock replaces the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.nowFunc = now
}

// ValidateSessionID checks that id is usable as a session identifier.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSession)
	}
	if len(id) > constants.MaxSessionIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSession, constants.MaxSessionIDLen)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidSession)
		}
	}
	return nil
}

// Register creates a gateway for sessionID. Re-registering an existing
// session returns the existing gateway unchanged.
func (r *Registry) Register(sessionID string) (Gateway, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return Gateway{}, err
	}
	if g, ok := r.gateways[sessionID]; ok {
		return g.snapshot(), nil
	}
	g := &Gateway{
		SessionID:    sessionID,
		Position:     r.positionFor(sessionID),
		RegisteredAt: r.nowFunc(),
	}
	r.gateways[sessionID] = g
	return g.snapshot(), nil
}

// Resolve returns the gateway for sessionID without side effects.
func (r *Registry) Resolve(sessionID string) (Gateway, bool) {
	g, ok := r.gateways[sessionID]
	if !ok {
		return Gateway{}, false
	}
	return g.snapshot(), true
}

// Deregister removes the gateway for sessionID.
func (r *Registry) Deregister(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if _, ok := r.gateways[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(r.gateways, sessionID)
	return nil
}

// Anchor returns the field coordinate injections for sessionID should use.
// Unknown sessions are redirected to the field centroid and ok is false.
func (r *Registry) Anchor(sessionID string) (pos field.Position, ok bool) {
	g, found := r.gateways[sessionID]
	if !found {
		return r.bounds.Centroid(), false
	}
	return r.bounds.Clamp(g.Position), true
}

// Absorb adds injected intensity to the gateway's saturation. Unknown
// sessions are ignored.
func (r *Registry) Absorb(sessionID string, intensity float64) {
	if g, ok := r.gateways[sessionID]; ok && intensity > 0 {
		g.Saturation += intensity
	}
}

// RecordTransfer appends a transfer summary to the gateway's bounded history.
func (r *Registry) RecordTransfer(sessionID string, s TransferSummary) {
	g, ok := r.gateways[sessionID]
	if !ok {
		return
	}
	if len(g.history) >= constants.GatewayHistoryCapacity {
		g.history = append(g.history[:0], g.history[1:]...)
	}
	g.history = append(g.history, s)
}

// DecaySaturation multiplies every gateway's saturation by factor.
func (r *Registry) DecaySaturation(factor float64) {
	for _, g := range r.gateways {
		g.Saturation *= factor
		if g.Saturation < 1e-12 {
			g.Saturation = 0
		}
	}
}

// AvgSaturation returns the mean saturation across gateways, 0 when empty.
func (r *Registry) AvgSaturation() float64 {
	if len(r.gateways) == 0 {
		return 0
	}
	var sum float64
	for _, g := range r.gateways {
		sum += g.Saturation
	}
	return sum / float64(len(r.gateways))
}

// Sessions returns every registered session ID in sorted order.
func (r *Registry) Sessions() []string {
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered gateways.
func (r *Registry) Len() int { return len(r.gateways) }

// ResetSaturation clears saturation and history on every gateway.
func (r *Registry) ResetSaturation() {
	for _, g := range r.gateways {
		g.Saturation = 0
		g.history = nil
	}
}

// positionFor hashes the session ID into a stable grid coordinate.
func (r *Registry) positionFor(sessionID string) field.Position {
	n := uint64(r.bounds.Resolution())
	h := xxhash.Sum64String(sessionID)
	return r.bounds.Clamp(field.Position{
		X: int(h % n),
		Y: int((h >> 21) % n),
		Z: int((h >> 42) % n),
	})
}
