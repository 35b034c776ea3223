package mcp

import (
	"time"

	"github.com/nvandessel/contagion/internal/nexus"
)

// InjectInput defines the input for the contagion_inject tool.
type InjectInput struct {
	SessionID  string  `json:"session_id" jsonschema:"originating session identifier"`
	Intensity  float64 `json:"intensity" jsonschema:"raw telemetry intensity, 0 to 10"`
	NoiseRatio float64 `json:"noise_ratio,omitempty" jsonschema:"fraction of the signal that is noise, 0 to 1"`
	TargetHint string  `json:"target_hint,omitempty" jsonschema:"preferred receiving session"`
}

// InjectOutput defines the output for the contagion_inject tool.
type InjectOutput struct {
	EventID uint64 `json:"event_id" jsonschema:"identifier of the queued event"`
	Message string `json:"message" jsonschema:"human-readable result message"`
}

// SessionInput is shared by contagion_register and contagion_deregister.
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
}

// RegisterOutput defines the output for the contagion_register tool.
type RegisterOutput struct {
	SessionID    string    `json:"session_id"`
	Position     [3]int    `json:"position" jsonschema:"gateway anchor cell in the field grid"`
	Saturation   float64   `json:"saturation"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DeregisterOutput defines the output for the contagion_deregister tool.
type DeregisterOutput struct {
	SessionID string `json:"session_id"`
	Removed   bool   `json:"removed"`
}

// DiagnosticsInput defines the (empty) input for the contagion_diagnostics tool.
type DiagnosticsInput struct{}

// DiagnosticsOutput defines the output for the contagion_diagnostics tool.
type DiagnosticsOutput struct {
	IntegrityIndex    float64        `json:"integrity_index" jsonschema:"field integrity, 0 when saturated to 1 when empty"`
	AvgDensity        float64        `json:"avg_density"`
	ActiveVectorCount int            `json:"active_vector_count"`
	ActiveQueueDepth  int            `json:"active_queue_depth"`
	AvgSaturation     float64        `json:"avg_saturation"`
	TickDriftMs       int64          `json:"tick_drift_ms"`
	Sessions          int            `json:"sessions"`
	Widening          float64        `json:"widening"`
	PendingEffects    int            `json:"pending_effects"`
	DeliveredEffects  uint64         `json:"delivered_effects"`
	Counters          nexus.Counters `json:"counters" jsonschema:"scheduler dispatch counters"`
}

// EffectsInput defines the input for the contagion_effects tool.
type EffectsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"only effects received by this session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum effects to return, default 20"`
}

// EffectsOutput defines the output for the contagion_effects tool.
type EffectsOutput struct {
	Effects []EffectSummary `json:"effects"`
	Count   int             `json:"count"`
}

// EffectSummary is one delivered effect.
type EffectSummary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Origin    string    `json:"origin"`
	Category  string    `json:"category"`
	Magnitude float64   `json:"magnitude"`
	Vector    string    `json:"vector"`
	Rogue     bool      `json:"rogue,omitempty"`
	DueAt     time.Time `json:"due_at"`
}
