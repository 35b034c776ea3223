// Package constants provides named constants used throughout the contagion codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Intensity constants
const (
	// MaxRawIntensity is the ceiling for raw telemetry intensity.
	// Raw values in [0, MaxRawIntensity] are normalized to [0, 1] on ingestion.
	MaxRawIntensity = 10.0

	// PriorityMethodThreshold is the normalized priority at or above which a
	// vector's transfer chain starts with its priority method.
	PriorityMethodThreshold = 0.7
)

// Vector adaptation bounds
const (
	// MinBaseRate is the floor for a vector's base rate after any adaptation.
	MinBaseRate = 0.05

	// MaxBaseRate is the ceiling for a vector's base rate after any adaptation.
	MaxBaseRate = 0.95

	// VectorHistoryCapacity is the number of outcomes kept per vector.
	VectorHistoryCapacity = 200

	// RecentHistoryWindow is the number of most recent outcomes used for creep.
	RecentHistoryWindow = 20
)

// Guaranteed transfer bounds
const (
	// GuaranteedSaturationCap is the upper bound on saturation produced by the
	// guaranteed minimal-effect transfer.
	GuaranteedSaturationCap = 0.05

	// GuaranteedSaturationFactor scales intensity for the guaranteed transfer.
	GuaranteedSaturationFactor = 0.1
)

// Gateway constants
const (
	// MaxSessionIDLen is the maximum accepted session identifier length.
	MaxSessionIDLen = 128

	// GatewayHistoryCapacity is the number of transfer summaries kept per gateway.
	GatewayHistoryCapacity = 32
)

// RecentEffectsCapacity is the number of delivered effects retained for inspection.
const RecentEffectsCapacity = 100

// MCP tool names
const (
	ToolInject      = "contagion_inject"
	ToolRegister    = "contagion_register"
	ToolDeregister  = "contagion_deregister"
	ToolDiagnostics = "contagion_diagnostics"
	ToolEffects     = "contagion_effects"
)
