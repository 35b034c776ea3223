package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/gateway"
	"github.com/nvandessel/contagion/internal/propagation"
	"github.com/nvandessel/contagion/internal/ratelimit"
)

// DiagnosticsURI is the resource carrying the current diagnostics snapshot.
const DiagnosticsURI = "contagion://diagnostics"

// defaultEffectsLimit caps contagion_effects when no limit is given.
const defaultEffectsLimit = 20

// registerTools registers all contagion MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        constants.ToolInject,
		Description: "Queue a contamination event from a session. Never blocks on the tick loop.",
	}, s.handleInject)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        constants.ToolRegister,
		Description: "Register a session gateway so it can send and receive contamination",
	}, s.handleRegister)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        constants.ToolDeregister,
		Description: "Remove a session gateway, discarding its queued events and pending effects",
	}, s.handleDeregister)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        constants.ToolDiagnostics,
		Description: "Report field integrity, queue depth, saturation, tick drift and dispatch counters",
	}, s.handleDiagnostics)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        constants.ToolEffects,
		Description: "List recently delivered effects, newest first",
	}, s.handleEffects)
}

// registerResources registers the diagnostics resource.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         DiagnosticsURI,
		Name:        "contagion-diagnostics",
		Description: "Current propagation engine health snapshot.",
		MIMEType:    "application/json",
	}, s.handleDiagnosticsResource)
}

func (s *Server) handleDiagnosticsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	data, err := json.MarshalIndent(diagnosticsOutput(s.engine.Diagnostics()), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding diagnostics: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      DiagnosticsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

func (s *Server) handleInject(ctx context.Context, req *sdk.CallToolRequest, args InjectInput) (_ *sdk.CallToolResult, _ InjectOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(constants.ToolInject, start, retErr, sanitizeToolParams(map[string]any{
			"session_id": args.SessionID, "intensity": args.Intensity,
			"noise_ratio": args.NoiseRatio, "target_hint": args.TargetHint,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, constants.ToolInject, args.SessionID); err != nil {
		return nil, InjectOutput{}, err
	}
	if err := gateway.ValidateSessionID(args.SessionID); err != nil {
		return nil, InjectOutput{}, err
	}
	if math.IsNaN(args.Intensity) || math.IsInf(args.Intensity, 0) {
		return nil, InjectOutput{}, fmt.Errorf("intensity must be finite, got %v", args.Intensity)
	}
	if args.NoiseRatio < 0 || args.NoiseRatio > 1 || math.IsNaN(args.NoiseRatio) {
		return nil, InjectOutput{}, fmt.Errorf("noise_ratio must be between 0 and 1, got %v", args.NoiseRatio)
	}

	id := s.engine.Inject(args.SessionID, args.Intensity, propagation.Metadata{
		NoiseRatio: args.NoiseRatio,
		TargetHint: args.TargetHint,
	})
	return nil, InjectOutput{
		EventID: id,
		Message: fmt.Sprintf("event %d queued for %s", id, args.SessionID),
	}, nil
}

func (s *Server) handleRegister(ctx context.Context, req *sdk.CallToolRequest, args SessionInput) (_ *sdk.CallToolResult, _ RegisterOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(constants.ToolRegister, start, retErr, sanitizeToolParams(map[string]any{
			"session_id": args.SessionID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, constants.ToolRegister, ""); err != nil {
		return nil, RegisterOutput{}, err
	}

	g, err := s.engine.RegisterSession(args.SessionID)
	if err != nil {
		return nil, RegisterOutput{}, fmt.Errorf("register session: %w", err)
	}
	return nil, RegisterOutput{
		SessionID:    g.SessionID,
		Position:     [3]int{g.Position.X, g.Position.Y, g.Position.Z},
		Saturation:   g.Saturation,
		RegisteredAt: g.RegisteredAt,
	}, nil
}

func (s *Server) handleDeregister(ctx context.Context, req *sdk.CallToolRequest, args SessionInput) (_ *sdk.CallToolResult, _ DeregisterOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(constants.ToolDeregister, start, retErr, sanitizeToolParams(map[string]any{
			"session_id": args.SessionID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, constants.ToolDeregister, ""); err != nil {
		return nil, DeregisterOutput{}, err
	}

	err := s.engine.DeregisterSession(args.SessionID)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return nil, DeregisterOutput{SessionID: args.SessionID}, nil
	case err != nil:
		return nil, DeregisterOutput{}, fmt.Errorf("deregister session: %w", err)
	}
	if l, ok := s.toolLimiters[constants.ToolInject]; ok {
		l.Forget(args.SessionID)
	}
	return nil, DeregisterOutput{SessionID: args.SessionID, Removed: true}, nil
}

func (s *Server) handleDiagnostics(ctx context.Context, req *sdk.CallToolRequest, args DiagnosticsInput) (_ *sdk.CallToolResult, _ DiagnosticsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(constants.ToolDiagnostics, start, retErr, sanitizeToolParams(map[string]any{}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, constants.ToolDiagnostics, ""); err != nil {
		return nil, DiagnosticsOutput{}, err
	}
	return nil, diagnosticsOutput(s.engine.Diagnostics()), nil
}

func (s *Server) handleEffects(ctx context.Context, req *sdk.CallToolRequest, args EffectsInput) (_ *sdk.CallToolResult, _ EffectsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(constants.ToolEffects, start, retErr, sanitizeToolParams(map[string]any{
			"session_id": args.SessionID, "limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, constants.ToolEffects, ""); err != nil {
		return nil, EffectsOutput{}, err
	}
	if args.Limit < 0 {
		return nil, EffectsOutput{}, fmt.Errorf("limit must be non-negative, got %d", args.Limit)
	}
	limit := args.Limit
	if limit == 0 {
		limit = defaultEffectsLimit
	}

	effects := s.engine.RecentEffects(args.SessionID, limit)
	out := EffectsOutput{Effects: make([]EffectSummary, 0, len(effects))}
	for _, e := range effects {
		out.Effects = append(out.Effects, EffectSummary{
			ID:        e.ID,
			SessionID: e.SessionID,
			Origin:    e.Origin,
			Category:  e.Category.String(),
			Magnitude: e.Magnitude,
			Vector:    e.Vector,
			Rogue:     e.Rogue,
			DueAt:     e.DueAt,
		})
	}
	out.Count = len(out.Effects)
	return nil, out, nil
}

func diagnosticsOutput(d propagation.Diagnostics) DiagnosticsOutput {
	return DiagnosticsOutput{
		IntegrityIndex:    d.IntegrityIndex,
		AvgDensity:        d.AvgDensity,
		ActiveVectorCount: d.ActiveVectorCount,
		ActiveQueueDepth:  d.ActiveQueueDepth,
		AvgSaturation:     d.AvgSaturation,
		TickDriftMs:       d.TickDrift.Milliseconds(),
		Sessions:          d.Sessions,
		Widening:          d.Widening,
		PendingEffects:    d.PendingEffects,
		DeliveredEffects:  d.DeliveredEffects,
		Counters:          d.Counters,
	}
}
