package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/gateway"
	"github.com/nvandessel/contagion/internal/ratelimit"
)

func TestHandleRegister(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	ctx := context.Background()

	_, out, err := server.handleRegister(ctx, nil, SessionInput{SessionID: "alpha"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if out.SessionID != "alpha" {
		t.Errorf("SessionID = %q, want alpha", out.SessionID)
	}
	res := engine.Diagnostics()
	if res.Sessions != 1 {
		t.Errorf("engine sessions = %d, want 1", res.Sessions)
	}

	_, _, err = server.handleRegister(ctx, nil, SessionInput{SessionID: ""})
	if !errors.Is(err, gateway.ErrInvalidSession) {
		t.Errorf("empty session error = %v, want ErrInvalidSession", err)
	}
}

func TestHandleDeregister(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	ctx := context.Background()

	if _, err := engine.RegisterSession("alpha"); err != nil {
		t.Fatal(err)
	}

	_, out, err := server.handleDeregister(ctx, nil, SessionInput{SessionID: "alpha"})
	if err != nil {
		t.Fatalf("deregister failed: %v", err)
	}
	if !out.Removed {
		t.Error("expected Removed=true")
	}

	// unknown session is not an error
	_, out, err = server.handleDeregister(ctx, nil, SessionInput{SessionID: "alpha"})
	if err != nil {
		t.Fatalf("second deregister: %v", err)
	}
	if out.Removed {
		t.Error("expected Removed=false for unknown session")
	}

	if _, _, err := server.handleDeregister(ctx, nil, SessionInput{SessionID: "bad\nid"}); err == nil {
		t.Error("expected error for invalid session id")
	}
}

func TestHandleInject_Validation(t *testing.T) {
	server, _, _ := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   InjectInput
		wantErr string
	}{
		{"empty session", InjectInput{Intensity: 1}, "invalid session"},
		{"negative noise", InjectInput{SessionID: "a", Intensity: 1, NoiseRatio: -0.1}, "noise_ratio"},
		{"noise above one", InjectInput{SessionID: "a", Intensity: 1, NoiseRatio: 1.5}, "noise_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := server.handleInject(ctx, nil, tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHandleInject_QueuesAndDelivers(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta"} {
		if _, _, err := server.handleRegister(ctx, nil, SessionInput{SessionID: id}); err != nil {
			t.Fatal(err)
		}
	}

	_, out, err := server.handleInject(ctx, nil, InjectInput{SessionID: "alpha", Intensity: 10, TargetHint: "beta"})
	if err != nil {
		t.Fatalf("inject failed: %v", err)
	}
	if out.EventID == 0 {
		t.Error("expected non-zero event id")
	}

	_, diag, err := server.handleDiagnostics(ctx, nil, DiagnosticsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if diag.ActiveQueueDepth != 1 || diag.Counters.Enqueued != 1 {
		t.Errorf("before step: depth %d enqueued %d, want 1 and 1", diag.ActiveQueueDepth, diag.Counters.Enqueued)
	}

	engine.Step(ctx)

	_, effects, err := server.handleEffects(ctx, nil, EffectsInput{SessionID: "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if effects.Count != 1 {
		t.Fatalf("effects for beta = %d, want 1", effects.Count)
	}
	e := effects.Effects[0]
	if e.Origin != "alpha" || e.Vector != "sure" || e.Category != string(constants.EffectRupture) {
		t.Errorf("effect = %+v", e)
	}

	_, none, err := server.handleEffects(ctx, nil, EffectsInput{SessionID: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if none.Count != 0 || none.Effects == nil {
		t.Errorf("alpha effects = %+v, want empty non-nil list", none)
	}
}

func TestHandleEffects_RejectsNegativeLimit(t *testing.T) {
	server, _, _ := setupTestServer(t)
	if _, _, err := server.handleEffects(context.Background(), nil, EffectsInput{Limit: -1}); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestHandleInject_RateLimited(t *testing.T) {
	server, _, _ := setupTestServer(t)
	server.toolLimiters[constants.ToolInject] = ratelimit.NewLimiter(0, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := server.handleInject(ctx, nil, InjectInput{SessionID: "alpha", Intensity: 1}); err != nil {
			t.Fatalf("inject %d: %v", i, err)
		}
	}
	_, _, err := server.handleInject(ctx, nil, InjectInput{SessionID: "alpha", Intensity: 1})
	if !errors.Is(err, ratelimit.ErrLimited) {
		t.Fatalf("third inject error = %v, want ErrLimited", err)
	}

	// other sessions keep their own bucket
	if _, _, err := server.handleInject(ctx, nil, InjectInput{SessionID: "beta", Intensity: 1}); err != nil {
		t.Errorf("beta inject: %v", err)
	}
}

func TestDiagnosticsResource(t *testing.T) {
	server, _, _ := setupTestServer(t)

	res, err := server.handleDiagnosticsResource(context.Background(), nil)
	if err != nil {
		t.Fatalf("resource failed: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(res.Contents))
	}
	c := res.Contents[0]
	if c.URI != DiagnosticsURI || c.MIMEType != "application/json" {
		t.Errorf("content = %+v", c)
	}
	if !strings.Contains(c.Text, `"integrity_index": 1`) {
		t.Errorf("expected full integrity on an empty field, got %s", c.Text)
	}
}
