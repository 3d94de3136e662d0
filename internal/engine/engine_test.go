// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamswitch/mswitch/internal/config"
)

func testConfig(addr string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Control.Addr = addr
	cfg.Sources = []config.SourceConfig{
		{URL: "black://primary-stub"},
		{URL: "black://interim"},
	}
	cfg.Health.IntervalMs = 100
	cfg.Health.StartupGraceMs = 0
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig() // no sources
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected New to reject a config with no sources")
	}
}

func TestNew_DefaultsOpenerFactoryToBlackScheme(t *testing.T) {
	e, err := New(testConfig(":0"), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.dispatcher == nil || e.sm == nil || e.control == nil {
		t.Fatal("engine components not wired")
	}
}

func TestEngine_RunServesStatusAndShutsDownOnCancel(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")
	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	// Give the control surface a moment to bind before status polling.
	time.Sleep(50 * time.Millisecond)

	st := e.Status()
	if st.NumSources != 2 {
		t.Fatalf("NumSources = %d, want 2", st.NumSources)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return within 2s of cancellation")
	}
}

func TestEngine_PullEmitsFromInterimUnderSteadyState(t *testing.T) {
	cfg := testConfig(":0")
	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pkt, err := e.Pull()
		if err == nil && pkt != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Pull never returned a packet from the black source within 2s")
}

func TestDefaultOpenerFactory_NonBlackSchemeFailsAtOpen(t *testing.T) {
	open := DefaultOpenerFactory(0, "rtsp://camera.example/stream")
	if _, err := open(context.Background()); err == nil {
		t.Fatal("expected non-black scheme to fail until the embedding pipeline supplies a demuxer")
	}
}
