// SPDX-License-Identifier: MIT

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/streamswitch/mswitch/internal/switchengine"
)

// Handle is the opaque control surface: an HTTP server and a keyboard hook,
// both driving the same StateMachine. Callers get one from New and hold it
// for the engine's lifetime; there is no package-level singleton.
type Handle struct {
	sm     *switchengine.StateMachine
	status StatusProvider
	policy switchengine.Policy
	logger *slog.Logger

	addr     string
	server   *http.Server
	listener net.Listener

	now func() int64
}

// Config holds the control surface's init-time parameters.
type Config struct {
	// Addr is the listen address, e.g. ":8099".
	Addr string
	// Policy selects how operator-issued switches complete; the zero value
	// is Seamless.
	Policy switchengine.Policy
}

// New constructs a Handle. It does not bind a listener; call Bind and then
// Serve to do that.
func New(sm *switchengine.StateMachine, status StatusProvider, cfg Config, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		sm:     sm,
		status: status,
		policy: cfg.Policy,
		logger: logger,
		addr:   cfg.Addr,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Bind binds the listener and builds the request mux synchronously, so a
// bind failure is fatal at init (the failure-semantics table's "control
// server bind failure: fatal at init"). It does not yet accept
// connections; call Serve for that, once Bind has returned successfully.
func (h *Handle) Bind() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%w: control surface bind %s: %v", switchengine.ErrBind, h.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/switch/", h.handleSwitch)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/metrics", h.handleMetrics)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	h.listener = ln
	h.logger.Info("control: bound", "addr", ln.Addr().String())
	return nil
}

// Serve accepts connections on the listener Bind established, until ctx
// is cancelled, at which point it shuts down gracefully with a bounded
// timeout. Bind must complete successfully before Serve is called. Serve
// blocks for as long as the server runs, which is what lets it be
// supervised as an ordinary long-lived loop alongside the Source Readers
// and Health Monitor; internally it runs http.Server.Serve on one
// goroutine and waits for it or for ctx.
func (h *Handle) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(h.listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("control: shutdown did not complete cleanly", "error", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (h *Handle) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSONError(w, http.StatusBadRequest, "invalid source")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/switch/")
	target, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid source")
		return
	}
	if err := h.sm.RequestSwitch(target, h.policy, true, h.now()); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid source")
		return
	}
	h.logger.Info("control: switch requested", "target", target, "via", "http")
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"source": strconv.Itoa(target),
	})
}

func (h *Handle) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	writeJSON(w, http.StatusOK, st)
}

func (h *Handle) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP mswitch_active_source Index of the currently active source.\n")
	fmt.Fprintf(w, "# TYPE mswitch_active_source gauge\n")
	fmt.Fprintf(w, "mswitch_active_source %d\n", st.ActiveSource)

	fmt.Fprintf(w, "# HELP mswitch_source_healthy Whether source N is currently considered healthy.\n")
	fmt.Fprintf(w, "# TYPE mswitch_source_healthy gauge\n")
	for _, s := range st.Sources {
		fmt.Fprintf(w, "mswitch_source_healthy{source=\"%d\"} %d\n", s.Index, boolToGauge(s.Healthy))
	}

	fmt.Fprintf(w, "# HELP mswitch_packets_read_total Packets read from each source since start.\n")
	fmt.Fprintf(w, "# TYPE mswitch_packets_read_total counter\n")
	for _, s := range st.Sources {
		fmt.Fprintf(w, "mswitch_packets_read_total{source=\"%d\"} %d\n", s.Index, s.PacketsRead)
	}

	fmt.Fprintf(w, "# HELP mswitch_switch_total Switches committed since start.\n")
	fmt.Fprintf(w, "# TYPE mswitch_switch_total counter\n")
	fmt.Fprintf(w, "mswitch_switch_total %d\n", st.SwitchTotal)

	fmt.Fprintf(w, "# HELP mswitch_forced_switch_total Switches committed without waiting for a keyframe.\n")
	fmt.Fprintf(w, "# TYPE mswitch_forced_switch_total counter\n")
	fmt.Fprintf(w, "mswitch_forced_switch_total %d\n", st.ForcedSwitchTotal)
}

func boolToGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
