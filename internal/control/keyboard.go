// SPDX-License-Identifier: MIT

package control

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// RunKeyboardHook drives the same switch requests as the HTTP surface from
// a digit keypress: 0-9 requests a switch to that source, "m" prints a
// status report. When input is os.Stdin it prompts through huh; any other
// reader is consumed line by line with a plain bufio.Scanner — the same
// dual-mode split the teacher's interactive menu uses for testability.
func (h *Handle) RunKeyboardHook(input io.Reader, output io.Writer) error {
	if input == os.Stdin {
		return h.runKeyboardHookInteractive(output)
	}
	return h.runKeyboardHookScanner(input, output)
}

func (h *Handle) runKeyboardHookInteractive(output io.Writer) error {
	for {
		var choice string
		field := huh.NewInput().
			Title("source digit (0-9), or m for status, q to quit").
			Value(&choice)
		if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
			if err == huh.ErrUserAborted {
				return nil
			}
			return err
		}
		if done, err := h.dispatchKey(strings.TrimSpace(choice), output); done || err != nil {
			return err
		}
	}
}

func (h *Handle) runKeyboardHookScanner(input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if done, err := h.dispatchKey(line, output); done || err != nil {
			return err
		}
	}
	return nil
}

// dispatchKey handles one keypress/line. done is true when the hook should
// stop reading further input (q/quit).
func (h *Handle) dispatchKey(key string, output io.Writer) (done bool, err error) {
	switch key {
	case "q", "quit":
		return true, nil
	case "m", "M":
		h.printStatusReport(output)
		return false, nil
	}
	target, convErr := strconv.Atoi(key)
	if convErr != nil {
		fmt.Fprintf(output, "unrecognized input %q\n", key)
		return false, nil
	}
	if reqErr := h.sm.RequestSwitch(target, h.policy, true, h.now()); reqErr != nil {
		fmt.Fprintf(output, "switch request rejected: %v\n", reqErr)
		return false, nil
	}
	h.logger.Info("control: switch requested", "target", target, "via", "keyboard")
	fmt.Fprintf(output, "switch to source %d requested\n", target)
	return false, nil
}

// printStatusReport writes a human-readable per-source health/buffer report,
// the keyboard hook's status() counterpart to the HTTP /status endpoint.
func (h *Handle) printStatusReport(output io.Writer) {
	st := h.status.Status()
	fmt.Fprintf(output, "active source: %d / %d\n", st.ActiveSource, st.NumSources)
	fmt.Fprintf(output, "switches committed: %d (forced: %d)\n", st.SwitchTotal, st.ForcedSwitchTotal)
	for _, s := range st.Sources {
		fmt.Fprintf(output, "  source %d: healthy=%v packets_read=%d ms_since_last_packet=%d ring_depth=%d\n",
			s.Index, s.Healthy, s.PacketsRead, s.MsSinceLastPacket, s.RingDepth)
	}
}
