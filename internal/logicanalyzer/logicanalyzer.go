// Package logicanalyzer wraps an external logic-analyzer capture tool as a
// child process. A capture spans the Executor's barrier-synchronized run
// window: every analyzer is started before the workers resume their cores
// and stopped once the job's runs have all completed. The child process's
// lifetime is bound to a Handle, mirroring the CLI-tool-wrapping idiom used
// elsewhere in the reference stack's command layer (inject the exec
// entry point so tests can stub it out).
package logicanalyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// commandContext is exec.CommandContext by default; tests substitute a fake.
var commandContext = exec.CommandContext

// Analyzer is one enumerated logic-analyzer device.
type Analyzer struct {
	ID   string
	Name string
}

// Client enumerates and drives the external capture tool binary.
type Client struct {
	toolPath string
}

// New returns a Client that shells out to toolPath (e.g. "sigrok-cli") for
// every operation.
func New(toolPath string) *Client {
	return &Client{toolPath: toolPath}
}

// Enumerate lists analyzers the capture tool reports as attached. A tool
// that exits non-zero or isn't installed yields an empty list and an error;
// callers treat that as "no analyzers available", not a fatal condition.
func (c *Client) Enumerate(ctx context.Context) ([]Analyzer, error) {
	cmd := commandContext(ctx, c.toolPath, "--scan")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("logicanalyzer: scan failed: %w", err)
	}
	return parseScanOutput(out), nil
}

// Handle owns a running capture's child process. Close (called from
// StopCapture and from every cleanup path) kills and reaps it so no zombies
// leak regardless of how the run ends.
type Handle struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout bytes.Buffer
	closed bool
}

// StartCapture launches the capture tool against analyzer at the given
// sample rate. The returned Handle must be passed to StopCapture exactly
// once.
func (c *Client) StartCapture(ctx context.Context, analyzer Analyzer, samplerateMHz int) (*Handle, error) {
	cmd := commandContext(ctx, c.toolPath, "--capture", "--device", analyzer.ID, "--samplerate", fmt.Sprintf("%dMHz", samplerateMHz))
	h := &Handle{cmd: cmd}
	cmd.Stdout = &h.stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("logicanalyzer: start capture on %s: %w", analyzer.ID, err)
	}
	return h, nil
}

// StopCapture signals the capture tool to stop, waits for it to exit, and
// returns the captured blob gzip-compressed. compress/gzip is the standard
// library's general-purpose stream compressor; no pack dependency offers an
// equivalent writer, and the spec only requires a declared, distinctive
// format, not a specific one.
func (c *Client) StopCapture(h *Handle) ([]byte, error) {
	defer h.Close()

	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()

	h.mu.Lock()
	raw := h.stdout.Bytes()
	h.mu.Unlock()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("logicanalyzer: compress capture: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("logicanalyzer: compress capture: %w", err)
	}
	return buf.Bytes(), nil
}

// Close kills and reaps the child process if it's still running. Safe to
// call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return nil
}

func parseScanOutput(out []byte) []Analyzer {
	var analyzers []Analyzer
	for _, line := range bytes.Split(bytes.TrimSpace(out), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte("\t"), 2)
		if len(parts) != 2 {
			continue
		}
		analyzers = append(analyzers, Analyzer{ID: string(parts[0]), Name: string(parts[1])})
	}
	return analyzers
}
