// Package proberunner drives one target through the deterministic
// flash-halt-resume-drain state machine: claim a probe, attach to the
// target, flash the image, arm an exit breakpoint, resume, cross the job's
// barrier, drain the debug-transport log, and classify how the core halted.
// Every exit path releases the probe.
package proberunner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bobmcallan/hilci/internal/barrier"
	"github.com/bobmcallan/hilci/internal/common"
	"github.com/bobmcallan/hilci/internal/elfinfo"
	"github.com/bobmcallan/hilci/internal/models"
	"github.com/bobmcallan/hilci/internal/probe"
)

// Target memory-mapped register addresses, matching every Cortex-M part
// this engine targets.
const (
	addrVTOR = 0xE000ED08
	addrHFSR = 0xE000ED2C
	addrCFSR = 0xE000ED28
	addrBFAR = 0xE000ED38

	thumbBreakpointOpcode = 0xBE00

	hardfaultISR  = 3
	hfsrForcedBit = 1 << 30
	bfsrBFARValid = 0x80

	controlBlockFlagOffset = 44
	controlBlockFlagValue  = 2
	controlBlockSentinel   = 0x12341234

	resetHaltTimeout       = 3 * time.Second
	reachEntrypointTimeout = 5 * time.Second
	rttPollInterval        = 10 * time.Millisecond
	rttReadyTimeout        = 3 * time.Second
	drainScratchSize       = 16 * 1024
)

// Runner is a single-target, single-run instance of the state machine. It is
// not reused across runs.
type Runner struct {
	driver     probe.Driver
	probeMutex *sync.Mutex
	elf        *elfinfo.Info
	binary     []byte
	logger     *common.Logger
}

// New returns a Runner that will drive target with the given firmware image
// and ELF facts already extracted by elfinfo.Parse.
func New(driver probe.Driver, probeMutex *sync.Mutex, elf *elfinfo.Info, binary []byte, logger *common.Logger) *Runner {
	return &Runner{driver: driver, probeMutex: probeMutex, elf: elf, binary: binary, logger: logger}
}

// Run drives target through every state and returns its outcome. tok must
// be a fresh Token for this worker's slot in b; Run releases it on every
// exit path, including setup failures, so siblings never deadlock on b.
func (r *Runner) Run(ctx context.Context, target models.Target, tok *barrier.Token, b *barrier.Barrier, timeout time.Duration) models.RunResult {
	defer tok.Release()

	sess, err := r.claimProbe(ctx, target)
	if err != nil {
		return models.FailureResult(err.Error(), nil)
	}
	defer sess.Close()

	if err := r.attach(ctx, sess, target); err != nil {
		return models.FailureResult(err.Error(), nil)
	}

	if err := sess.Halt(ctx, resetHaltTimeout); err != nil {
		return models.FailureResult(fmt.Sprintf("reset and halt: %v", err), nil)
	}

	flashAddr := r.elf.VectorTable.Start
	if err := sess.Flash(ctx, flashAddr, r.binary); err != nil {
		return models.FailureResult(fmt.Sprintf("flash: %v", err), nil)
	}

	if r.elf.FromRAM {
		if err := r.ramPatch(ctx, sess); err != nil {
			return models.FailureResult(fmt.Sprintf("ram patch: %v", err), nil)
		}
	}

	if err := sess.Halt(ctx, resetHaltTimeout); err != nil {
		return models.FailureResult(fmt.Sprintf("reset and halt: %v", err), nil)
	}

	avail, err := sess.AvailableHWBreakpoints(ctx)
	if err != nil {
		return models.FailureResult(fmt.Sprintf("query hw breakpoints: %v", err), nil)
	}
	if avail < 1 {
		return models.FailureResult("no hardware breakpoint units available", nil)
	}

	if err := r.reachEntrypoint(ctx, sess); err != nil {
		return models.FailureResult(fmt.Sprintf("reach entrypoint: %v", err), nil)
	}

	if err := r.armExit(ctx, sess); err != nil {
		return models.FailureResult(fmt.Sprintf("arm exit: %v", err), nil)
	}

	if err := sess.Resume(ctx); err != nil {
		return models.FailureResult(fmt.Sprintf("resume: %v", err), nil)
	}

	tok.Release()
	b.Wait()

	if err := r.attachDebugTransport(ctx, sess); err != nil {
		return models.FailureResult(fmt.Sprintf("attach debug transport: %v", err), nil)
	}

	logBuf, timedOut := r.drainLoop(ctx, sess, timeout)
	if timedOut {
		lines, decodeErr := r.decodeLog(logBuf)
		msg := "timeout waiting for core to halt"
		if decodeErr != nil {
			msg = fmt.Sprintf("%s; %v", msg, decodeErr)
		}
		return models.FailureResult(msg, lines)
	}

	return r.classifyHalt(ctx, sess, logBuf)
}

func (r *Runner) claimProbe(ctx context.Context, target models.Target) (probe.Session, error) {
	r.probeMutex.Lock()
	sess, err := r.driver.Open(ctx, target.ProbeSerial, target.ProbeSpeedKHz)
	r.probeMutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("claim probe %s: %w", target.ProbeSerial, err)
	}
	return sess, nil
}

func (r *Runner) attach(ctx context.Context, sess probe.Session, target models.Target) error {
	if err := sess.Attach(ctx, target.TargetName, false); err != nil {
		r.logger.Warn().Str("target", target.TargetName).Err(err).Msg("attach failed, retrying under reset")
		if err := sess.Attach(ctx, target.TargetName, true); err != nil {
			return fmt.Errorf("attach (including under-reset retry): %w", err)
		}
	}
	return nil
}

// ramPatch defeats uninitialized-ECC behavior on some parts by reading and
// writing back the first word at the vector table start — a bus no-op.
func (r *Runner) ramPatch(ctx context.Context, sess probe.Session) error {
	word, err := sess.ReadMemory32(ctx, r.elf.VectorTable.Start)
	if err != nil {
		return err
	}
	return sess.WriteMemory32(ctx, r.elf.VectorTable.Start, word)
}

func (r *Runner) reachEntrypoint(ctx context.Context, sess probe.Session) error {
	if r.elf.FromRAM {
		if err := sess.WriteRegister(ctx, probe.RegPC, r.elf.VectorTable.Reset); err != nil {
			return err
		}
		if err := sess.WriteRegister(ctx, probe.RegSP, r.elf.VectorTable.StackPointer); err != nil {
			return err
		}
		return sess.WriteMemory32(ctx, addrVTOR, r.elf.VectorTable.Start)
	}

	if err := sess.WriteMemory32(ctx, r.elf.RTTControlBlockAddr, controlBlockSentinel); err != nil {
		return err
	}
	entry := r.elf.EntrypointAddr &^ 1
	if err := sess.SetHWBreakpoint(ctx, entry); err != nil {
		return err
	}
	if err := sess.Resume(ctx); err != nil {
		return err
	}
	if err := waitForHalt(ctx, sess, reachEntrypointTimeout); err != nil {
		return err
	}
	if err := sess.WriteMemory32(ctx, r.elf.RTTControlBlockAddr+controlBlockFlagOffset, controlBlockFlagValue); err != nil {
		return err
	}
	return sess.ClearHWBreakpoint(ctx, entry)
}

func (r *Runner) armExit(ctx context.Context, sess probe.Session) error {
	hardfaultAddr := r.elf.VectorTable.HardfaultAddr &^ 1
	if r.elf.FromRAM {
		return sess.WriteMemory8(ctx, hardfaultAddr, byte(thumbBreakpointOpcode&0xFF))
	}
	return sess.SetHWBreakpoint(ctx, hardfaultAddr)
}

func (r *Runner) attachDebugTransport(ctx context.Context, sess probe.Session) error {
	deadline := time.Now().Add(rttReadyTimeout)
	for {
		ready, err := sess.RTTControlBlockReady(ctx, r.elf.RTTControlBlockAddr)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("debug transport control block never became ready at 0x%08X", r.elf.RTTControlBlockAddr)
		}
		time.Sleep(rttPollInterval)
	}
}

// drainLoop repeatedly reads the up-channel until the core halts or timeout
// elapses, performing one final drain after a halt is observed. The second
// return value reports whether it stopped because of a timeout.
func (r *Runner) drainLoop(ctx context.Context, sess probe.Session, timeout time.Duration) ([]byte, bool) {
	var acc bytes.Buffer
	scratch := make([]byte, drainScratchSize)
	start := time.Now()

	for {
		n, err := sess.ReadUpChannel(ctx, scratch)
		if err == nil && n > 0 {
			acc.Write(scratch[:n])
		}

		halted, err := sess.CoreHalted(ctx)
		if err == nil && halted {
			if n, err := sess.ReadUpChannel(ctx, scratch); err == nil && n > 0 {
				acc.Write(scratch[:n])
			}
			return acc.Bytes(), false
		}

		if time.Since(start) > timeout {
			return acc.Bytes(), true
		}
		if n == 0 {
			time.Sleep(rttPollInterval)
		}
	}
}

func waitForHalt(ctx context.Context, sess probe.Session, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		halted, err := sess.CoreHalted(ctx)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for halt")
		}
		time.Sleep(rttPollInterval)
	}
}

func (r *Runner) classifyHalt(ctx context.Context, sess probe.Session, logBuf []byte) models.RunResult {
	lines, decodeErr := r.decodeLog(logBuf)

	reason, err := sess.HaltReason(ctx)
	if err != nil {
		return models.FailureResult(fmt.Sprintf("read halt reason: %v", err), nil)
	}

	if reason != probe.HaltReasonBreakpoint {
		return models.FailureResult(fmt.Sprintf("core halted unexpectedly: %s", reason), lines)
	}

	psr, err := sess.ReadRegister(ctx, probe.RegPSR)
	if err != nil {
		return models.FailureResult(fmt.Sprintf("read PSR: %v", err), nil)
	}
	if uint8(psr&0xFF) != hardfaultISR {
		// A clean breakpoint halt is only a Success if the captured log
		// also decoded cleanly — a decode failure here is the run's only
		// symptom of corrupted output and must not be swallowed.
		if decodeErr != nil {
			return models.FailureResult(decodeErr.Error(), lines)
		}
		return models.SuccessResult(lines)
	}

	return models.FailureResult(r.describeHardfault(ctx, sess), lines)
}

func (r *Runner) describeHardfault(ctx context.Context, sess probe.Session) string {
	lr, _ := sess.ReadRegister(ctx, probe.RegLR)
	hfsr, _ := sess.ReadMemory32(ctx, addrHFSR)

	var b strings.Builder
	fmt.Fprintf(&b, "hardfault: LR=0x%08X HFSR=0x%08X", lr, hfsr)

	if hfsr&hfsrForcedBit != 0 {
		cfsr, _ := sess.ReadMemory32(ctx, addrCFSR)
		mmfsr := cfsr & 0xFF
		bfsr := (cfsr >> 8) & 0xFF
		ufsr := (cfsr >> 16) & 0xFFFF

		if mmfsr != 0 {
			fmt.Fprintf(&b, " MMFSR=0x%02X", mmfsr)
		}
		if bfsr != 0 {
			fmt.Fprintf(&b, " BFSR=0x%02X", bfsr)
			if bfsr&bfsrBFARValid != 0 {
				bfar, _ := sess.ReadMemory32(ctx, addrBFAR)
				fmt.Fprintf(&b, " BFAR=0x%08X", bfar)
			}
		}
		if ufsr != 0 {
			fmt.Fprintf(&b, " UFSR=0x%04X", ufsr)
		}
	}

	return b.String()
}

// decodeLog turns the accumulated debug-transport bytes into log lines,
// using the structured decoder when the image carries a log table and
// falling back to plain UTF-8 text otherwise. It still returns whatever
// partial content could be recovered, but a non-nil error reports that the
// stream was corrupt — invalid UTF-8 in plain-text mode, or an unrecoverable
// structured-log frame — which the caller must treat as a run failure, not
// silently accept as a clean halt.
func (r *Runner) decodeLog(logBuf []byte) ([]string, error) {
	if len(logBuf) == 0 {
		return nil, nil
	}

	if r.elf.LogType == elfinfo.LogTypeStructured && r.elf.LogTable != nil {
		result := r.elf.LogTable.DecodeFrames(logBuf)
		if result.Outcome == elfinfo.DecodeUnrecoverable {
			r.logger.Warn().Int("recovered", result.RecoveredCount).Msg("structured log stream ended on an unrecoverable frame")
			return result.Lines, fmt.Errorf("structured log decode failed after %d recovered frames", result.RecoveredCount)
		}
		return result.Lines, nil
	}

	if !utf8.Valid(logBuf) {
		r.logger.Warn().Msg("debug transport log is not valid UTF-8")
		return nil, fmt.Errorf("debug transport log is not valid UTF-8")
	}
	text := strings.TrimRight(string(logBuf), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
