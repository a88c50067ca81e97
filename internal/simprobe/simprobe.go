// Package simprobe is a deterministic, in-process simulation of the probe.Driver
// interface. It exists for two reasons: the engine's own test suite needs a
// Probe Runner it can drive without hardware, and the server's --simulate
// CLI flag lets an operator exercise the queue/executor/HTTP surface before
// any probe is plugged in. The memory model (a byte-addressable region
// guarded by a mutex, with the driver owning a catalog of handles) mirrors
// the reference stack's in-memory block-device backend.
package simprobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/hilci/internal/probe"
)

// Scenario scripts how a simulated target behaves once resumed. The zero
// value is "halt at a breakpoint with ISR 0 (plain success) instantly".
type Scenario struct {
	// FailFirstAttach simulates a transient attach failure that succeeds on
	// the attach-under-reset retry.
	FailFirstAttach bool
	// FailAllAttach simulates a target that never attaches.
	FailAllAttach bool

	// AvailableBreakpoints is the number of hardware breakpoint units the
	// simulated core reports. Defaults to 2 if zero.
	AvailableBreakpoints int

	// HaltReason is what CoreHalted/HaltReason report after Resume, once
	// ResumeDelay has elapsed. Defaults to breakpoint.
	HaltReason probe.HaltReason
	// ISR is the exception number latched in PSR at halt time. 3 means the
	// hardfault handler, matching the CLASSIFY_HALT convention.
	ISR uint8

	// NeverHalts simulates a run that never reaches its exit condition,
	// exercising the Probe Runner's timeout path.
	NeverHalts bool
	// ResumeDelay is how long after Resume the core reports halted.
	ResumeDelay time.Duration

	// HardfaultRegs are read back by the Probe Runner's CLASSIFY_HALT step
	// when ISR == 3.
	HardfaultRegs HardfaultRegs

	// LogFrames is served verbatim, in chunks, over ReadUpChannel.
	LogFrames []byte
}

// HardfaultRegs mirrors the Cortex-M fault registers the Probe Runner reads
// after a hardfault halt.
type HardfaultRegs struct {
	LR   uint32
	HFSR uint32
	CFSR uint32
	BFAR uint32
	BFARValid bool
}

func defaultScenario() Scenario {
	return Scenario{
		AvailableBreakpoints: 2,
		HaltReason:           probe.HaltReasonBreakpoint,
		ISR:                  0,
	}
}

// Driver is a probe.Driver backed by a fixed catalog of simulated probes.
type Driver struct {
	mu        sync.Mutex
	scenarios map[string]Scenario
}

// NewDriver returns a Driver that will serve the given scenarios, keyed by
// probe serial. Serials not present in the map use defaultScenario.
func NewDriver(scenarios map[string]Scenario) *Driver {
	return &Driver{scenarios: scenarios}
}

func (d *Driver) Enumerate(ctx context.Context) ([]probe.HandleInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]probe.HandleInfo, 0, len(d.scenarios))
	for serial := range d.scenarios {
		out = append(out, probe.HandleInfo{Serial: serial})
	}
	return out, nil
}

func (d *Driver) Open(ctx context.Context, serial string, speedKHz *uint32) (probe.Session, error) {
	d.mu.Lock()
	sc, ok := d.scenarios[serial]
	d.mu.Unlock()
	if !ok {
		sc = defaultScenario()
	}
	if sc.AvailableBreakpoints == 0 {
		sc.AvailableBreakpoints = 2
	}

	return &session{
		serial:   serial,
		scenario: sc,
		mem:      make(map[uint32]uint32),
		breakpoints: make(map[uint32]bool),
	}, nil
}

var _ probe.Driver = (*Driver)(nil)

// session is the per-run simulated probe handle.
type session struct {
	mu sync.Mutex

	serial   string
	scenario Scenario

	mem         map[uint32]uint32 // 32-bit-word-addressable control/vector space
	image       []byte
	imageBase   uint32
	breakpoints map[uint32]bool

	attachAttempts int
	resumedAt      time.Time
	resumed        bool
	logOffset      int
	closed         bool
}

func (s *session) Attach(ctx context.Context, targetName string, attachUnderReset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachAttempts++
	if s.scenario.FailAllAttach {
		return fmt.Errorf("simulated attach failure for %s", targetName)
	}
	if s.scenario.FailFirstAttach && !attachUnderReset {
		return fmt.Errorf("simulated transient attach failure for %s", targetName)
	}
	return nil
}

func (s *session) Halt(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = false
	return nil
}

func (s *session) Flash(ctx context.Context, addr uint32, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageBase = addr
	s.image = append([]byte(nil), image...)
	return nil
}

func (s *session) AvailableHWBreakpoints(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario.AvailableBreakpoints - len(s.breakpoints), nil
}

func (s *session) SetHWBreakpoint(ctx context.Context, addr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints[addr] = true
	return nil
}

func (s *session) ClearHWBreakpoint(ctx context.Context, addr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakpoints, addr)
	return nil
}

func (s *session) ReadMemory32(ctx context.Context, addr uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(addr), nil
}

func (s *session) WriteMemory32(ctx context.Context, addr uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[addr] = value
	return nil
}

func (s *session) WriteMemory8(ctx context.Context, addr uint32, value uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	word := s.readLocked(addr &^ 3)
	shift := (addr & 3) * 8
	word = (word &^ (0xFF << shift)) | uint32(value)<<shift
	s.mem[addr&^3] = word
	return nil
}

func (s *session) ReadMemoryBlock(ctx context.Context, addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image != nil && addr >= s.imageBase && int(addr-s.imageBase) < len(s.image) {
		n := copy(data, s.image[addr-s.imageBase:])
		for i := n; i < len(data); i++ {
			data[i] = 0
		}
		return nil
	}
	for i := range data {
		data[i] = 0
	}
	return nil
}

func (s *session) readLocked(addr uint32) uint32 {
	if v, ok := s.mem[addr]; ok {
		return v
	}
	if s.image != nil && addr >= s.imageBase && int(addr-s.imageBase)+4 <= len(s.image) {
		off := addr - s.imageBase
		return uint32(s.image[off]) | uint32(s.image[off+1])<<8 | uint32(s.image[off+2])<<16 | uint32(s.image[off+3])<<24
	}
	return 0
}

func (s *session) ReadRegister(ctx context.Context, reg probe.Register) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch reg {
	case probe.RegLR:
		return s.scenario.HardfaultRegs.LR, nil
	default:
		return s.mem[regKey(reg)], nil
	}
}

func (s *session) WriteRegister(ctx context.Context, reg probe.Register, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[regKey(reg)] = value
	return nil
}

// regKey maps a virtual register to a reserved, unaddressable memory key so
// it can share the same sparse map as real memory-mapped registers.
func regKey(reg probe.Register) uint32 {
	return 0xFFFFFFF0 + uint32(reg)
}

func (s *session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = true
	s.resumedAt = time.Now()
	return nil
}

func (s *session) CoreHalted(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resumed {
		return true, nil
	}
	if s.scenario.NeverHalts {
		return false, nil
	}
	return time.Since(s.resumedAt) >= s.scenario.ResumeDelay, nil
}

// Cortex-M System Control Block fault-register addresses, matching where a
// real target maps them. CLASSIFY_HALT reads these with ReadMemory32 exactly
// as it would against hardware.
const (
	addrCFSR = 0xE000ED28
	addrHFSR = 0xE000ED2C
	addrBFAR = 0xE000ED38
)

func (s *session) HaltReason(ctx context.Context) (probe.HaltReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason := s.scenario.HaltReason
	if reason == "" {
		reason = probe.HaltReasonBreakpoint
	}
	// PSR is exposed through the same register map the Probe Runner reads
	// with ReadRegister, so CLASSIFY_HALT needs no simulator-specific path.
	s.mem[regKey(probe.RegPSR)] = uint32(s.scenario.ISR)
	if s.scenario.ISR == 3 {
		regs := s.scenario.HardfaultRegs
		s.mem[addrCFSR] = regs.CFSR
		s.mem[addrHFSR] = regs.HFSR
		if regs.BFARValid {
			s.mem[addrBFAR] = regs.BFAR
		}
	}
	return reason, nil
}

func (s *session) ReadUpChannel(ctx context.Context, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logOffset >= len(s.scenario.LogFrames) {
		return 0, nil
	}
	n := copy(buf, s.scenario.LogFrames[s.logOffset:])
	s.logOffset += n
	return n, nil
}

func (s *session) RTTControlBlockReady(ctx context.Context, addr uint32) (bool, error) {
	return true, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ probe.Session = (*session)(nil)
