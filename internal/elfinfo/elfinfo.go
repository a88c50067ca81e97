// Package elfinfo parses a firmware image once, at Probe Runner construction
// time, to discover the handful of facts the engine needs to steer the
// target: the entrypoint, the debug-transport control-block address, the
// vector table, and whether the image is RAM- or flash-resident.
//
// debug/elf is the standard library's ELF reader. No third-party ELF parser
// appears anywhere in the reference stack or the rest of the example pack —
// see DESIGN.md for why debug/elf is used here unmodified rather than
// reaching for a pack dependency that doesn't exist.
package elfinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// LogType classifies how a firmware image emits its debug-transport log
// stream.
type LogType int

const (
	LogTypePlainText LogType = iota
	LogTypeStructured
)

// VectorTable is the decoded contents of the image's .vector_table section.
type VectorTable struct {
	Start         uint32 // section address
	StackPointer  uint32 // w[0]
	Reset         uint32 // w[1]
	HardfaultAddr uint32 // w[3]
}

// Info is everything the engine extracts from a firmware image.
type Info struct {
	EntrypointAddr    uint32 // "main" symbol, Thumb bit cleared
	RTTControlBlockAddr uint32 // "_SEGGER_RTT" symbol address
	VectorTable       VectorTable
	FromRAM           bool
	LogType           LogType
	LogTable          *LogTable // non-nil iff LogType == LogTypeStructured
}

// Error wraps any failure to extract a required element; its presence means
// the Probe Runner must never start for this image.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "elf: " + e.Reason }

const ramResidentThreshold = 0x20000000

const sectionAlignment = 4

var alignedSections = []string{".vector_table", ".text", ".rodata", ".data"}

// Parse reads a firmware ELF image and extracts the facts the Probe Runner
// needs. It never mutates image.
func Parse(image []byte) (*Info, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("not a valid ELF image: %v", err)}
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("no symbol table: %v", err)}
	}

	var mainAddr, rttAddr uint32
	var haveMain, haveRTT bool
	for _, s := range syms {
		switch s.Name {
		case "main":
			mainAddr = uint32(s.Value) &^ 1 // clear Thumb bit
			haveMain = true
		case "_SEGGER_RTT":
			rttAddr = uint32(s.Value)
			haveRTT = true
		}
	}
	if !haveMain {
		return nil, &Error{Reason: "missing required symbol \"main\""}
	}
	if !haveRTT {
		return nil, &Error{Reason: "missing required symbol \"_SEGGER_RTT\""}
	}

	for _, name := range alignedSections {
		sec := f.Section(name)
		if sec == nil {
			continue
		}
		if sec.Addr%sectionAlignment != 0 {
			return nil, &Error{Reason: fmt.Sprintf("section %s is not %d-byte aligned", name, sectionAlignment)}
		}
	}

	vtSec := f.Section(".vector_table")
	if vtSec == nil {
		return nil, &Error{Reason: "missing required section \".vector_table\""}
	}
	vtData, err := vtSec.Data()
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot read .vector_table: %v", err)}
	}
	if len(vtData) < 16 {
		return nil, &Error{Reason: "vector table shorter than 16 bytes"}
	}
	vt := VectorTable{
		Start:         uint32(vtSec.Addr),
		StackPointer:  binary.LittleEndian.Uint32(vtData[0:4]),
		Reset:         binary.LittleEndian.Uint32(vtData[4:8]),
		HardfaultAddr: binary.LittleEndian.Uint32(vtData[12:16]),
	}

	info := &Info{
		EntrypointAddr:      mainAddr,
		RTTControlBlockAddr: rttAddr,
		VectorTable:         vt,
		FromRAM:             vt.Start >= ramResidentThreshold,
		LogType:             LogTypePlainText,
	}

	if table, ok := tryParseLogTable(f); ok {
		info.LogType = LogTypeStructured
		info.LogTable = table
	}

	return info, nil
}
