package elfinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// LogTable is a structured-log source-location index embedded in the image's
// ".hilci_log_table" section, addressed by the "_hilci_log_table" symbol.
// Each entry maps a compact frame id to a level and a format string, letting
// the firmware emit a handful of bytes per log call instead of a full string.
type LogTable struct {
	entries map[uint32]logTableEntry
}

type logTableEntry struct {
	level   string
	message string
}

// tryParseLogTable looks for the optional structured-log table. Its absence
// is not an error — the image simply logs plain text instead.
func tryParseLogTable(f *elf.File) (*LogTable, bool) {
	sec := f.Section(".hilci_log_table")
	if sec == nil {
		return nil, false
	}
	data, err := sec.Data()
	if err != nil || len(data) == 0 {
		return nil, false
	}

	table := &LogTable{entries: make(map[uint32]logTableEntry)}
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var id uint32
		var level uint8
		var msgLen uint16
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &msgLen); err != nil {
			break
		}
		msg := make([]byte, msgLen)
		if n, _ := r.Read(msg); n != int(msgLen) {
			break
		}
		table.entries[id] = logTableEntry{level: levelName(level), message: string(msg)}
	}

	if len(table.entries) == 0 {
		return nil, false
	}
	return table, true
}

func levelName(level uint8) string {
	switch level {
	case 1:
		return "TRACE"
	case 2:
		return "DEBUG"
	case 3:
		return "INFO"
	case 4:
		return "WARN"
	case 5:
		return "ERROR"
	default:
		return ""
	}
}

// frame stream markers.
const (
	frameMarkerValid      byte = 0x4C // 'L'
	frameMarkerRecoverable byte = 0x52 // 'R'
)

// DecodeErrorKind distinguishes the three frame-stream outcomes DECODE_LOG
// cares about: a recoverable malformed frame (skip and continue), an
// unrecoverable one (stop, keep what's decoded), and a clean end of input
// (stop, no error).
type DecodeErrorKind int

const (
	DecodeEndOfInput DecodeErrorKind = iota
	DecodeRecoverable
	DecodeUnrecoverable
)

// DecodeResult is the outcome of one DecodeFrames call: the lines decoded so
// far, how the stream ended, and (for DecodeRecoverable) how many malformed
// frames were skipped along the way.
type DecodeResult struct {
	Lines          []string
	Outcome        DecodeErrorKind
	RecoveredCount int
}

// DecodeFrames parses buf as a stream of structured-log frames using table's
// schema, producing one "<LEVEL> <message>" line per frame (level
// left-padded to 5 characters, uppercase; blank if absent). It always
// returns whatever lines it managed to decode, even when stopping early, and
// reports which of the three DECODE_LOG termination modes applied.
func (t *LogTable) DecodeFrames(buf []byte) DecodeResult {
	var lines []string
	recovered := 0
	r := bytes.NewReader(buf)
	for {
		marker, err := r.ReadByte()
		if err != nil {
			return DecodeResult{Lines: lines, Outcome: DecodeEndOfInput, RecoveredCount: recovered}
		}

		switch marker {
		case frameMarkerValid:
			var id uint32
			if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
				// Input ended mid-frame: treat like a clean stop, the
				// partial frame carries no decodable content.
				return DecodeResult{Lines: lines, Outcome: DecodeEndOfInput, RecoveredCount: recovered}
			}
			entry, ok := t.entries[id]
			if !ok {
				// Unknown id: the table and the firmware image disagree.
				// Treat as unrecoverable — nothing about the stream layout
				// from here can be trusted.
				return DecodeResult{Lines: lines, Outcome: DecodeUnrecoverable, RecoveredCount: recovered}
			}
			lines = append(lines, formatLine(entry.level, entry.message))

		case frameMarkerRecoverable:
			skipLen, err := r.ReadByte()
			if err != nil {
				return DecodeResult{Lines: lines, Outcome: DecodeUnrecoverable, RecoveredCount: recovered}
			}
			if _, err := r.Seek(int64(skipLen), 1); err != nil {
				return DecodeResult{Lines: lines, Outcome: DecodeUnrecoverable, RecoveredCount: recovered}
			}
			recovered++
			continue

		default:
			// Unrecoverable malformed marker: stop, keep what's decoded.
			return DecodeResult{Lines: lines, Outcome: DecodeUnrecoverable, RecoveredCount: recovered}
		}
	}
}

func formatLine(level, message string) string {
	return fmt.Sprintf("%5s %s", level, message)
}
