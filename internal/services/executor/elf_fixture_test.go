package executor

import (
	"bytes"
	"encoding/binary"
)

// validFirmwareImage builds a minimal, valid ELF32/ARM image by hand — just
// enough of the format for elfinfo.Parse to read an entrypoint, a vector
// table, and the "_SEGGER_RTT" symbol. It mirrors
// internal/elfinfo's own test fixture builder, trimmed to the one shape the
// Executor's tests need: a flash-resident image with no structured log
// table.
func validFirmwareImage() []byte {
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOff := map[string]uint32{}
	addName := func(name string) {
		nameOff[name] = uint32(shstrtab.Len())
		shstrtab.WriteString(name)
		shstrtab.WriteByte(0)
	}
	addName(".vector_table")
	addName(".symtab")
	addName(".strtab")
	addName(".shstrtab")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symNameOff := map[string]uint32{}
	addSymName := func(name string) {
		symNameOff[name] = uint32(strtab.Len())
		strtab.WriteString(name)
		strtab.WriteByte(0)
	}
	addSymName("main")
	addSymName("_SEGGER_RTT")

	vt := make([]byte, 16)
	binary.LittleEndian.PutUint32(vt[0:4], 0x20001000)
	binary.LittleEndian.PutUint32(vt[4:8], 0x08000401)
	binary.LittleEndian.PutUint32(vt[8:12], 0x08000201)
	binary.LittleEndian.PutUint32(vt[12:16], 0x08000501)

	var syms bytes.Buffer
	syms.Write(make([]byte, 16)) // STN_UNDEF
	binary.Write(&syms, binary.LittleEndian, symNameOff["main"])
	binary.Write(&syms, binary.LittleEndian, uint32(0x08000400))
	binary.Write(&syms, binary.LittleEndian, uint32(0))
	syms.WriteByte(0x12)
	syms.WriteByte(0)
	binary.Write(&syms, binary.LittleEndian, uint16(1))
	binary.Write(&syms, binary.LittleEndian, symNameOff["_SEGGER_RTT"])
	binary.Write(&syms, binary.LittleEndian, uint32(0x20000100))
	binary.Write(&syms, binary.LittleEndian, uint32(0))
	syms.WriteByte(0x11)
	syms.WriteByte(0)
	binary.Write(&syms, binary.LittleEndian, uint16(1))

	type section struct {
		name    string
		typ     uint32
		addr    uint32
		data    []byte
		link    uint32
		entsize uint32
	}
	sections := []section{
		{name: ""},
		{name: ".vector_table", typ: 1, addr: 0x08000000, data: vt},
		{name: ".symtab", typ: 2, data: syms.Bytes(), link: 3, entsize: 16},
		{name: ".strtab", typ: 3, data: strtab.Bytes()},
		{name: ".shstrtab", typ: 3, data: shstrtab.Bytes()},
	}

	const ehsize = 52
	const shentsize = 40

	offsets := make([]uint32, len(sections))
	cursor := uint32(ehsize)
	for i, s := range sections {
		offsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	shoff := cursor

	var out bytes.Buffer
	out.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&out, binary.LittleEndian, uint16(2))  // ET_EXEC
	binary.Write(&out, binary.LittleEndian, uint16(40)) // EM_ARM
	binary.Write(&out, binary.LittleEndian, uint32(1))
	binary.Write(&out, binary.LittleEndian, uint32(0x08000401))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, shoff)
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint16(ehsize))
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(shentsize))
	binary.Write(&out, binary.LittleEndian, uint16(len(sections)))
	binary.Write(&out, binary.LittleEndian, uint16(4)) // e_shstrndx

	for _, s := range sections {
		out.Write(s.data)
	}
	for i, s := range sections {
		var n uint32
		if s.name != "" {
			n = nameOff[s.name]
		}
		binary.Write(&out, binary.LittleEndian, n)
		binary.Write(&out, binary.LittleEndian, s.typ)
		binary.Write(&out, binary.LittleEndian, uint32(0x2)) // sh_flags: ALLOC
		binary.Write(&out, binary.LittleEndian, s.addr)
		binary.Write(&out, binary.LittleEndian, offsets[i])
		binary.Write(&out, binary.LittleEndian, uint32(len(s.data)))
		binary.Write(&out, binary.LittleEndian, s.link)
		binary.Write(&out, binary.LittleEndian, uint32(0))
		binary.Write(&out, binary.LittleEndian, uint32(4))
		binary.Write(&out, binary.LittleEndian, s.entsize)
	}

	return out.Bytes()
}
