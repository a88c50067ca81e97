package elfinfo

import (
	"bytes"
	"encoding/binary"
)

// elfOptions controls the minimal ELF32/ARM image buildMinimalELF produces,
// just enough of the format for debug/elf (and Parse) to read back: a
// .vector_table section, a symbol table with "main"/"_SEGGER_RTT", and
// optionally a .hilci_log_table section.
type elfOptions struct {
	vectorTableAddr uint32
	vectorTableData []byte // defaults to a valid 16-byte table if nil
	omitVectorTable bool
	omitMain        bool
	omitRTT         bool
	logTable        []byte // raw .hilci_log_table contents; omitted if nil
}

func defaultVectorTableData() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], 0x20001000)  // initial SP
	binary.LittleEndian.PutUint32(buf[4:8], 0x08000101)  // reset (Thumb bit set)
	binary.LittleEndian.PutUint32(buf[8:12], 0x08000201) // NMI
	binary.LittleEndian.PutUint32(buf[12:16], 0x08000301) // hardfault
	return buf
}

// buildMinimalELF assembles a tiny, valid ELF32 little-endian/ARM file by
// hand: an ELF header, a handful of sections, and a symbol table. There is
// no program header and no real machine code — only what Parse reads.
func buildMinimalELF(opts elfOptions) []byte {
	type section struct {
		name    string
		typ     uint32
		flags   uint32
		addr    uint32
		data    []byte
		link    uint32
		entsize uint32
	}

	const (
		shtNull    = 0
		shtProgbits = 1
		shtSymtab  = 2
		shtStrtab  = 3
	)

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOffsets := map[string]uint32{}
	addName := func(name string) uint32 {
		off := uint32(shstrtab.Len())
		shstrtab.WriteString(name)
		shstrtab.WriteByte(0)
		nameOffsets[name] = off
		return off
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symNameOffsets := map[string]uint32{}
	addSymName := func(name string) uint32 {
		off := uint32(strtab.Len())
		strtab.WriteString(name)
		strtab.WriteByte(0)
		symNameOffsets[name] = off
		return off
	}

	var sections []section
	sections = append(sections, section{name: ""}) // SHN_UNDEF

	if !opts.omitVectorTable {
		data := opts.vectorTableData
		if data == nil {
			data = defaultVectorTableData()
		}
		addr := opts.vectorTableAddr
		if addr == 0 {
			addr = 0x08000000
		}
		sections = append(sections, section{
			name: ".vector_table", typ: shtProgbits, flags: 0x2, addr: addr, data: data,
		})
	}

	if opts.logTable != nil {
		sections = append(sections, section{
			name: ".hilci_log_table", typ: shtProgbits, data: opts.logTable,
		})
	}

	// Build the symbol table (filled in after we know strtab's section index).
	var syms bytes.Buffer
	syms.Write(make([]byte, 16)) // STN_UNDEF placeholder symbol

	if !opts.omitMain {
		binary.Write(&syms, binary.LittleEndian, addSymName("main"))
		binary.Write(&syms, binary.LittleEndian, uint32(0x08000400)) // st_value, Thumb bit clear
		binary.Write(&syms, binary.LittleEndian, uint32(0))          // st_size
		syms.WriteByte(0x12)                                         // st_info: FUNC|GLOBAL
		syms.WriteByte(0)                                             // st_other
		binary.Write(&syms, binary.LittleEndian, uint16(1))          // st_shndx (arbitrary, non-zero)
	}
	if !opts.omitRTT {
		binary.Write(&syms, binary.LittleEndian, addSymName("_SEGGER_RTT"))
		binary.Write(&syms, binary.LittleEndian, uint32(0x20000000))
		binary.Write(&syms, binary.LittleEndian, uint32(0))
		syms.WriteByte(0x11) // OBJECT|GLOBAL
		syms.WriteByte(0)
		binary.Write(&syms, binary.LittleEndian, uint16(1))
	}

	strtabIdx := uint32(len(sections) + 1) // symtab lands at len(sections), strtab right after it
	sections = append(sections, section{name: ".symtab", typ: shtSymtab, data: syms.Bytes(), link: strtabIdx, entsize: 16})
	sections = append(sections, section{name: ".strtab", typ: shtStrtab, data: strtab.Bytes()})

	for _, s := range sections {
		if s.name != "" {
			addName(s.name)
		}
	}
	shstrtabIdx := uint32(len(sections))
	sections = append(sections, section{name: ".shstrtab", typ: shtStrtab, data: shstrtab.Bytes()})

	const ehsize = 52
	const shentsize = 40

	// Lay out section data immediately after the ELF header, back to back.
	offsets := make([]uint32, len(sections))
	cursor := uint32(ehsize)
	for i, s := range sections {
		offsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	shoff := cursor

	var out bytes.Buffer
	ident := []byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	out.Write(ident)
	binary.Write(&out, binary.LittleEndian, uint16(2))       // e_type: ET_EXEC
	binary.Write(&out, binary.LittleEndian, uint16(40))      // e_machine: EM_ARM
	binary.Write(&out, binary.LittleEndian, uint32(1))       // e_version
	binary.Write(&out, binary.LittleEndian, uint32(0x08000401)) // e_entry
	binary.Write(&out, binary.LittleEndian, uint32(0))       // e_phoff
	binary.Write(&out, binary.LittleEndian, shoff)           // e_shoff
	binary.Write(&out, binary.LittleEndian, uint32(0))       // e_flags
	binary.Write(&out, binary.LittleEndian, uint16(ehsize))
	binary.Write(&out, binary.LittleEndian, uint16(0)) // e_phentsize
	binary.Write(&out, binary.LittleEndian, uint16(0)) // e_phnum
	binary.Write(&out, binary.LittleEndian, uint16(shentsize))
	binary.Write(&out, binary.LittleEndian, uint16(len(sections)))
	binary.Write(&out, binary.LittleEndian, uint16(shstrtabIdx))

	for _, s := range sections {
		out.Write(s.data)
	}

	for i, s := range sections {
		var nameOff uint32
		if s.name != "" {
			nameOff = nameOffsets[s.name]
		}
		binary.Write(&out, binary.LittleEndian, nameOff)
		binary.Write(&out, binary.LittleEndian, s.typ)
		binary.Write(&out, binary.LittleEndian, s.flags)
		binary.Write(&out, binary.LittleEndian, s.addr)
		binary.Write(&out, binary.LittleEndian, offsets[i])
		binary.Write(&out, binary.LittleEndian, uint32(len(s.data)))
		binary.Write(&out, binary.LittleEndian, s.link)
		binary.Write(&out, binary.LittleEndian, uint32(0)) // sh_info
		binary.Write(&out, binary.LittleEndian, uint32(4)) // sh_addralign
		binary.Write(&out, binary.LittleEndian, s.entsize)
	}

	return out.Bytes()
}
