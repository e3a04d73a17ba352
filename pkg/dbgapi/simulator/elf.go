package simulator

import "encoding/binary"

// Symbol describes one function symbol for BuildELF. Value is relative to
// the start of the text section.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

const (
	ehsize    = 64
	phentsize = 56
	shentsize = 64
	symsize   = 24
)

// BuildELF builds a minimal ELF64 shared object: one PT_LOAD segment
// spanning the whole file, a .text section holding text, and a symbol
// table with the given function symbols. File offsets equal virtual
// addresses, so an image loaded verbatim at some base address resolves
// symbol addresses as base+value. The returned textOff is the offset (and
// vaddr) of the text section.
func BuildELF(text []byte, syms []Symbol) (image []byte, textOff uint64) {
	textOff = ehsize + phentsize
	symtabOff := align8(textOff + uint64(len(text)))
	symtabLen := uint64(symsize * (len(syms) + 1))

	strtabOff := symtabOff + symtabLen
	strtab := []byte{0}
	nameOff := make([]uint32, len(syms))
	for i, s := range syms {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}

	shstrtabOff := strtabOff + uint64(len(strtab))
	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	const (
		nText     = 1
		nSymtab   = 7
		nStrtab   = 15
		nShstrtab = 23
	)

	shoff := align8(shstrtabOff + uint64(len(shstrtab)))
	total := shoff + 5*shentsize

	buf := make([]byte, total)
	le := binary.LittleEndian

	// ELF header.
	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(buf[16:], 3)  // ET_DYN
	le.PutUint16(buf[18:], 62) // EM_X86_64
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[32:], ehsize) // e_phoff
	le.PutUint64(buf[40:], shoff)  // e_shoff
	le.PutUint16(buf[52:], ehsize)
	le.PutUint16(buf[54:], phentsize)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], shentsize)
	le.PutUint16(buf[60:], 5)
	le.PutUint16(buf[62:], 4) // e_shstrndx

	// Program header: one PT_LOAD covering the whole file.
	ph := buf[ehsize:]
	le.PutUint32(ph[0:], 1)  // PT_LOAD
	le.PutUint32(ph[4:], 5)  // R+X
	le.PutUint64(ph[8:], 0)  // offset
	le.PutUint64(ph[16:], 0) // vaddr
	le.PutUint64(ph[24:], 0) // paddr
	le.PutUint64(ph[32:], total)
	le.PutUint64(ph[40:], total)
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[textOff:], text)

	// Symbol table; entry 0 stays null.
	for i, s := range syms {
		sym := buf[symtabOff+uint64(symsize*(i+1)):]
		le.PutUint32(sym[0:], nameOff[i])
		sym[4] = 0x12 // GLOBAL, FUNC
		le.PutUint16(sym[6:], 1)
		le.PutUint64(sym[8:], textOff+s.Value)
		le.PutUint64(sym[16:], s.Size)
	}

	copy(buf[strtabOff:], strtab)
	copy(buf[shstrtabOff:], shstrtab)

	shdr := func(i int, name uint32, typ, flags uint32, addr, off, size uint64, link, info uint32, addralign, entsize uint64) {
		sh := buf[shoff+uint64(shentsize*i):]
		le.PutUint32(sh[0:], name)
		le.PutUint32(sh[4:], typ)
		le.PutUint64(sh[8:], uint64(flags))
		le.PutUint64(sh[16:], addr)
		le.PutUint64(sh[24:], off)
		le.PutUint64(sh[32:], size)
		le.PutUint32(sh[40:], link)
		le.PutUint32(sh[44:], info)
		le.PutUint64(sh[48:], addralign)
		le.PutUint64(sh[56:], entsize)
	}
	shdr(1, nText, 1, 0x6, textOff, textOff, uint64(len(text)), 0, 0, 16, 0)
	shdr(2, nSymtab, 2, 0, 0, symtabOff, symtabLen, 3, 1, 8, symsize)
	shdr(3, nStrtab, 3, 0, 0, strtabOff, uint64(len(strtab)), 0, 0, 1, 0)
	shdr(4, nShstrtab, 3, 0, 0, shstrtabOff, uint64(len(shstrtab)), 0, 0, 1, 0)

	return buf, textOff
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}
