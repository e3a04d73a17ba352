package codeobj

import (
	"debug/dwarf"
	"debug/elf"
	"sort"
)

// LineEntry maps the relocated address of the first instruction of a source
// line to that line.
type LineEntry struct {
	Addr uint64
	File string
	Line int
}

// PCRange is a relocated [Low, High) address range covered by a compile
// unit. Disassembly never crosses out of the range containing the pc.
type PCRange struct {
	Low  uint64
	High uint64
}

func (co *CodeObject) loadDebugInfo() {
	co.debugOnce.Do(func() {
		co.lineAt = make(map[uint64]int)
		if co.f == nil {
			return
		}
		ef, err := elf.NewFile(co.f)
		if err != nil {
			co.log.Warnf("could not read debug info of code object %d: %v", co.id, err)
			return
		}
		d, err := ef.DWARF()
		if err != nil {
			co.log.Debugf("code object %d has no debug info: %v", co.id, err)
			return
		}

		byAddr := make(map[uint64]LineEntry)
		r := d.Reader()
		for {
			entry, err := r.Next()
			if err != nil || entry == nil {
				break
			}
			if entry.Tag != dwarf.TagCompileUnit {
				r.SkipChildren()
				continue
			}

			if ranges, err := d.Ranges(entry); err == nil {
				for _, rg := range ranges {
					co.pcRanges = append(co.pcRanges, PCRange{co.loadAddress + rg[0], co.loadAddress + rg[1]})
				}
			}

			lr, err := d.LineReader(entry)
			if err != nil || lr == nil {
				continue
			}
			var le dwarf.LineEntry
			for lr.Next(&le) == nil {
				if le.EndSequence || le.Line == 0 || le.File == nil {
					continue
				}
				addr := co.loadAddress + le.Address
				if _, ok := byAddr[addr]; !ok {
					byAddr[addr] = LineEntry{Addr: addr, File: le.File.Name, Line: le.Line}
				}
			}
		}

		co.lineIndex = make([]LineEntry, 0, len(byAddr))
		for _, entry := range byAddr {
			co.lineIndex = append(co.lineIndex, entry)
		}
		sort.Slice(co.lineIndex, func(i, j int) bool { return co.lineIndex[i].Addr < co.lineIndex[j].Addr })
		for i, entry := range co.lineIndex {
			co.lineAt[entry.Addr] = i
		}
		sort.Slice(co.pcRanges, func(i, j int) bool { return co.pcRanges[i].Low < co.pcRanges[j].Low })
	})
}

func (co *CodeObject) lineHasCode(file string, line int) bool {
	for _, entry := range co.lineIndex {
		if entry.File == file && entry.Line == line {
			return true
		}
	}
	return false
}
