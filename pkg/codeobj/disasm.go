package codeobj

import (
	"fmt"
	"io"
	"sort"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
)

// contextByteSize is how many bytes of instructions around the pc the
// disassembly listing shows, in each direction.
const contextByteSize = 24

// SymLookup labels an address with the symbol containing it. It returns the
// empty string when the address is not covered by any symbol.
type SymLookup func(addr uint64) (name string, base uint64)

// Disassembler decodes one machine instruction.
type Disassembler interface {
	// Decode decodes the instruction at pc from the bytes in mem and
	// returns its text and encoded size. symLookup, when non-nil, is used
	// to label addresses appearing in operands.
	Decode(mem []byte, pc uint64, symLookup SymLookup) (text string, size int, err error)
	// MaxInstructionLength is the longest encoding the architecture
	// allows, callers fetch this many bytes per instruction.
	MaxInstructionLength() int
}

// Disassemble writes a listing of the instructions around pc to w,
// interleaved with source lines when line tables and source files are
// available. Instructions are fetched from mem at the target's addresses so
// that the listing reflects any breakpoints or patches present in the
// target. The window starts on the source line boundary preceding
// pc-contextByteSize when line info exists and is clamped to the compile
// unit range containing pc.
func (co *CodeObject) Disassemble(w io.Writer, dis Disassembler, mem dbgapi.MemoryReader, src *SourceCache, pc uint64) {
	co.loadDebugInfo()

	startPC := pc
	if i := sort.Search(len(co.lineIndex), func(i int) bool { return co.lineIndex[i].Addr > pc }); i > 0 {
		i--
		for i > 0 && pc-co.lineIndex[i].Addr < contextByteSize {
			i--
		}
		startPC = co.lineIndex[i].Addr
	}
	endPC := pc + contextByteSize

	if i := sort.Search(len(co.pcRanges), func(i int) bool { return co.pcRanges[i].Low > pc }); i > 0 {
		if rg := co.pcRanges[i-1]; pc < rg.High {
			if rg.Low > startPC {
				startPC = rg.Low
			}
			if rg.High < endPC {
				endPC = rg.High
			}
		}
	}

	symbol := co.FindSymbol(pc)

	fmt.Fprintf(w, "\nDisassembly")
	if symbol != nil {
		fmt.Fprintf(w, " for function %s", symbol.Name)
	}
	fmt.Fprintf(w, ":\n")
	fmt.Fprintf(w, "    code object: %s\n", co.uri)
	fmt.Fprintf(w, "    loaded at: [0x%x-0x%x]\n", co.loadAddress, co.loadAddress+co.memSize)

	symLookup := func(addr uint64) (string, uint64) {
		if sym := co.FindSymbol(addr); sym != nil {
			return sym.Name, sym.Value
		}
		return "", 0
	}

	buf := make([]byte, dis.MaxInstructionLength())

	// startPC came from the line table or the range clamp and can be far
	// behind the window, skip ahead on instruction boundaries until the
	// remaining distance fits.
	lineStartPC := startPC
	for pc-startPC > contextByteSize {
		n, err := mem.ReadMemory(buf, startPC)
		if err != nil || n == 0 {
			break
		}
		_, size, err := dis.Decode(buf[:n], startPC, symLookup)
		if err != nil || size == 0 {
			break
		}
		if pc-(startPC+uint64(size)) < contextByteSize {
			break
		}
		startPC += uint64(size)
	}

	prevFile := ""
	prevLine := 0
	addr := startPC
	for addr < endPC {
		// the source line of an elided run of instructions is the one
		// the run started on
		lookupAddr := addr
		if addr == startPC {
			lookupAddr = lineStartPC
		}
		if i, ok := co.lineAt[lookupAddr]; ok {
			entry := co.lineIndex[i]
			if entry.File != prevFile || entry.Line != prevLine {
				fmt.Fprintln(w)
				if entry.File != prevFile {
					fmt.Fprintf(w, "%s:\n", entry.File)
				}
				first := entry.Line
				if entry.File == prevFile {
					// include lines without code between the
					// previous entry and this one
					for first-1 > prevLine && !co.lineHasCode(entry.File, first-1) {
						first--
					}
				}
				lines, haveSource := src.Lines(entry.File)
				for line := first; line <= entry.Line; line++ {
					fmt.Fprintf(w, "%-8d", line)
					if !haveSource {
						fmt.Fprintf(w, "%s: No such file or directory.", entry.File)
					} else if line > 0 && line <= len(lines) {
						fmt.Fprint(w, lines[line-1])
					}
					fmt.Fprintln(w)
				}
				prevFile, prevLine = entry.File, entry.Line
			}
			if addr == startPC && startPC != lineStartPC {
				fmt.Fprintln(w, "    ...")
			}
		}

		n, err := mem.ReadMemory(buf, addr)
		if err != nil || n == 0 {
			fmt.Fprintf(w, "Cannot access memory at address 0x%x\n", addr)
			break
		}
		text, size, err := dis.Decode(buf[:n], addr, symLookup)
		if err != nil || size == 0 {
			co.log.Warnf("could not decode instruction at 0x%x: %v", addr, err)
			break
		}

		marker := "    "
		if addr == pc {
			marker = " => "
		}
		fmt.Fprintf(w, "%s0x%x", marker, addr)
		if symbol != nil {
			if addr >= symbol.Value {
				fmt.Fprintf(w, " <+%d>", addr-symbol.Value)
			} else {
				fmt.Fprintf(w, " <-%d>", symbol.Value-addr)
			}
		}
		fmt.Fprintf(w, ":    %s\n", text)

		addr += uint64(size)
	}

	if _, ok := co.lineAt[addr]; !ok {
		fmt.Fprintln(w, "    ...")
	}
	fmt.Fprintf(w, "\nEnd of disassembly.\n")
}
