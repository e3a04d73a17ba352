package codeobj

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// AssemblyFlavour selects the disassembly syntax.
type AssemblyFlavour int

const (
	GNUFlavour AssemblyFlavour = iota
	IntelFlavour
	GoFlavour
)

// FlavourFromString maps a configuration string to an AssemblyFlavour,
// defaulting to GNU syntax.
func FlavourFromString(s string) AssemblyFlavour {
	switch s {
	case "intel":
		return IntelFlavour
	case "go":
		return GoFlavour
	default:
		return GNUFlavour
	}
}

// NewDisassembler returns a Disassembler for the named architecture.
func NewDisassembler(arch string, flavour AssemblyFlavour) (Disassembler, error) {
	switch arch {
	case "amd64", "x86-64", "x86_64":
		return &amd64Disassembler{flavour: flavour}, nil
	}
	return nil, fmt.Errorf("no disassembler for architecture %q", arch)
}

type amd64Disassembler struct {
	flavour AssemblyFlavour
}

func (d *amd64Disassembler) MaxInstructionLength() int { return 15 }

func (d *amd64Disassembler) Decode(mem []byte, pc uint64, symLookup SymLookup) (string, int, error) {
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return "", 0, err
	}
	patchPCRel(pc, &inst)

	var text string
	lookup := x86asm.SymLookup(symLookup)
	switch d.flavour {
	case IntelFlavour:
		text = x86asm.IntelSyntax(inst, pc, lookup)
	case GoFlavour:
		text = x86asm.GoSyntax(inst, pc, lookup)
	default:
		text = x86asm.GNUSyntax(inst, pc, lookup)
	}
	return text, inst.Len, nil
}

// converts PC relative arguments to absolute addresses
func patchPCRel(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}
