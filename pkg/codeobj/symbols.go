package codeobj

import (
	"debug/elf"
	"sort"

	"github.com/derekparker/trie"
	"github.com/ianlancetaylor/demangle"
)

// Symbol is a defined function symbol, with Value relocated to the object's
// load address.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// FindSymbol returns the symbol containing addr, or nil when addr falls
// outside every symbol's [Value, Value+Size) extent.
func (co *CodeObject) FindSymbol(addr uint64) *Symbol {
	co.loadSymbols()
	i := sort.Search(len(co.symbols), func(i int) bool { return co.symbols[i].Value > addr })
	if i == 0 {
		return nil
	}
	sym := &co.symbols[i-1]
	if addr >= sym.Value+sym.Size {
		return nil
	}
	return sym
}

// SymbolNamesWithPrefix returns the demangled names of the object's function
// symbols starting with prefix.
func (co *CodeObject) SymbolNamesWithPrefix(prefix string) []string {
	co.loadSymbols()
	if co.names == nil {
		return nil
	}
	return co.names.PrefixSearch(prefix)
}

func (co *CodeObject) loadSymbols() {
	co.symOnce.Do(func() {
		if co.f == nil {
			return
		}
		ef, err := elf.NewFile(co.f)
		if err != nil {
			co.log.Warnf("could not read symbols of code object %d: %v", co.id, err)
			return
		}

		var all []elf.Symbol
		if syms, err := ef.Symbols(); err == nil {
			all = append(all, syms...)
		}
		if syms, err := ef.DynamicSymbols(); err == nil {
			all = append(all, syms...)
		}

		// function symbols can appear in both tables, keep the larger extent
		byAddr := make(map[uint64]Symbol)
		for _, sym := range all {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
				continue
			}
			addr := co.loadAddress + sym.Value
			if prev, ok := byAddr[addr]; ok && prev.Size >= sym.Size {
				continue
			}
			byAddr[addr] = Symbol{Name: demangle.Filter(sym.Name), Value: addr, Size: sym.Size}
		}

		co.symbols = make([]Symbol, 0, len(byAddr))
		co.names = trie.New()
		for _, sym := range byAddr {
			co.symbols = append(co.symbols, sym)
			co.names.Add(sym.Name, sym.Value)
		}
		sort.Slice(co.symbols, func(i, j int) bool { return co.symbols[i].Value < co.symbols[j].Value })
	})
}
