package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wavedbg/wavedbg/pkg/codeobj"
	"github.com/wavedbg/wavedbg/pkg/dbgapi"
)

const waveSeparator = "--------------------------------------------------------"

// printWaves writes a report of every stopped wave: header, registers,
// local memory and disassembly around the pc. The code object set is
// rebuilt from scratch on every pass, the lifetime of a loaded object is
// not observable between passes. When allWavefronts is set the waves are
// all stopped first.
//
// The pass is advisory-locked, a report requested while one is already
// running is dropped.
func (s *Session) printWaves(allWavefronts bool) {
	if !s.reportMu.TryLock() {
		return
	}
	defer s.reportMu.Unlock()

	objects := s.loadCodeObjects()
	defer func() {
		for _, co := range objects {
			co.Close()
		}
	}()

	if allWavefronts {
		s.stopAllWaves()
	}

	waves, err := s.proc.Waves()
	if err != nil {
		s.log.Errorf("could not list waves: %v", err)
		return
	}

	printed := 0
	for _, id := range waves {
		if s.printWave(id, objects, printed > 0) {
			printed++
		}
	}
}

// loadCodeObjects opens every code object currently loaded in the target,
// sorted by load address. Unopenable objects are skipped with a warning.
func (s *Session) loadCodeObjects() []*codeobj.CodeObject {
	ids, err := s.proc.CodeObjects()
	if err != nil {
		s.log.Errorf("could not list code objects: %v", err)
		return nil
	}

	objects := make([]*codeobj.CodeObject, 0, len(ids))
	for _, id := range ids {
		info, err := s.proc.CodeObjectInfo(id)
		if err != nil {
			s.log.Warnf("could not query code_object_%d: %v", id, err)
			continue
		}
		co := codeobj.New(id, info)
		co.Open(s.proc.Memory())
		if !co.IsOpen() {
			s.log.Warnf("could not open code_object_%d", id)
			continue
		}
		if dir := s.cfg.SaveCodeObjects; dir != "" {
			if err := co.Save(dir); err != nil {
				s.log.Warnf("could not save code object to %s: %v", dir, err)
			}
		}
		objects = append(objects, co)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].LoadAddress() < objects[j].LoadAddress() })
	return objects
}

// findCodeObject returns the object whose loaded region contains pc.
func findCodeObject(objects []*codeobj.CodeObject, pc uint64) *codeobj.CodeObject {
	i := sort.Search(len(objects), func(i int) bool { return objects[i].LoadAddress() > pc })
	if i == 0 {
		return nil
	}
	co := objects[i-1]
	if pc-co.LoadAddress() > co.LoadedSize() {
		return nil
	}
	return co
}

func (s *Session) printWave(id dbgapi.WaveID, objects []*codeobj.CodeObject, separate bool) bool {
	state, err := s.proc.WaveState(id)
	if err != nil || state != dbgapi.WaveStopped {
		return false
	}
	reason, err := s.proc.WaveStopReason(id)
	if err != nil {
		return false
	}
	pc, err := s.proc.WavePC(id)
	if err != nil {
		return false
	}

	// the dispatch is unavailable for waves created before the attach
	haveEntry := false
	var kernelEntry uint64
	dispatch, err := s.proc.WaveDispatch(id)
	if err == nil {
		if kernelEntry, err = s.proc.DispatchKernelEntry(dispatch); err == nil {
			haveEntry = true
		}
	} else if !errors.Is(err, dbgapi.ErrNotAvailable) && !errors.Is(err, dbgapi.ErrInvalidWaveID) {
		s.log.Errorf("could not fetch dispatch of wave_%d: %v", id, err)
	}

	co := findCodeObject(objects, pc)

	if filter := s.cfg.KernelFilter; filter != "" && !kernelMatches(co, pc, kernelEntry, haveEntry, filter) {
		return false
	}

	if separate {
		fmt.Fprintln(s.out)
	}
	fmt.Fprintln(s.out, waveSeparator)

	fmt.Fprintf(s.out, "wave_%d: pc=0x%x (kernel_code_entry=", id, pc)
	if haveEntry {
		fmt.Fprintf(s.out, "0x%x", kernelEntry)
		if co != nil {
			if sym := co.FindSymbol(kernelEntry); sym != nil {
				fmt.Fprintf(s.out, " <%s>", sym.Name)
			}
		}
	} else {
		fmt.Fprint(s.out, "not available")
	}
	fmt.Fprint(s.out, ")")

	if reason != dbgapi.StopReasonNone {
		fmt.Fprintf(s.out, " (stopped, reason: %s)\n", reason)
	} else {
		fmt.Fprint(s.out, " (running)\n")
	}

	s.printRegisters(id)
	s.printLocalMemory(id)

	if co == nil {
		fmt.Fprintf(s.out, "\nNo code object contains pc 0x%x\n", pc)
		return true
	}

	arch, err := s.proc.WaveArchitecture(id)
	if err != nil {
		s.log.Errorf("could not fetch architecture of wave_%d: %v", id, err)
		return true
	}
	dis, err := codeobj.NewDisassembler(arch, codeobj.FlavourFromString(s.cfg.Flavour))
	if err != nil {
		s.log.Warnf("%v", err)
		return true
	}
	co.Disassemble(s.out, dis, s.proc.Memory(), s.src, pc)
	return true
}

// kernelMatches reports whether the wave's kernel name starts with the
// configured filter prefix. The name comes from the symbol enclosing the
// kernel entry, falling back to the symbol enclosing the pc.
func kernelMatches(co *codeobj.CodeObject, pc, kernelEntry uint64, haveEntry bool, filter string) bool {
	if co == nil {
		return false
	}
	var sym *codeobj.Symbol
	if haveEntry {
		sym = co.FindSymbol(kernelEntry)
	}
	if sym == nil {
		sym = co.FindSymbol(pc)
	}
	if sym == nil {
		return false
	}
	for _, name := range co.SymbolNamesWithPrefix(filter) {
		if name == sym.Name {
			return true
		}
	}
	return false
}

func (s *Session) printRegisters(id dbgapi.WaveID) {
	classes, err := s.proc.WaveRegisters(id)
	if err != nil {
		if !errors.Is(err, dbgapi.ErrInvalidWaveID) {
			s.log.Errorf("could not fetch registers of wave_%d: %v", id, err)
		}
		return
	}

	// always print the "general" register class last
	sort.SliceStable(classes, func(i, j int) bool {
		return classes[i].Name != "general" && classes[j].Name == "general"
	})

	printedRegs := make(map[string]struct{})
	for _, class := range classes {
		fmt.Fprintf(s.out, "\n%s registers:", class.Name)

		lastSize := 0
		column := 0
		for _, reg := range class.Registers {
			// skip registers already printed as part of another class
			if _, ok := printedRegs[reg.Name]; ok {
				continue
			}
			printedRegs[reg.Name] = struct{}{}

			// registers larger than a uint64 go each on their own line
			size := len(reg.Value)
			newline := size == 0 || size > 8 || size != lastSize
			if !newline {
				newline = column%(16/size) == 0
				column++
			}
			if newline {
				fmt.Fprintln(s.out)
				column = 1
			}
			lastSize = size

			fmt.Fprintf(s.out, "%16s%s", reg.Name+": ", registerValueString(reg.Type, reg.Value))
		}
		fmt.Fprintln(s.out)
	}
}

// registerValueString formats a raw register value according to its type,
// expanding vector types ("uint32[4]") element by element.
func registerValueString(typ string, value []byte) string {
	if pos := strings.LastIndexByte(typ, '['); pos >= 0 && strings.HasSuffix(typ, "]") {
		count, err := strconv.Atoi(typ[pos+1 : len(typ)-1])
		if err == nil && count > 0 && len(value)%count == 0 {
			elementType := typ[:pos]
			elementSize := len(value) / count

			var b strings.Builder
			for i := 0; i < count; i++ {
				if i != 0 {
					b.WriteByte(' ')
				}
				fmt.Fprintf(&b, "[%d] ", i)
				b.WriteString(registerValueString(elementType, value[i*elementSize:(i+1)*elementSize]))
			}
			return b.String()
		}
	}
	return hexString(value)
}

// hexString renders a little-endian value most significant byte first.
func hexString(value []byte) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 0, 2*len(value))
	for i := len(value); i > 0; i-- {
		b = append(b, hexDigits[value[i-1]>>4], hexDigits[value[i-1]&0xf])
	}
	return string(b)
}

// printLocalMemory dumps the wave's local memory aperture in 4KiB chunks,
// eight 32-bit words per row, until a short read marks the end.
func (s *Session) printLocalMemory(id dbgapi.WaveID) {
	buf := make([]byte, 4096)
	base := uint64(0)
	for {
		n, err := s.proc.ReadLocalMemory(id, base, buf)
		if err != nil || n == 0 {
			break
		}
		n -= n % 4

		if base == 0 {
			fmt.Fprint(s.out, "\nLocal memory content:")
		}

		for i := 0; i < n/4; i++ {
			if i%8 == 0 {
				fmt.Fprintf(s.out, "\n    0x%04x:", base+uint64(i*4))
			}
			fmt.Fprintf(s.out, " %08x", binary.LittleEndian.Uint32(buf[i*4:]))
		}

		base += uint64(n)
		if n != len(buf) {
			break
		}
	}
	if base != 0 {
		fmt.Fprintln(s.out)
	}
}
