package agent

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavedbg/wavedbg/pkg/config"
	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/dbgapi/simulator"
)

func TestRendezvousSingleFlight(t *testing.T) {
	var slot rendezvousSlot

	done := slot.arm()
	require.Panics(t, func() { slot.arm() }, "a second in-flight request must be rejected")

	slot.complete()
	<-done
	slot.disarm()

	require.Panics(t, func() { slot.complete() }, "completion with no request armed must be rejected")

	// the slot is reusable after disarm
	done = slot.arm()
	slot.complete()
	<-done
	slot.disarm()
}

func TestSessionRuntimeRestricted(t *testing.T) {
	sim, err := simulator.NewWithRuntimeState(dbgapi.RuntimeRestricted)
	require.NoError(t, err)
	defer sim.Close()

	sess := New(sim, nil, &config.Config{}, io.Discard)
	require.ErrorIs(t, sess.Start(), dbgapi.ErrRestriction)
}

// loadedObject places a code object image in the simulated address space at
// its load address and registers it, returning the load address of its text.
func loadedObject(sim *simulator.Process, load uint64, syms []simulator.Symbol) uint64 {
	text := make([]byte, 64)
	for i := range text {
		text[i] = 0x90 // nop
	}
	image, textOff := simulator.BuildELF(text, syms)
	sim.AddMemoryRegion(load, image)
	sim.AddCodeObject(dbgapi.CodeObjectInfo{
		LoadAddress: load,
		URI:         fmt.Sprintf("memory://1#offset=0x%x&size=%d", load, len(image)),
	})
	return load + textOff
}

func TestKernelFilter(t *testing.T) {
	sim, sess, out := testSession(t, &config.Config{KernelFilter: "vector_"})

	entry := loadedObject(sim, 0x7f0000, []simulator.Symbol{
		{Name: "vector_add", Value: 0, Size: 32},
		{Name: "scalar_mul", Value: 32, Size: 32},
	})

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: entry + 4, Architecture: "amd64"})
	sim.AddWave(simulator.Wave{ID: 2, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: entry + 36, Architecture: "amd64"})

	sess.printWaves(false)

	report := out.String()
	require.Contains(t, report, "wave_1:")
	require.NotContains(t, report, "wave_2:")
}

func TestSessionEndToEnd(t *testing.T) {
	sim, err := simulator.New()
	require.NoError(t, err)
	defer sim.Close()

	const load = 0x7f0000
	entry := loadedObject(sim, load, []simulator.Symbol{{Name: "vector_add", Value: 0, Size: 64}})
	sim.SetDispatch(7, entry)

	pc := entry + 8
	sim.AddWave(simulator.Wave{
		ID:           1,
		State:        dbgapi.WaveStopped,
		StopReason:   dbgapi.StopReasonMemoryViolation,
		PC:           pc,
		Dispatch:     7,
		Architecture: "amd64",
		Registers: []dbgapi.RegisterClass{
			{Name: "general", Registers: []dbgapi.Register{
				{Name: "pc", Type: "uint64", Value: []byte{8, 0, 0, 0, 0, 0, 0, 0}},
			}},
			{Name: "vector", Registers: []dbgapi.Register{
				{Name: "v0", Type: "uint32[2]", Value: []byte{1, 0, 0, 0, 2, 0, 0, 0}},
			}},
		},
		LocalMemory: []byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4},
	})
	// created before attach, its dispatch was not captured
	sim.AddWave(simulator.Wave{ID: 2, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: 0x9999, Architecture: "amd64"})
	sim.AddWave(simulator.Wave{ID: 3, State: dbgapi.WaveRunning, PC: 0x12345, Architecture: "amd64", StopLatency: 2})

	client := NewAttachClient(sim.Memory(), io.Discard)
	proc, err := sim.Attach(client)
	require.NoError(t, err)

	var out bytes.Buffer
	sess := New(proc, client, &config.Config{}, &out)
	require.NoError(t, sess.Start())

	sess.RequestReport()
	sess.RefreshCodeObjects()
	sess.Stop()

	require.True(t, sim.Detached)
	require.Len(t, sim.BreakpointHits, 1)

	report := out.String()
	require.Contains(t, report,
		fmt.Sprintf("wave_1: pc=0x%x (kernel_code_entry=0x%x <vector_add>) (stopped, reason: MEMORY_VIOLATION)", pc, entry))
	require.Contains(t, report, "[0] 00000001 [1] 00000002")
	require.Contains(t, report, "Local memory content:")
	require.Contains(t, report, "0x0000: efbeadde 04030201")
	require.Contains(t, report, "Disassembly for function vector_add:")
	require.Contains(t, report, fmt.Sprintf(" => 0x%x", pc))
	require.Contains(t, report, "nop")

	// the "general" class is printed after every other class
	require.Less(t, strings.Index(report, "vector registers:"), strings.Index(report, "general registers:"))

	require.Contains(t, report, "kernel_code_entry=not available")
	require.Contains(t, report, "No code object contains pc 0x9999")

	// wave 3 was stopped by request, it has no stop reason
	require.GreaterOrEqual(t, sim.StopRequests[3], 1)
	require.Contains(t, report, "wave_3: pc=0x12345 (kernel_code_entry=not available) (running)")
}
