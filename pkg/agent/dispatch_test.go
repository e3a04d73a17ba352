package agent

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavedbg/wavedbg/pkg/config"
	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/dbgapi/simulator"
)

// testSession builds a session around a simulated attachment without
// starting the session goroutine, for tests that drive it directly.
func testSession(t *testing.T, cfg *config.Config) (*simulator.Process, *Session, *bytes.Buffer) {
	t.Helper()
	sim, err := simulator.New()
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	if cfg == nil {
		cfg = &config.Config{}
	}
	var out bytes.Buffer
	return sim, New(sim, nil, cfg, &out), &out
}

func TestProcessEventsDebugTrapResumes(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonDebugTrap, PC: 0x100})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: 1})

	sess.processEvents()

	require.Empty(t, out.String(), "a debug trap stop must not produce a report")
	require.Contains(t, sim.Resumed, dbgapi.WaveID(1))
	require.Equal(t, dbgapi.ExceptionNone, sim.Resumed[1])
	require.Equal(t, dbgapi.ProgressNormal, sim.Progress)
	require.Equal(t, dbgapi.WaveCreationNormal, sim.WaveCreation)
}

func TestProcessEventsFaultReportsAndResumes(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonMemoryViolation, PC: 0x100})
	sim.AddWave(simulator.Wave{ID: 2, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonBreakpoint | dbgapi.StopReasonFPOverflow, PC: 0x200})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: 1})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: 2})

	sess.processEvents()

	report := out.String()
	require.Contains(t, report, "wave_1: pc=0x100")
	require.Contains(t, report, "(stopped, reason: MEMORY_VIOLATION)")
	require.Contains(t, report, "wave_2: pc=0x200")
	require.Contains(t, report, "(stopped, reason: BREAKPOINT|FP_OVERFLOW)")

	require.Equal(t, dbgapi.ExceptionWaveMemoryViolation, sim.Resumed[1])
	require.Equal(t, dbgapi.ExceptionWaveTrap|dbgapi.ExceptionWaveMathError, sim.Resumed[2])
	require.Equal(t, dbgapi.ProgressNormal, sim.Progress)
	require.Equal(t, dbgapi.WaveCreationNormal, sim.WaveCreation)
}

func TestProcessEventsQueueError(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: 0x100})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventQueueError})

	sess.processEvents()

	require.Contains(t, out.String(), "wave_1: pc=0x100")
	require.Equal(t, dbgapi.ExceptionWaveTrap, sim.Resumed[1])
}

func TestProcessEventsIgnoredKinds(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: 0x100})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventCodeObjectListUpdated})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventBreakpointResume})

	sess.processEvents()

	require.Empty(t, out.String())
	require.Empty(t, sim.Resumed)
}

func TestProcessEventsBreakpointWithTwoObjects(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	entryA := loadedObject(sim, 0x100000, []simulator.Symbol{{Name: "kernel_fill", Value: 0, Size: 64}})
	loadedObject(sim, 0x200000, []simulator.Symbol{{Name: "kernel_reduce", Value: 0, Size: 64}})
	sim.SetDispatch(9, entryA)

	pc := entryA + 4
	sim.AddWave(simulator.Wave{
		ID:           1,
		State:        dbgapi.WaveStopped,
		StopReason:   dbgapi.StopReasonBreakpoint,
		PC:           pc,
		Dispatch:     9,
		Architecture: "amd64",
	})
	sim.AddWave(simulator.Wave{ID: 2, State: dbgapi.WaveRunning, PC: 0x12345, Architecture: "amd64"})
	sim.AddWave(simulator.Wave{ID: 3, State: dbgapi.WaveRunning, PC: 0x23456, Architecture: "amd64"})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: 1})

	sess.processEvents()

	report := out.String()
	require.Contains(t, report,
		fmt.Sprintf("wave_1: pc=0x%x (kernel_code_entry=0x%x <kernel_fill>) (stopped, reason: BREAKPOINT)", pc, entryA))
	require.Contains(t, report, "Disassembly for function kernel_fill:")
	require.NotContains(t, report, "kernel_reduce")
	require.NotContains(t, report, "wave_2:")
	require.NotContains(t, report, "wave_3:")

	require.Equal(t, map[dbgapi.WaveID]dbgapi.Exception{1: dbgapi.ExceptionWaveTrap}, sim.Resumed)
	require.Empty(t, sim.StopRequests)
	require.Equal(t, dbgapi.ProgressNormal, sim.Progress)
	require.Equal(t, dbgapi.WaveCreationNormal, sim.WaveCreation)
}

func TestProcessEventsVanishedWave(t *testing.T) {
	sim, sess, out := testSession(t, nil)

	// the wave terminated after its stop event was queued
	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap, PC: 0x100})
	sim.QueueEvent(dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: 1})
	sim.TerminateWave(1, false)

	sess.processEvents()

	require.Empty(t, out.String())
	require.Empty(t, sim.Resumed)
}
