package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/dbgapi/simulator"
)

func TestStopAllWavesConvergence(t *testing.T) {
	sim, sess, _ := testSession(t, nil)

	sim.AddWave(simulator.Wave{ID: 1, State: dbgapi.WaveStopped, StopReason: dbgapi.StopReasonTrap})
	// takes several rounds to quiesce
	sim.AddWave(simulator.Wave{ID: 2, State: dbgapi.WaveRunning, StopLatency: 3})
	// stops on the first request
	sim.AddWave(simulator.Wave{ID: 3, State: dbgapi.WaveRunning})
	sim.AddWave(simulator.Wave{ID: 4, State: dbgapi.WaveSingleStepping})

	sess.stopAllWaves()

	require.Zero(t, sim.StopRequests[1], "already stopped wave must not be stopped again")
	require.Equal(t, 1, sim.StopRequests[2], "one stop request per wave")
	require.Equal(t, 1, sim.StopRequests[3])
	require.Zero(t, sim.StopRequests[4], "single-stepping wave must be left alone")

	for _, id := range []dbgapi.WaveID{1, 2, 3} {
		state, err := sim.WaveState(id)
		require.NoError(t, err)
		require.Equal(t, dbgapi.WaveStopped, state, "wave_%d", id)
	}
	state, err := sim.WaveState(4)
	require.NoError(t, err)
	require.Equal(t, dbgapi.WaveSingleStepping, state)
}

func TestStopAllWaveTerminatesWhileStopping(t *testing.T) {
	sim, sess, _ := testSession(t, nil)

	// a stop request was in flight when the wave terminated; the pending
	// wave-command-terminated event must not confuse the stopper
	sim.AddWave(simulator.Wave{ID: 5, State: dbgapi.WaveRunning, StopLatency: 3})
	require.NoError(t, sim.StopWave(5))
	sim.TerminateWave(5, true)

	sim.AddWave(simulator.Wave{ID: 6, State: dbgapi.WaveRunning, StopLatency: 1})

	sess.stopAllWaves()

	require.Equal(t, 1, sim.StopRequests[5])
	require.Equal(t, 1, sim.StopRequests[6])
	state, err := sim.WaveState(6)
	require.NoError(t, err)
	require.Equal(t, dbgapi.WaveStopped, state)
}
