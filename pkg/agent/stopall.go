package agent

import (
	"errors"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
)

// stopAllWaves brings every wave to a stop before a full report. It loops
// rounds of draining stop/termination events and scanning the wave list,
// sending stop requests to waves still running, until no request is left
// outstanding at the end of a round.
//
// Waves can take several rounds to quiesce and new waves can appear while
// stopping (wave creation is only suspended by the caller); there is no
// round bound. Single-stepping waves are left alone, they stop and report
// on their own once the instruction completes. A wave that vanishes at any
// step simply terminated, its stop request dies with it.
func (s *Session) stopAllWaves() {
	log := logflags.StopperLogger()

	stopped := make(map[dbgapi.WaveID]struct{})
	waiting := make(map[dbgapi.WaveID]struct{})

	log.Debug("stopping all wavefronts")
	for round := 0; ; round++ {
		log.Debugf("round %d: %d stop requests outstanding", round, len(waiting))

		for {
			ev, err := s.proc.NextPendingEvent()
			if err != nil {
				log.Errorf("could not fetch pending event: %v", err)
				return
			}
			if ev == nil {
				break
			}

			switch ev.Kind {
			case dbgapi.EventWaveStop:
				delete(waiting, ev.Wave)
				stopped[ev.Wave] = struct{}{}
				log.Debugf("wave_%d is stopped", ev.Wave)
			case dbgapi.EventWaveCommandTerminated:
				delete(waiting, ev.Wave)
				log.Debugf("wave_%d terminated while stopping", ev.Wave)
			}

			if err := s.proc.EventProcessed(ev); err != nil {
				log.Errorf("could not acknowledge event %d: %v", ev.ID, err)
				return
			}
		}

		waves, err := s.proc.Waves()
		if err != nil {
			log.Errorf("could not list waves: %v", err)
			return
		}

		for _, id := range waves {
			if _, ok := stopped[id]; ok {
				continue
			}
			if _, ok := waiting[id]; ok {
				log.Debugf("wave_%d is still stopping", id)
				continue
			}

			state, err := s.proc.WaveState(id)
			if errors.Is(err, dbgapi.ErrInvalidWaveID) {
				continue
			}
			if err != nil {
				log.Errorf("could not fetch state of wave_%d: %v", id, err)
				continue
			}

			switch state {
			case dbgapi.WaveStopped:
				stopped[id] = struct{}{}
				log.Debugf("wave_%d is already stopped", id)
			case dbgapi.WaveSingleStepping:
				log.Debugf("wave_%d is single-stepping", id)
			default:
				err := s.proc.StopWave(id)
				if errors.Is(err, dbgapi.ErrInvalidWaveID) {
					continue
				}
				if err != nil {
					log.Errorf("could not stop wave_%d: %v", id, err)
					continue
				}
				log.Debugf("wave_%d is running, sent stop request", id)
				waiting[id] = struct{}{}
			}
		}

		if len(waiting) == 0 {
			break
		}
	}
	log.Debug("all wavefronts are stopped")
}
