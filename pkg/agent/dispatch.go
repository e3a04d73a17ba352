package agent

import (
	"errors"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
)

// processEvents exhausts the attachment's event queue and acts on it.
//
// A wave that stopped only on a debug trap is silently resumed. Any other
// stop reason, and queue errors, trigger a reporting pass. Waves are
// resumed only after the queue is fully drained and the report has run, so
// that the report sees a quiesced snapshot; forward progress and wave
// creation are suspended for the duration.
func (s *Session) processEvents() {
	log := logflags.EventsLogger()

	needReport := false
	needResume := false
	for {
		ev, err := s.proc.NextPendingEvent()
		if err != nil {
			log.Errorf("could not fetch pending event: %v", err)
			return
		}
		if ev == nil {
			break
		}
		log.Debugf("event %d: %v", ev.ID, ev.Kind)

		switch ev.Kind {
		case dbgapi.EventWaveStop:
			reason, err := s.proc.WaveStopReason(ev.Wave)
			switch {
			case errors.Is(err, dbgapi.ErrInvalidWaveID):
				// the wave is already gone
			case err != nil:
				log.Errorf("could not fetch stop reason of wave_%d: %v", ev.Wave, err)
			case reason == dbgapi.StopReasonDebugTrap:
				needResume = true
			default:
				needReport = true
			}

		case dbgapi.EventQueueError:
			needReport = true

		case dbgapi.EventRuntime, dbgapi.EventCodeObjectListUpdated, dbgapi.EventBreakpointResume:
			// ignore

		default:
			log.Warnf("unexpected event kind %v", ev.Kind)
		}

		if err := s.proc.EventProcessed(ev); err != nil {
			log.Errorf("could not acknowledge event %d: %v", ev.ID, err)
			return
		}
	}

	if !needReport && !needResume {
		return
	}

	s.setMode(dbgapi.ProgressNoForward, dbgapi.WaveCreationStop)

	if needReport {
		s.printWaves(s.cfg.AllWavefronts)
	}

	s.resumeStoppedWaves()

	s.setMode(dbgapi.ProgressNormal, dbgapi.WaveCreationNormal)
}

func (s *Session) setMode(progress dbgapi.Progress, creation dbgapi.WaveCreation) {
	if err := s.proc.SetProgress(progress); err != nil {
		s.log.Errorf("could not set progress mode: %v", err)
	}
	if err := s.proc.SetWaveCreation(creation); err != nil {
		s.log.Errorf("could not set wave creation mode: %v", err)
	}
}

// resumeStoppedWaves resumes every stopped wave, converting its stop reason
// into the exceptions to deliver to the target runtime.
func (s *Session) resumeStoppedWaves() {
	log := logflags.EventsLogger()

	waves, err := s.proc.Waves()
	if err != nil {
		log.Errorf("could not list waves: %v", err)
		return
	}

	for _, id := range waves {
		state, err := s.proc.WaveState(id)
		if errors.Is(err, dbgapi.ErrInvalidWaveID) {
			continue
		}
		if err != nil {
			log.Errorf("could not fetch state of wave_%d: %v", id, err)
			continue
		}
		if state != dbgapi.WaveStopped {
			continue
		}

		reason, err := s.proc.WaveStopReason(id)
		if errors.Is(err, dbgapi.ErrInvalidWaveID) {
			continue
		}
		if err != nil {
			log.Errorf("could not fetch stop reason of wave_%d: %v", id, err)
			continue
		}

		exc := dbgapi.ResumeExceptions(reason)
		log.Debugf("resuming wave_%d with exceptions %#x", id, exc)
		if err := s.proc.ResumeWave(id, exc); err != nil && !errors.Is(err, dbgapi.ErrInvalidWaveID) {
			log.Errorf("could not resume wave_%d: %v", id, err)
		}
	}
}
