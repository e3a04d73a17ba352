package dbgapi

import "strings"

// StopReason is a bitmask of the reasons a wave stopped. A wave may stop
// for several reasons at once.
type StopReason uint32

const (
	StopReasonBreakpoint StopReason = 1 << iota
	StopReasonWatchpoint
	StopReasonSingleStep
	StopReasonFPInputDenormal
	StopReasonFPDivideBy0
	StopReasonFPOverflow
	StopReasonFPUnderflow
	StopReasonFPInexact
	StopReasonFPInvalidOperation
	StopReasonIntDivideBy0
	StopReasonDebugTrap
	StopReasonAssertTrap
	StopReasonTrap
	StopReasonMemoryViolation
	StopReasonAddressError
	StopReasonIllegalInstruction
	StopReasonECCError
	StopReasonFatalHalt

	StopReasonNone StopReason = 0
)

var stopReasonNames = map[StopReason]string{
	StopReasonBreakpoint:         "BREAKPOINT",
	StopReasonWatchpoint:         "WATCHPOINT",
	StopReasonSingleStep:         "SINGLE_STEP",
	StopReasonFPInputDenormal:    "FP_INPUT_DENORMAL",
	StopReasonFPDivideBy0:        "FP_DIVIDE_BY_0",
	StopReasonFPOverflow:         "FP_OVERFLOW",
	StopReasonFPUnderflow:        "FP_UNDERFLOW",
	StopReasonFPInexact:          "FP_INEXACT",
	StopReasonFPInvalidOperation: "FP_INVALID_OPERATION",
	StopReasonIntDivideBy0:       "INT_DIVIDE_BY_0",
	StopReasonDebugTrap:          "DEBUG_TRAP",
	StopReasonAssertTrap:         "ASSERT_TRAP",
	StopReasonTrap:               "TRAP",
	StopReasonMemoryViolation:    "MEMORY_VIOLATION",
	StopReasonAddressError:       "ADDRESS_ERROR",
	StopReasonIllegalInstruction: "ILLEGAL_INSTRUCTION",
	StopReasonECCError:           "ECC_ERROR",
	StopReasonFatalHalt:          "FATAL_HALT",
}

// String renders the mask by peeling one set bit at a time, joining the
// reason names with "|".
func (r StopReason) String() string {
	if r == StopReasonNone {
		return "NONE"
	}
	var parts []string
	for bits := r; bits != 0; {
		one := bits ^ (bits & (bits - 1))
		bits ^= one
		if name, ok := stopReasonNames[one]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, "UNKNOWN")
		}
	}
	return strings.Join(parts, "|")
}

// Exception is a bitmask of the exceptions synthesized when a stopped wave
// is resumed, letting the runtime act on the condition that stopped it.
type Exception uint32

const (
	ExceptionWaveTrap Exception = 1 << iota
	ExceptionWaveMathError
	ExceptionWaveMemoryViolation
	ExceptionWaveAddressError
	ExceptionWaveIllegalInstruction
	ExceptionWaveAbort

	ExceptionNone Exception = 0
)

var exceptionNames = map[Exception]string{
	ExceptionWaveTrap:               "WAVE_TRAP",
	ExceptionWaveMathError:          "WAVE_MATH_ERROR",
	ExceptionWaveMemoryViolation:    "WAVE_MEMORY_VIOLATION",
	ExceptionWaveAddressError:       "WAVE_ADDRESS_ERROR",
	ExceptionWaveIllegalInstruction: "WAVE_ILLEGAL_INSTRUCTION",
	ExceptionWaveAbort:              "WAVE_ABORT",
}

func (e Exception) String() string {
	if e == ExceptionNone {
		return "NONE"
	}
	var parts []string
	for bits := e; bits != 0; {
		one := bits ^ (bits & (bits - 1))
		bits ^= one
		if name, ok := exceptionNames[one]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, "UNKNOWN")
		}
	}
	return strings.Join(parts, "|")
}

// ResumeExceptions maps a stop reason mask to the exception mask a wave is
// resumed with. Each reason bit contributes independently:
//
//	breakpoint, watchpoint, assert-trap, trap  -> wave-trap
//	fp-*, int-div0                             -> wave-math-error
//	memory-violation                           -> wave-memory-violation
//	address-error                              -> wave-address-error
//	illegal-instruction                        -> wave-illegal-instruction
//	ecc-error, fatal-halt                      -> wave-abort
//	debug-trap, single-step                    -> none
func ResumeExceptions(reason StopReason) Exception {
	var exc Exception
	for bits := reason; bits != 0; {
		one := bits ^ (bits & (bits - 1))
		bits ^= one

		switch one {
		case StopReasonBreakpoint, StopReasonWatchpoint, StopReasonAssertTrap, StopReasonTrap:
			exc |= ExceptionWaveTrap
		case StopReasonFPInputDenormal, StopReasonFPDivideBy0, StopReasonFPOverflow,
			StopReasonFPUnderflow, StopReasonFPInexact, StopReasonFPInvalidOperation,
			StopReasonIntDivideBy0:
			exc |= ExceptionWaveMathError
		case StopReasonMemoryViolation:
			exc |= ExceptionWaveMemoryViolation
		case StopReasonAddressError:
			exc |= ExceptionWaveAddressError
		case StopReasonIllegalInstruction:
			exc |= ExceptionWaveIllegalInstruction
		case StopReasonECCError, StopReasonFatalHalt:
			exc |= ExceptionWaveAbort
		case StopReasonDebugTrap, StopReasonSingleStep:
			// Silent reasons carry no exception.
		}
	}
	return exc
}
