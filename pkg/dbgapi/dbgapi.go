// Package dbgapi defines the surface of the accelerator debug API
// attachment: the handles, states and events the session observes, and the
// Process interface through which all introspection and control happens.
//
// All methods of Process must be called from a single goroutine (the
// session goroutine); the attachment is not thread-safe.
package dbgapi

import "errors"

// Handles for the objects exposed by the attachment. They identify
// hardware-owned entities; the engine only observes them.
type (
	ProcessID    uint64
	WaveID       uint64
	DispatchID   uint64
	CodeObjectID uint64
	BreakpointID uint64
	EventID      uint64
)

var (
	// ErrInvalidWaveID is returned by wave queries when the wave terminated
	// between enumeration and use. Callers treat it as "already gone".
	ErrInvalidWaveID = errors.New("invalid wave id")
	// ErrInvalidCodeObjectID is the code object counterpart of ErrInvalidWaveID.
	ErrInvalidCodeObjectID = errors.New("invalid code object id")
	// ErrNotAvailable is returned when an attribute was not captured by the
	// hardware, e.g. the dispatch of a wave created before attach.
	ErrNotAvailable = errors.New("not available")
	// ErrNotSupported is returned by SetMemoryPrecision when at least one
	// agent of the process cannot honor the request.
	ErrNotSupported = errors.New("not supported")
	// ErrRestriction is reported through the initial runtime event when the
	// runtime cannot be debugged.
	ErrRestriction = errors.New("unable to enable debugging due to a restriction error")
)

// WaveState is the scheduling state of a wave.
type WaveState uint8

const (
	WaveRunning WaveState = iota
	WaveStopped
	WaveSingleStepping
)

func (s WaveState) String() string {
	switch s {
	case WaveRunning:
		return "running"
	case WaveStopped:
		return "stopped"
	case WaveSingleStepping:
		return "single-stepping"
	}
	return "unknown"
}

// RuntimeState is the payload of the initial runtime event.
type RuntimeState uint8

const (
	RuntimeLoaded RuntimeState = iota
	RuntimeUnloaded
	RuntimeRestricted
)

// EventKind classifies a pending event.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventWaveStop
	EventWaveCommandTerminated
	EventQueueError
	EventRuntime
	EventCodeObjectListUpdated
	EventBreakpointResume
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventWaveStop:
		return "wave-stop"
	case EventWaveCommandTerminated:
		return "wave-command-terminated"
	case EventQueueError:
		return "queue-error"
	case EventRuntime:
		return "runtime"
	case EventCodeObjectListUpdated:
		return "code-object-list-updated"
	case EventBreakpointResume:
		return "breakpoint-resume"
	}
	return "unknown"
}

// Event is one debug API notification. Events are consumed one at a time
// from a FIFO queue and must be acknowledged with EventProcessed before the
// attachment makes forward progress on the entity that reported them.
type Event struct {
	ID   EventID
	Kind EventKind

	// Wave is set for wave-stop and wave-command-terminated events.
	Wave WaveID
	// Runtime is set for runtime events.
	Runtime RuntimeState
}

// Progress controls whether the attachment lets the target make forward
// progress while the session inspects it.
type Progress uint8

const (
	ProgressNormal Progress = iota
	ProgressNoForward
)

// WaveCreation controls whether newly created waves start running or
// stopped.
type WaveCreation uint8

const (
	WaveCreationNormal WaveCreation = iota
	WaveCreationStop
)

// CodeObjectInfo describes one loaded binary image.
type CodeObjectInfo struct {
	LoadAddress uint64
	URI         string
}

// Register is one named machine register of a wave, with its raw value.
// Type is the register's type encoding; vector types are written as
// "elementtype[count]".
type Register struct {
	Name  string
	Type  string
	Value []byte
}

// RegisterClass groups the registers of an architecture, e.g. "scalar",
// "vector", "general". A register may be a member of several classes.
type RegisterClass struct {
	Name      string
	Registers []Register
}

// Process is the debug API attachment to one target process.
//
// Wave queries return ErrInvalidWaveID when the wave vanished after it was
// listed; this is an expected race, not a failure.
type Process interface {
	// NextPendingEvent pops the next event from the queue, or returns nil
	// when the queue is empty.
	NextPendingEvent() (*Event, error)
	// EventProcessed acknowledges an event returned by NextPendingEvent.
	EventProcessed(*Event) error
	// Notifier returns a file descriptor that becomes readable whenever
	// events are pending.
	Notifier() int

	Waves() ([]WaveID, error)
	WaveState(WaveID) (WaveState, error)
	WaveStopReason(WaveID) (StopReason, error)
	WavePC(WaveID) (uint64, error)
	// WaveDispatch returns ErrNotAvailable if the dispatch was not captured
	// when the wave was created.
	WaveDispatch(WaveID) (DispatchID, error)
	WaveArchitecture(WaveID) (string, error)
	WaveRegisters(WaveID) ([]RegisterClass, error)
	// ReadLocalMemory reads the wave's local memory aperture starting at
	// base. A short read means the end of the aperture was reached.
	ReadLocalMemory(wave WaveID, base uint64, buf []byte) (int, error)

	StopWave(WaveID) error
	ResumeWave(WaveID, Exception) error

	DispatchKernelEntry(DispatchID) (uint64, error)

	CodeObjects() ([]CodeObjectID, error)
	CodeObjectInfo(CodeObjectID) (CodeObjectInfo, error)

	SetProgress(Progress) error
	SetWaveCreation(WaveCreation) error
	SetMemoryPrecision(precise bool) error

	// ReportBreakpointHit acknowledges a loader breakpoint hit, letting the
	// target's loader continue past the rendezvous.
	ReportBreakpointHit(BreakpointID) error

	// Memory gives access to the target's global address space.
	Memory() MemoryReadWriter

	Detach() error
}

// Client is the callback surface the attachment needs from its host: where
// breakpoints physically go, how target memory is transferred, and where
// attachment-internal messages are logged. It is injected at attach time;
// implementations must be safe to call from any thread.
type Client interface {
	InsertBreakpoint(addr uint64, id BreakpointID) error
	RemoveBreakpoint(id BreakpointID) error
	Memory() MemoryReadWriter
	LogMessage(level, message string)
}

// ErrNoBackend is returned by Attach when no accelerator debug backend has
// been registered in this build.
var ErrNoBackend = errors.New("no accelerator debug backend is available")

// AttachFunc attaches to the accelerator state of the current process.
type AttachFunc func(Client) (Process, error)

var backend AttachFunc

// RegisterBackend installs the platform attach function. Called from an
// init function of the backend package.
func RegisterBackend(fn AttachFunc) {
	backend = fn
}

// Attach connects to the accelerator debug state of the target using the
// registered backend.
func Attach(client Client) (Process, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	return backend(client)
}
