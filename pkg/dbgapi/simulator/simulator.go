// Package simulator provides a scriptable in-memory implementation of
// dbgapi.Process for tests. It models the event queue, the wave table, the
// notifier pipe and a flat view of target memory.
//
// The notifier is a real pipe so the session can wait on it with epoll.
package simulator

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
)

// Wave configures one simulated wave.
type Wave struct {
	ID         dbgapi.WaveID
	State      dbgapi.WaveState
	StopReason dbgapi.StopReason
	PC         uint64
	// Dispatch 0 means the dispatch was not captured (ErrNotAvailable).
	Dispatch     dbgapi.DispatchID
	Architecture string
	Registers    []dbgapi.RegisterClass
	LocalMemory  []byte

	// StopLatency is the number of wave list scans a stop request stays in
	// flight before the wave reports stopped. Zero stops immediately.
	StopLatency int
}

type simWave struct {
	Wave
	stopPending bool
	latency     int
}

type region struct {
	base uint64
	data []byte
}

// Process is a simulated debug API attachment.
type Process struct {
	mu sync.Mutex

	waves  []*simWave
	byID   map[dbgapi.WaveID]*simWave
	events []*dbgapi.Event
	nextEv dbgapi.EventID
	acked  map[dbgapi.EventID]bool

	regions    []region
	dispatches map[dbgapi.DispatchID]uint64
	objects    []dbgapi.CodeObjectInfo

	notifyR, notifyW int

	client     dbgapi.Client
	loaderAddr uint64
	bpID       dbgapi.BreakpointID

	// Observable side effects, for test assertions.
	Resumed        map[dbgapi.WaveID]dbgapi.Exception
	StopRequests   map[dbgapi.WaveID]int
	Progress       dbgapi.Progress
	WaveCreation   dbgapi.WaveCreation
	Precise        bool
	BreakpointHits []dbgapi.BreakpointID
	Detached       bool
}

// New creates a simulated process with the initial runtime-loaded event
// already queued, the way a real attachment presents itself.
func New() (*Process, error) {
	return newProcess(dbgapi.RuntimeLoaded)
}

// NewWithRuntimeState creates a simulated process whose initial runtime
// event carries the given state.
func NewWithRuntimeState(state dbgapi.RuntimeState) (*Process, error) {
	return newProcess(state)
}

func newProcess(state dbgapi.RuntimeState) (*Process, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("could not create notifier pipe: %v", err)
	}
	p := &Process{
		byID:         make(map[dbgapi.WaveID]*simWave),
		acked:        make(map[dbgapi.EventID]bool),
		dispatches:   make(map[dbgapi.DispatchID]uint64),
		notifyR:      fds[0],
		notifyW:      fds[1],
		loaderAddr:   0x4000,
		bpID:         1,
		Resumed:      make(map[dbgapi.WaveID]dbgapi.Exception),
		StopRequests: make(map[dbgapi.WaveID]int),
	}
	p.queueLocked(&dbgapi.Event{Kind: dbgapi.EventRuntime, Runtime: state})
	return p, nil
}

// Attach installs the client callbacks and places the loader breakpoint,
// mirroring what a real attach does. Returns p itself as the Process.
func (p *Process) Attach(client dbgapi.Client) (dbgapi.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	if err := client.InsertBreakpoint(p.loaderAddr, p.bpID); err != nil {
		return nil, err
	}
	return p, nil
}

// LoaderAddress is the address the loader breakpoint is placed at.
func (p *Process) LoaderAddress() uint64 { return p.loaderAddr }

// Close releases the notifier pipe.
func (p *Process) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notifyR != -1 {
		unix.Close(p.notifyR)
		unix.Close(p.notifyW)
		p.notifyR, p.notifyW = -1, -1
	}
}

// AddWave adds a wave to the wave table.
func (p *Process) AddWave(w Wave) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw := &simWave{Wave: w, latency: w.StopLatency}
	p.waves = append(p.waves, sw)
	p.byID[w.ID] = sw
}

// TerminateWave removes a wave. If report is set and a stop request was in
// flight, a wave-command-terminated event is queued, as the hardware does.
func (p *Process) TerminateWave(id dbgapi.WaveID, report bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, ok := p.byID[id]
	if !ok {
		return
	}
	delete(p.byID, id)
	for i, w := range p.waves {
		if w == sw {
			p.waves = append(p.waves[:i], p.waves[i+1:]...)
			break
		}
	}
	if report && sw.stopPending {
		p.queueLocked(&dbgapi.Event{Kind: dbgapi.EventWaveCommandTerminated, Wave: id})
	}
}

// QueueEvent appends an event to the queue and tickles the notifier.
func (p *Process) QueueEvent(ev dbgapi.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueLocked(&ev)
}

func (p *Process) queueLocked(ev *dbgapi.Event) {
	p.nextEv++
	ev.ID = p.nextEv
	p.events = append(p.events, ev)
	if p.notifyW != -1 {
		// Best effort; a full pipe still leaves earlier bytes unread.
		unix.Write(p.notifyW, []byte{0})
	}
}

// AddMemoryRegion makes data readable (and writable) at base in the
// simulated global address space.
func (p *Process) AddMemoryRegion(base uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regions = append(p.regions, region{base, data})
}

// AddCodeObject registers a loaded code object.
func (p *Process) AddCodeObject(info dbgapi.CodeObjectInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects = append(p.objects, info)
}

// SetDispatch records the kernel entry address of a dispatch.
func (p *Process) SetDispatch(id dbgapi.DispatchID, kernelEntry uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatches[id] = kernelEntry
}

// --- dbgapi.Process ---

func (p *Process) NextPendingEvent() (*dbgapi.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil, nil
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev, nil
}

func (p *Process) EventProcessed(ev *dbgapi.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acked[ev.ID] {
		return fmt.Errorf("event %d acknowledged twice", ev.ID)
	}
	p.acked[ev.ID] = true
	return nil
}

func (p *Process) Notifier() int { return p.notifyR }

// Waves lists the wave table. Each call also ages in-flight stop requests,
// standing in for the time the hardware takes to quiesce a wave.
func (p *Process) Waves() ([]dbgapi.WaveID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sw := range p.waves {
		if !sw.stopPending {
			continue
		}
		sw.latency--
		if sw.latency < 0 {
			sw.stopPending = false
			sw.State = dbgapi.WaveStopped
			p.queueLocked(&dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: sw.ID})
		}
	}
	ids := make([]dbgapi.WaveID, len(p.waves))
	for i, sw := range p.waves {
		ids[i] = sw.ID
	}
	return ids, nil
}

func (p *Process) wave(id dbgapi.WaveID) (*simWave, error) {
	sw, ok := p.byID[id]
	if !ok {
		return nil, dbgapi.ErrInvalidWaveID
	}
	return sw, nil
}

func (p *Process) WaveState(id dbgapi.WaveID) (dbgapi.WaveState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return 0, err
	}
	return sw.State, nil
}

func (p *Process) WaveStopReason(id dbgapi.WaveID) (dbgapi.StopReason, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return 0, err
	}
	return sw.StopReason, nil
}

func (p *Process) WavePC(id dbgapi.WaveID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return 0, err
	}
	return sw.PC, nil
}

func (p *Process) WaveDispatch(id dbgapi.WaveID) (dbgapi.DispatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return 0, err
	}
	if sw.Dispatch == 0 {
		return 0, dbgapi.ErrNotAvailable
	}
	return sw.Dispatch, nil
}

func (p *Process) WaveArchitecture(id dbgapi.WaveID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return "", err
	}
	return sw.Architecture, nil
}

func (p *Process) WaveRegisters(id dbgapi.WaveID) ([]dbgapi.RegisterClass, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return nil, err
	}
	classes := make([]dbgapi.RegisterClass, len(sw.Registers))
	for i, c := range sw.Registers {
		classes[i] = dbgapi.RegisterClass{Name: c.Name, Registers: append([]dbgapi.Register(nil), c.Registers...)}
	}
	return classes, nil
}

func (p *Process) ReadLocalMemory(id dbgapi.WaveID, base uint64, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return 0, err
	}
	if base >= uint64(len(sw.LocalMemory)) {
		return 0, fmt.Errorf("local memory read at 0x%x beyond aperture", base)
	}
	n := copy(buf, sw.LocalMemory[base:])
	return n, nil
}

func (p *Process) StopWave(id dbgapi.WaveID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return err
	}
	p.StopRequests[id]++
	if sw.State == dbgapi.WaveStopped {
		return nil
	}
	if sw.latency <= 0 {
		sw.State = dbgapi.WaveStopped
		p.queueLocked(&dbgapi.Event{Kind: dbgapi.EventWaveStop, Wave: id})
		return nil
	}
	sw.stopPending = true
	return nil
}

func (p *Process) ResumeWave(id dbgapi.WaveID, exc dbgapi.Exception) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sw, err := p.wave(id)
	if err != nil {
		return err
	}
	sw.State = dbgapi.WaveRunning
	sw.StopReason = dbgapi.StopReasonNone
	p.Resumed[id] = exc
	return nil
}

func (p *Process) DispatchKernelEntry(id dbgapi.DispatchID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.dispatches[id]
	if !ok {
		return 0, dbgapi.ErrNotAvailable
	}
	return entry, nil
}

func (p *Process) CodeObjects() ([]dbgapi.CodeObjectID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]dbgapi.CodeObjectID, len(p.objects))
	for i := range p.objects {
		ids[i] = dbgapi.CodeObjectID(i + 1)
	}
	return ids, nil
}

func (p *Process) CodeObjectInfo(id dbgapi.CodeObjectID) (dbgapi.CodeObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := int(id) - 1
	if i < 0 || i >= len(p.objects) {
		return dbgapi.CodeObjectInfo{}, dbgapi.ErrInvalidCodeObjectID
	}
	return p.objects[i], nil
}

func (p *Process) SetProgress(mode dbgapi.Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Progress = mode
	return nil
}

func (p *Process) SetWaveCreation(mode dbgapi.WaveCreation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WaveCreation = mode
	return nil
}

func (p *Process) SetMemoryPrecision(precise bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Precise = precise
	return nil
}

func (p *Process) ReportBreakpointHit(id dbgapi.BreakpointID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id != p.bpID {
		return fmt.Errorf("unknown breakpoint %d", id)
	}
	p.BreakpointHits = append(p.BreakpointHits, id)
	return nil
}

func (p *Process) Memory() dbgapi.MemoryReadWriter { return (*simMemory)(p) }

func (p *Process) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Detached = true
	return nil
}

// simMemory serves reads and writes from the configured regions.
type simMemory Process

func (m *simMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	p := (*Process)(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(buf) == 0 {
		return 0, fmt.Errorf("zero-length read at 0x%x", addr)
	}
	for _, r := range p.regions {
		if addr >= r.base && addr < r.base+uint64(len(r.data)) {
			n := copy(buf, r.data[addr-r.base:])
			return n, nil
		}
	}
	return 0, fmt.Errorf("cannot access memory at 0x%x", addr)
}

func (m *simMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	p := (*Process)(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(data) == 0 {
		return 0, fmt.Errorf("zero-length write at 0x%x", addr)
	}
	for _, r := range p.regions {
		if addr >= r.base && addr < r.base+uint64(len(r.data)) {
			n := copy(r.data[addr-r.base:], data)
			return n, nil
		}
	}
	return 0, fmt.Errorf("cannot access memory at 0x%x", addr)
}
