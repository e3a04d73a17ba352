// Package agent implements the wavefront debug session: a single goroutine
// that owns the debug API attachment, multiplexes its event notifier with a
// command pipe, and produces wavefront reports on demand or when a wave
// stops on an exception.
package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/wavedbg/wavedbg/pkg/codeobj"
	"github.com/wavedbg/wavedbg/pkg/config"
	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
)

// Commands written to the session's command pipe, one byte each.
const (
	cmdPrintWaves    = 'p'
	cmdQuit          = 'q'
	cmdRefreshRendez = 'b'
)

// Session drives one debug API attachment. All Process calls happen on the
// goroutine started by Start; the exported methods only write single-byte
// commands to a pipe that goroutine polls alongside the attachment's event
// notifier.
type Session struct {
	proc   dbgapi.Process
	client *AttachClient
	cfg    *config.Config
	out    io.Writer
	log    *logrus.Entry

	cmdR, cmdW int
	epfd       int

	src     *codeobj.SourceCache
	refresh rendezvousSlot

	// reportMu makes the reporting pass non-reentrant, contended report
	// requests are dropped.
	reportMu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
}

func New(proc dbgapi.Process, client *AttachClient, cfg *config.Config, out io.Writer) *Session {
	if out == nil {
		out = os.Stderr
	}
	return &Session{
		proc:   proc,
		client: client,
		cfg:    cfg,
		out:    out,
		log:    logflags.SessionLogger(),
		src:    codeobj.NewSourceCache(),
		done:   make(chan struct{}),
	}
}

// Start spawns the session goroutine and blocks until it has consumed the
// initial runtime event and entered its polling loop. A restricted or
// unloaded runtime is a fatal attach error.
func (s *Session) Start() error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("could not create command pipe: %v", err)
	}
	s.cmdR, s.cmdW = fds[0], fds[1]

	ready := make(chan error, 1)
	go s.run(ready)
	if err := <-ready; err != nil {
		unix.Close(s.cmdR)
		unix.Close(s.cmdW)
		return err
	}
	return nil
}

func (s *Session) run(ready chan<- error) {
	defer close(s.done)

	if err := s.checkRuntime(); err != nil {
		ready <- err
		return
	}

	if s.cfg.PreciseMemory {
		switch err := s.proc.SetMemoryPrecision(true); {
		case errors.Is(err, dbgapi.ErrNotSupported):
			s.log.Warn("precise memory is not supported for all the agents of this process")
		case err != nil:
			ready <- fmt.Errorf("could not enable precise memory: %v", err)
			return
		}
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		ready <- fmt.Errorf("could not create epoll instance: %v", err)
		return
	}
	s.epfd = epfd
	defer unix.Close(epfd)

	for _, fd := range []int{s.cmdR, s.proc.Notifier()} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			ready <- fmt.Errorf("could not register fd %d with epoll: %v", fd, err)
			return
		}
	}

	ready <- nil
	s.log.Debug("session started")
	s.loop()

	if err := s.proc.Detach(); err != nil {
		s.log.Errorf("detach failed: %v", err)
	}
	s.log.Debug("session stopped")
}

// checkRuntime consumes the runtime event queued by the attachment.
func (s *Session) checkRuntime() error {
	ev, err := s.proc.NextPendingEvent()
	if err != nil {
		return err
	}
	if ev == nil || ev.Kind != dbgapi.EventRuntime {
		return fmt.Errorf("expected a runtime event, got %v", ev)
	}
	defer s.proc.EventProcessed(ev)

	switch ev.Runtime {
	case dbgapi.RuntimeLoaded:
		return nil
	case dbgapi.RuntimeRestricted:
		return dbgapi.ErrRestriction
	default:
		return fmt.Errorf("invalid runtime state %d", ev.Runtime)
	}
}

func (s *Session) loop() {
	notifier := s.proc.Notifier()
	events := make([]unix.EpollEvent, 2)

	for running := true; running; {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			s.log.Errorf("epoll_wait failed: %v", err)
			return
		}

		for i := 0; i < n; i++ {
			switch fd := int(events[i].Fd); fd {
			case s.cmdR:
				cmd, ok := readByte(fd)
				if !ok {
					continue
				}
				s.log.Debugf("command %q", cmd)
				switch cmd {
				case cmdPrintWaves:
					s.printWaves(true)
				case cmdQuit:
					running = false
				case cmdRefreshRendez:
					s.acknowledgeRefresh()
				}
			case notifier:
				drainFd(fd)
				s.processEvents()
			default:
				s.log.Errorf("unknown file descriptor %d", fd)
			}
		}
	}
}

// acknowledgeRefresh reports a hit on the loader rendezvous breakpoint and
// completes the outstanding RefreshCodeObjects call.
func (s *Session) acknowledgeRefresh() {
	bp, ok := s.client.LoaderBreakpoint()
	if !ok {
		panic("breakpoint rendezvous with no loader breakpoint installed")
	}
	if err := s.proc.ReportBreakpointHit(bp); err != nil {
		s.log.Errorf("could not report breakpoint hit: %v", err)
	}
	s.refresh.complete()
}

// Stop shuts the session goroutine down and joins it. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.command(cmdQuit)
		<-s.done
		unix.Close(s.cmdW)
		unix.Close(s.cmdR)
	})
}

// RequestReport asks the session goroutine to print all wavefronts.
// Fire-and-forget, safe to call from a signal handler goroutine.
func (s *Session) RequestReport() {
	s.command(cmdPrintWaves)
}

// RefreshCodeObjects drives the loader rendezvous: the target's loader is
// parked on the rendezvous breakpoint and waits for the hit to be reported
// before publishing the updated code object list. Blocks until the session
// goroutine has acknowledged the hit. At most one call may be outstanding.
func (s *Session) RefreshCodeObjects() {
	done := s.refresh.arm()
	s.command(cmdRefreshRendez)
	<-done
	s.refresh.disarm()
}

func (s *Session) command(cmd byte) {
	for {
		_, err := unix.Write(s.cmdW, []byte{cmd})
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			s.log.Errorf("could not send command %q: %v", cmd, err)
		}
		return
	}
}

func readByte(fd int) (byte, bool) {
	buf := make([]byte, 1)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return buf[0], err == nil && n == 1
	}
}

func drainFd(fd int) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if n <= 0 {
			return
		}
	}
}
