package agent

import (
	"fmt"
	"io"
	"sync"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
)

// AttachClient is the callback surface handed to dbgapi.Attach. It records
// the loader rendezvous breakpoint the attachment installs, so that the
// session can acknowledge hits on it, and routes attachment-internal log
// messages and memory transfers.
type AttachClient struct {
	mem dbgapi.MemoryReadWriter
	out io.Writer

	mu         sync.Mutex
	loaderBp   dbgapi.BreakpointID
	haveLoader bool
}

func NewAttachClient(mem dbgapi.MemoryReadWriter, out io.Writer) *AttachClient {
	return &AttachClient{mem: mem, out: out}
}

func (c *AttachClient) InsertBreakpoint(addr uint64, id dbgapi.BreakpointID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveLoader {
		return fmt.Errorf("breakpoint %d already installed", c.loaderBp)
	}
	c.loaderBp = id
	c.haveLoader = true
	logflags.WireLogger().Debugf("loader breakpoint %d installed at 0x%x", id, addr)
	return nil
}

func (c *AttachClient) RemoveBreakpoint(id dbgapi.BreakpointID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveLoader || c.loaderBp != id {
		return fmt.Errorf("unknown breakpoint %d", id)
	}
	c.haveLoader = false
	return nil
}

// LoaderBreakpoint returns the rendezvous breakpoint currently installed by
// the attachment.
func (c *AttachClient) LoaderBreakpoint() (dbgapi.BreakpointID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaderBp, c.haveLoader
}

func (c *AttachClient) Memory() dbgapi.MemoryReadWriter { return c.mem }

func (c *AttachClient) LogMessage(level, message string) {
	fmt.Fprintf(c.out, "dbgapi [%s]: %s\n", level, message)
}
