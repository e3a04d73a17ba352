package agent

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessMemory reads and writes a process address space through
// /proc/<pid>/mem. It backs both the attachment's global memory transfers
// and instruction fetch during disassembly.
type ProcessMemory struct {
	fd int
}

func OpenProcessMemory(pid int) (*ProcessMemory, error) {
	fd, err := unix.Open(fmt.Sprintf("/proc/%d/mem", pid), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open /proc/%d/mem: %v", pid, err)
	}
	return &ProcessMemory{fd: fd}, nil
}

func (m *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New("zero length read")
	}
	n, err := unix.Pread(m.fd, buf, int64(addr))
	if n == 0 && err == nil {
		err = fmt.Errorf("could not read memory at 0x%x", addr)
	}
	return n, err
}

func (m *ProcessMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("zero length write")
	}
	return unix.Pwrite(m.fd, data, int64(addr))
}

func (m *ProcessMemory) Close() error {
	return unix.Close(m.fd)
}
