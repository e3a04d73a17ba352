package dbgapi

// MemoryReader reads the target's global address space. The address is a
// 64-bit global address, not a host pointer.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt with a global address.
	// A zero-length read is a usage error.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter extends MemoryReader with positioned writes.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}
