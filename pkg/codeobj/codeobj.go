// Package codeobj materializes the code objects loaded in a target process
// and symbolizes wavefront program counters against their ELF images.
package codeobj

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/derekparker/trie"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
)

// CodeObject is one loaded code object. The ELF image is copied into an
// anonymous memfd when the object is opened, so that symbol and line lookup
// keep working after the target unloads or unmaps the original bytes.
// Symbol and debug info indices are built lazily on first use.
type CodeObject struct {
	id          dbgapi.CodeObjectID
	loadAddress uint64
	uri         string

	f       *os.File
	memSize uint64

	log *logrus.Entry

	symOnce sync.Once
	symbols []Symbol
	names   *trie.Trie

	debugOnce sync.Once
	lineIndex []LineEntry
	lineAt    map[uint64]int
	pcRanges  []PCRange
}

func New(id dbgapi.CodeObjectID, info dbgapi.CodeObjectInfo) *CodeObject {
	return &CodeObject{
		id:          id,
		loadAddress: info.LoadAddress,
		uri:         info.URI,
		log:         logflags.CodeObjectLogger(),
	}
}

func (co *CodeObject) ID() dbgapi.CodeObjectID { return co.id }
func (co *CodeObject) LoadAddress() uint64     { return co.loadAddress }
func (co *CodeObject) URI() string             { return co.uri }
func (co *CodeObject) IsOpen() bool            { return co.f != nil }

// LoadedSize is the extent of the object's PT_LOAD segments, i.e. the size
// of the region [LoadAddress, LoadAddress+LoadedSize) it occupies in the
// target. Zero until the object has been opened.
func (co *CodeObject) LoadedSize() uint64 { return co.memSize }

// Open reads the object's bytes as directed by its URI and copies them into
// a memfd. mem serves memory:// URIs and is read at the target's addresses.
// Failures are logged and leave the object closed; symbolization then falls
// back to raw addresses.
func (co *CodeObject) Open(mem dbgapi.MemoryReader) {
	if co.f != nil {
		return
	}

	u, err := ParseURI(co.uri)
	if err != nil {
		co.log.Warnf("could not open code object %d: %v", co.id, err)
		return
	}

	var buffer []byte
	switch u.Protocol {
	case "file":
		buffer, err = readFileRange(u)
	case "memory":
		buffer, err = readMemoryRange(u, mem)
	default:
		co.log.Warnf("could not open code object %d: unsupported protocol %q", co.id, u.Protocol)
		return
	}
	if err != nil {
		co.log.Warnf("could not open code object %d: %v", co.id, err)
		return
	}

	ef, err := elf.NewFile(bytes.NewReader(buffer))
	if err != nil {
		co.log.Warnf("could not open code object %d: %v", co.id, err)
		return
	}
	var memSize uint64
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if end := prog.Vaddr + prog.Memsz; end > memSize {
			memSize = end
		}
	}

	fd, err := unix.MemfdCreate(memfdName(co.uri), unix.MFD_CLOEXEC)
	if err != nil {
		co.log.Warnf("could not open code object %d: memfd_create: %v", co.id, err)
		return
	}
	f := os.NewFile(uintptr(fd), co.uri)
	if _, err := f.WriteAt(buffer, 0); err != nil {
		co.log.Warnf("could not open code object %d: %v", co.id, err)
		f.Close()
		return
	}

	co.f = f
	co.memSize = memSize
	co.log.Debugf("opened code object %d (%s), loaded at [0x%x-0x%x]", co.id, co.uri, co.loadAddress, co.loadAddress+co.memSize)
}

func (co *CodeObject) Close() {
	if co.f != nil {
		co.f.Close()
		co.f = nil
	}
}

// Save writes the materialized image to dir, under a file name derived from
// the URI.
func (co *CodeObject) Save(dir string) error {
	if co.f == nil {
		return errors.New("code object is not open")
	}
	st, err := co.f.Stat()
	if err != nil {
		return err
	}
	data := make([]byte, st.Size())
	if _, err := co.f.ReadAt(data, 0); err != nil && err != io.EOF {
		return err
	}
	return os.WriteFile(filepath.Join(dir, EncodeFileName(co.uri)), data, 0o644)
}

func readFileRange(u *URI) ([]byte, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size := u.Size
	if !u.HasSize {
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if uint64(st.Size()) < u.Offset {
			return nil, errors.New("offset past end of file")
		}
		size = uint64(st.Size()) - u.Offset
	}

	buffer := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, int64(u.Offset), int64(size)), buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func readMemoryRange(u *URI, mem dbgapi.MemoryReader) ([]byte, error) {
	if u.Offset == 0 || !u.HasSize {
		return nil, errors.New("memory uri needs offset and size")
	}
	buffer := make([]byte, u.Size)
	for read := 0; read < len(buffer); {
		n, err := mem.ReadMemory(buffer[read:], u.Offset+uint64(read))
		if n <= 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		read += n
	}
	return buffer, nil
}

func memfdName(uri string) string {
	// the kernel limits memfd names to 249 bytes
	const nameMax = 249
	if len(uri) <= nameMax {
		return uri
	}
	return "..." + uri[len(uri)-(nameMax-3):]
}
