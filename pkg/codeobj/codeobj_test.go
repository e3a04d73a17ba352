package codeobj

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/dbgapi/simulator"
)

const testLoadAddress = 0x7f1000

func buildTestImage(t *testing.T) (image []byte, textOff uint64) {
	t.Helper()
	text := make([]byte, 64)
	for i := range text {
		text[i] = 0x90 // nop
	}
	return simulator.BuildELF(text, []simulator.Symbol{
		{Name: "kernel_a", Value: 0, Size: 32},
		{Name: "kernel_b", Value: 32, Size: 16},
	})
}

func openTestObject(t *testing.T, uri string, mem dbgapi.MemoryReader) *CodeObject {
	t.Helper()
	co := New(1, dbgapi.CodeObjectInfo{LoadAddress: testLoadAddress, URI: uri})
	co.Open(mem)
	if !co.IsOpen() {
		t.Fatalf("could not open code object %s", uri)
	}
	t.Cleanup(co.Close)
	return co
}

func TestOpenFileURI(t *testing.T) {
	image, textOff := buildTestImage(t)

	// embed the image at an offset so that the offset/size parameters are
	// exercised
	path := filepath.Join(t.TempDir(), "ko.so")
	padded := append(make([]byte, 16), image...)
	if err := os.WriteFile(path, padded, 0o644); err != nil {
		t.Fatal(err)
	}

	uri := fmt.Sprintf("file://%s?offset=16&size=%d", path, len(image))
	co := openTestObject(t, uri, nil)

	if co.LoadedSize() != uint64(len(image)) {
		t.Errorf("LoadedSize = %d, want %d", co.LoadedSize(), len(image))
	}

	base := uint64(testLoadAddress) + textOff
	if sym := co.FindSymbol(base + 10); sym == nil || sym.Name != "kernel_a" {
		t.Errorf("FindSymbol(kernel_a+10) = %+v", sym)
	}
	if sym := co.FindSymbol(base + 32 + 15); sym == nil || sym.Name != "kernel_b" {
		t.Errorf("FindSymbol(kernel_b+15) = %+v", sym)
	}
	if sym := co.FindSymbol(base + 48); sym != nil {
		t.Errorf("FindSymbol past kernel_b = %+v, want nil", sym)
	}
	if sym := co.FindSymbol(testLoadAddress); sym != nil {
		t.Errorf("FindSymbol below text = %+v, want nil", sym)
	}

	names := co.SymbolNamesWithPrefix("kernel_")
	if len(names) != 2 {
		t.Errorf("SymbolNamesWithPrefix = %v, want 2 names", names)
	}
}

type regionMem struct {
	base uint64
	data []byte
}

func (m regionMem) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base || addr >= m.base+uint64(len(m.data)) {
		return 0, fmt.Errorf("no memory at 0x%x", addr)
	}
	return copy(buf, m.data[addr-m.base:]), nil
}

func TestOpenMemoryURI(t *testing.T) {
	image, textOff := buildTestImage(t)
	mem := regionMem{base: 0x5000, data: image}

	uri := fmt.Sprintf("memory://1234#offset=0x5000&size=%d", len(image))
	co := openTestObject(t, uri, mem)

	if sym := co.FindSymbol(uint64(testLoadAddress) + textOff); sym == nil || sym.Name != "kernel_a" {
		t.Errorf("FindSymbol(text start) = %+v", sym)
	}

	// memory URIs without explicit offset and size can not be opened
	co2 := New(2, dbgapi.CodeObjectInfo{LoadAddress: testLoadAddress, URI: "memory://1234"})
	co2.Open(mem)
	if co2.IsOpen() {
		t.Error("memory uri without offset/size should not open")
	}
}

func TestSymbolSizeConflict(t *testing.T) {
	text := make([]byte, 64)
	image, textOff := simulator.BuildELF(text, []simulator.Symbol{
		{Name: "short_alias", Value: 0, Size: 8},
		{Name: "full_kernel", Value: 0, Size: 48},
	})
	path := filepath.Join(t.TempDir(), "dup.so")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}

	co := openTestObject(t, "file://"+path, nil)
	sym := co.FindSymbol(uint64(testLoadAddress) + textOff + 20)
	if sym == nil || sym.Name != "full_kernel" {
		t.Errorf("FindSymbol = %+v, want full_kernel", sym)
	}
}

func TestSave(t *testing.T) {
	image, _ := buildTestImage(t)
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "ko.so")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}

	uri := "file://" + path
	co := openTestObject(t, uri, nil)

	outDir := t.TempDir()
	if err := co.Save(outDir); err != nil {
		t.Fatal(err)
	}
	saved, err := os.ReadFile(filepath.Join(outDir, EncodeFileName(uri)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(saved, image) {
		t.Error("saved image differs from original")
	}

	closed := New(3, dbgapi.CodeObjectInfo{URI: "file:///nope"})
	if err := closed.Save(outDir); err == nil {
		t.Error("Save on a closed object should fail")
	}
}
