package simulator

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildELFParses(t *testing.T) {
	text := []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0x5d, 0xc3}
	image, textOff := BuildELF(text, []Symbol{
		{Name: "kernel_a", Value: 0, Size: 7},
	})

	f, err := elf.NewFile(bytes.NewReader(image))
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, f.Progs, 1)
	require.Equal(t, elf.PT_LOAD, f.Progs[0].Type)
	require.Equal(t, uint64(len(image)), f.Progs[0].Memsz)

	sect := f.Section(".text")
	require.NotNil(t, sect)
	data, err := sect.Data()
	require.NoError(t, err)
	require.Equal(t, text, data)

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "kernel_a", syms[0].Name)
	require.Equal(t, textOff, syms[0].Value)
	require.Equal(t, uint64(7), syms[0].Size)
	require.Equal(t, elf.STT_FUNC, elf.ST_TYPE(syms[0].Info))
}
