package codeobj

import "testing"

func TestParseURI(t *testing.T) {
	for _, tc := range []struct {
		raw      string
		protocol string
		path     string
		offset   uint64
		size     uint64
		hasSize  bool
	}{
		{"file:///tmp/x.so?offset=0x10&size=0x20", "file", "/tmp/x.so", 16, 32, true},
		{"file:///tmp/x.so", "file", "/tmp/x.so", 0, 0, false},
		{"file:///tmp/a%20b.so?offset=4096", "file", "/tmp/a b.so", 4096, 0, false},
		{"memory://1234#offset=0x7f0000&size=4096", "memory", "1234", 0x7f0000, 4096, true},
		{"FILE:///tmp/x.so", "file", "/tmp/x.so", 0, 0, false},
		{"file:///tmp/%zz.so", "file", "/tmp/%zz.so", 0, 0, false},
	} {
		u, err := ParseURI(tc.raw)
		if err != nil {
			t.Errorf("ParseURI(%q): %v", tc.raw, err)
			continue
		}
		if u.Protocol != tc.protocol || u.Path != tc.path || u.Offset != tc.offset || u.Size != tc.size || u.HasSize != tc.hasSize {
			t.Errorf("ParseURI(%q) = %+v", tc.raw, u)
		}
	}

	for _, raw := range []string{
		"no-protocol",
		"file:///tmp/x.so?size=0",
		"file:///tmp/x.so?offset=zzz",
		"file:///tmp/x.so?size=-1",
	} {
		if _, err := ParseURI(raw); err == nil {
			t.Errorf("ParseURI(%q): expected error", raw)
		}
	}
}

func TestEncodeFileName(t *testing.T) {
	got := EncodeFileName("file:///tmp/x.so?offset=0x10&size=0x20")
	want := "file____tmp_x.so_offset_0x10_size_0x20"
	if got != want {
		t.Errorf("EncodeFileName = %q, want %q", got, want)
	}
}
