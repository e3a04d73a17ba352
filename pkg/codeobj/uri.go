package codeobj

import (
	"fmt"
	"strconv"
	"strings"
)

// URI locates the backing bytes of a code object, either on disk
// (file://path?offset=..&size=..) or in the target's memory
// (memory://pid#offset=..&size=..). Query and fragment parameters are
// interchangeable.
type URI struct {
	Protocol string
	Path     string
	Offset   uint64
	Size     uint64
	HasSize  bool
}

// ParseURI splits a code object URI into protocol, percent-decoded path and
// the offset/size parameters. Numbers accept the 0x/0o/0 prefixes. An
// explicit size of zero makes the URI unopenable and is rejected here.
func ParseURI(raw string) (*URI, error) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return nil, fmt.Errorf("malformed uri %q: missing protocol", raw)
	}
	u := &URI{Protocol: strings.ToLower(raw[:i])}

	rest := raw[i+3:]
	query := ""
	if j := strings.IndexAny(rest, "#?"); j >= 0 {
		u.Path = percentDecode(rest[:j])
		query = rest[j+1:]
	} else {
		u.Path = percentDecode(rest)
	}

	for _, token := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		switch key {
		case "offset":
			n, err := strconv.ParseUint(value, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed uri %q: bad offset: %v", raw, err)
			}
			u.Offset = n
		case "size":
			n, err := strconv.ParseUint(value, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed uri %q: bad size: %v", raw, err)
			}
			if n == 0 {
				return nil, fmt.Errorf("malformed uri %q: zero size", raw)
			}
			u.Size = n
			u.HasSize = true
		}
	}
	return u, nil
}

func percentDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			n, _ := strconv.ParseUint(s[i+1:i+3], 16, 8)
			b.WriteByte(byte(n))
			i += 2
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// EncodeFileName derives an on-disk file name from a URI, replacing the
// characters :/#?&= with underscores.
func EncodeFileName(uri string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '#', '?', '&', '=':
			return '_'
		}
		return r
	}, uri)
}
