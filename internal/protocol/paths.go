package protocol

import (
	"fmt"
	"strings"
)

// Well-known owserver paths.
const (
	PathErrorCodes = "/settings/return_codes/text.ALL"
	PathVersion    = "/system/configuration/version"
	PathPID        = "/system/process/pid"
	PathStructure  = "/structure/"
)

// EncodePath returns path as ASCII bytes followed by a terminating NUL.
func EncodePath(path string) ([]byte, error) {
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == 0 || c > 0x7f {
			return nil, fmt.Errorf("%w: %q has non-ascii or NUL byte at %d", ErrInvalidPath, path, i)
		}
	}
	buf := make([]byte, len(path)+1)
	copy(buf, path)
	return buf, nil
}

// SplitList splits a comma-joined reply payload. An empty payload is an
// empty listing.
func SplitList(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	return strings.Split(string(data), ",")
}
