package owtest

import (
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
)

// Error numbers returned (negated) by Tree.
const (
	ENOENT = 2
	EACCES = 13
	EINVAL = 22
)

// ErrorCodes is a text.ALL-style table indexed by error number.
var ErrorCodes = func() []string {
	codes := make([]string, 23)
	for i := range codes {
		codes[i] = "unspecified"
	}
	codes[0] = "Good result"
	codes[ENOENT] = "legacy - No such entity"
	codes[EACCES] = "legacy - Access denied"
	codes[EINVAL] = "legacy - Invalid argument"
	return codes
}()

// Tree is a minimal owfs namespace. Directories end with "/", files do not.
type Tree struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	readOnly map[string]bool
	slow     map[string]int

	// NoErrorTable hides the error code path.
	NoErrorTable bool
}

func NewTree() *Tree {
	return &Tree{
		files:    make(map[string][]byte),
		dirs:     make(map[string]bool),
		readOnly: make(map[string]bool),
		slow:     make(map[string]int),
	}
}

// SensorTree returns the two-sensor namespace used across client tests.
func SensorTree() *Tree {
	t := NewTree()
	t.Set("/10.AABBCC/temperature", []byte("     21.5625"))
	t.Set("/10.AABBCC/type", []byte("DS18S20"))
	t.Set("/10.AABBCC/family", []byte("10"))
	t.Set("/10.AABBCC/address", []byte("10AABBCC000000E1"))
	t.SetReadOnly("/10.AABBCC/alias", []byte(""))
	t.Set("/26.DDEEFF/temperature", []byte("     19.25"))
	t.Set("/26.DDEEFF/type", []byte("DS2438"))
	t.Set("/26.DDEEFF/family", []byte("26"))
	t.Set("/26.DDEEFF/VAD", []byte("      4.97"))
	return t
}

// WithSystem adds the version and pid entries owserver exposes.
func (t *Tree) WithSystem() *Tree {
	t.Set("/system/configuration/version", []byte("3.2p4"))
	t.Set("/system/process/pid", []byte("        1234"))
	return t
}

func (t *Tree) Set(path string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = append([]byte(nil), value...)
}

func (t *Tree) SetReadOnly(path string, value []byte) {
	t.Set(path, value)
	t.mu.Lock()
	t.readOnly[path] = true
	t.mu.Unlock()
}

// MkDir adds a directory that may have no entries.
func (t *Tree) MkDir(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirs[strings.TrimSuffix(path, "/")+"/"] = true
}

// SetSlow makes requests touching path send pulses keep-alive frames first.
func (t *Tree) SetSlow(path string, pulses int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slow[path] = pulses
}

func (t *Tree) Get(path string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.files[path]
	return v, ok
}

// Handle serves one request against the tree.
func (t *Tree) Handle(req Request) Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	pulses := t.slow[req.Path]

	switch req.Header.MsgType() {
	case frame.MsgNop:
		return Response{}
	case frame.MsgPresence:
		if _, ok := t.lookupLocked(req.Path); ok || t.isDirLocked(req.Path) {
			return Response{Pulses: pulses}
		}
		return Response{Ret: -ENOENT, Pulses: pulses}
	case frame.MsgDirAll, frame.MsgDirAllSlash:
		if !t.isDirLocked(req.Path) {
			return Response{Ret: -ENOENT, Pulses: pulses}
		}
		entries := t.listLocked(req.Path, req.Header.MsgType() == frame.MsgDirAllSlash)
		return Response{Data: []byte(strings.Join(entries, ",")), Pulses: pulses}
	case frame.MsgRead:
		v, ok := t.lookupLocked(req.Path)
		if !ok {
			return Response{Ret: -ENOENT, Pulses: pulses}
		}
		off := int(req.Header.Offset)
		if off > len(v) {
			off = len(v)
		}
		v = v[off:]
		if size := int(req.Header.Size); size < len(v) {
			v = v[:size]
		}
		return Response{Ret: int32(len(v)), Data: v, Pulses: pulses}
	case frame.MsgWrite:
		if _, ok := t.files[req.Path]; !ok {
			return Response{Ret: -ENOENT, Pulses: pulses}
		}
		if t.readOnly[req.Path] {
			return Response{Ret: -EACCES, Pulses: pulses}
		}
		if int(req.Header.Size) != len(req.Data) {
			return Response{Ret: -EINVAL, Pulses: pulses}
		}
		t.files[req.Path] = append([]byte(nil), req.Data...)
		return Response{Pulses: pulses}
	default:
		return Response{Ret: -EINVAL}
	}
}

func (t *Tree) lookupLocked(path string) ([]byte, bool) {
	if path == protocol.PathErrorCodes && !t.NoErrorTable {
		return []byte(strings.Join(ErrorCodes, ",")), true
	}
	v, ok := t.files[path]
	return v, ok
}

func (t *Tree) isDirLocked(path string) bool {
	if path == "" || path == "/" {
		return true
	}
	dir := strings.TrimSuffix(path, "/") + "/"
	if t.dirs[dir] {
		return true
	}
	for p := range t.files {
		if strings.HasPrefix(p, dir) {
			return true
		}
	}
	return false
}

// listLocked returns the direct children of dir in sorted order.
func (t *Tree) listLocked(dir string, slash bool) []string {
	dir = strings.TrimSuffix(dir, "/") + "/"
	seen := make(map[string]struct{})
	for p := range t.files {
		if !strings.HasPrefix(p, dir) {
			continue
		}
		rest := p[len(dir):]
		child := dir + rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			child = dir + rest[:i]
			if slash {
				child += "/"
			}
		}
		seen[child] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// WithStructure adds /structure records for the sensor families plus a
// nested property directory, a page array and a write-only entry on the
// DS2438.
func (t *Tree) WithStructure() *Tree {
	const (
		roVolatile = "000000,000000,ro,000012,v,"
		roFixed    = "000000,000000,ro,000016,f,"
		rwStable   = "000000,000000,rw,000256,s,"
	)
	for _, fam := range []string{"10", "26"} {
		base := "/structure/" + fam + "/"
		t.Set(base+"temperature", []byte("t,"+roVolatile))
		t.Set(base+"type", []byte("a,"+roFixed))
		t.Set(base+"family", []byte("a,"+roFixed))
		t.Set(base+"address", []byte("a,"+roFixed))
	}
	t.Set("/structure/10/alias", []byte("l,"+rwStable))
	t.Set("/structure/10/power", []byte("y,"+roVolatile))
	t.Set("/structure/26/VAD", []byte("g,"+roVolatile))
	t.Set("/structure/26/IAD", []byte("y,"+rwStable))
	t.Set("/structure/26/B1-R1-A/gain", []byte("f,"+rwStable))
	t.Set("/structure/26/pages/page.ALL", []byte("b,000001,000008,rw,000008,s,"))
	t.Set("/structure/26/disconnect", []byte("y,000000,000000,wo,000001,v,"))

	t.Set("/10.AABBCC/power", []byte("1"))
	t.Set("/26.DDEEFF/address", []byte("26DDEEFF000000B7"))
	t.Set("/26.DDEEFF/IAD", []byte("0"))
	t.Set("/26.DDEEFF/B1-R1-A/gain", []byte("      0.5"))
	t.Set("/26.DDEEFF/pages/page.0", []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 0})
	t.Set("/26.DDEEFF/disconnect", []byte("0"))
	return t
}
