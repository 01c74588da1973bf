// Package sensors builds typed views of 1-wire devices from the owserver
// /structure directory.
package sensors

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Properties is one /structure/<family>/<property> record.
type Properties struct {
	Type    string
	IsArray int
	ArrLen  int
	Mode    string
	Len     int
	Pers    string
}

// ParseProperties decodes a "type,isarr,arrlen,mode,len,pers," record.
func ParseProperties(record []byte) (Properties, error) {
	flds := strings.Split(string(record), ",")
	if len(flds) < 7 {
		return Properties{}, fmt.Errorf("sensors: invalid structure record %q", record)
	}
	var (
		p   Properties
		err error
	)
	p.Type = flds[0]
	if p.IsArray, err = atoi("isarr", flds[1]); err != nil {
		return Properties{}, err
	}
	if p.ArrLen, err = atoi("arrlen", flds[2]); err != nil {
		return Properties{}, err
	}
	p.Mode = flds[3]
	if p.Len, err = atoi("len", flds[4]); err != nil {
		return Properties{}, err
	}
	p.Pers = flds[5]
	return p, nil
}

// Readable reports whether values of this property can be read.
func (p Properties) Readable() bool {
	return p.Mode == "ro" || p.Mode == "rw"
}

// Fixed reports whether the value never changes for a given device.
func (p Properties) Fixed() bool {
	return p.Pers == "f"
}

func (p Properties) String() string {
	return fmt.Sprintf("Properties: %s, %2d, %2d, %s, %3d, %s", p.Type, p.IsArray, p.ArrLen, p.Mode, p.Len, p.Pers)
}

func atoi(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("sensors: structure field %s: %w", field, err)
	}
	return v, nil
}

// Kind is the Go representation a structure type code maps to.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBytes
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "[]byte"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

var typeCodes = map[string]Kind{
	"i": KindInt,
	"u": KindInt,
	"f": KindFloat,
	"t": KindFloat,
	"g": KindFloat,
	"p": KindFloat,
	"l": KindString,
	"a": KindString,
	"d": KindString,
	"b": KindBytes,
	"y": KindBool,
}

// KindOf maps a structure type code to its Kind.
func KindOf(code string) (Kind, bool) {
	k, ok := typeCodes[code]
	return k, ok
}

// Cast converts a raw owserver value to the Go type for kind. Numeric
// values are right-aligned by owserver so surrounding blanks are dropped.
func Cast(kind Kind, raw []byte) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	case KindFloat:
		return strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
	case KindString:
		return string(raw), nil
	case KindBytes:
		return append([]byte(nil), raw...), nil
	case KindBool:
		return strconv.ParseBool(string(bytes.TrimSpace(raw)))
	default:
		return nil, fmt.Errorf("sensors: unknown kind %d", kind)
	}
}
