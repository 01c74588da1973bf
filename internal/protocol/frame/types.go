package frame

import "fmt"

// MsgType is the request discriminant carried in Header.Code.
type MsgType int32

const (
	MsgError       MsgType = 0
	MsgNop         MsgType = 1
	MsgRead        MsgType = 2
	MsgWrite       MsgType = 3
	MsgDir         MsgType = 4 // deprecated single-entry listing
	MsgPresence    MsgType = 6
	MsgDirAll      MsgType = 7
	MsgGet         MsgType = 8
	MsgDirAllSlash MsgType = 9
	MsgGetSlash    MsgType = 10
)

var msgTypeNames = map[MsgType]string{
	MsgError:       "error",
	MsgNop:         "nop",
	MsgRead:        "read",
	MsgWrite:       "write",
	MsgDir:         "dir",
	MsgPresence:    "presence",
	MsgDirAll:      "dirall",
	MsgGet:         "get",
	MsgDirAllSlash: "dirallslash",
	MsgGetSlash:    "getslash",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("msg(%d)", int32(t))
}

// Flags is the header flag word. Scale and format selectors are bit-masked
// sub-fields, not independent bits.
type Flags uint32

const (
	FlagBusRet      Flags = 0x00000002
	FlagPersistence Flags = 0x00000004
	FlagAlias       Flags = 0x00000008
	FlagSafeMode    Flags = 0x00000010
	FlagUncached    Flags = 0x00000020
	FlagOwnet       Flags = 0x00000100
)

const (
	TempC         Flags = 0x00000000
	TempF         Flags = 0x00010000
	TempK         Flags = 0x00020000
	TempR         Flags = 0x00030000
	MaskTempScale Flags = 0x00030000
)

const (
	PressureMbar      Flags = 0x00000000
	PressureAtm       Flags = 0x00040000
	PressureMmHg      Flags = 0x00080000
	PressureInHg      Flags = 0x000C0000
	PressurePsi       Flags = 0x00100000
	PressurePa        Flags = 0x00140000
	MaskPressureScale Flags = 0x001C0000
)

const (
	FormatFDI     Flags = 0x00000000 // /10.67C6697351FF
	FormatFI      Flags = 0x01000000 // /1067C6697351FF
	FormatFDIDC   Flags = 0x02000000 // /10.67C6697351FF.8D
	FormatFDIC    Flags = 0x03000000 // /10.67C6697351FF8D
	FormatFIDC    Flags = 0x04000000 // /1067C6697351FF.8D
	FormatFIC     Flags = 0x05000000 // /1067C6697351FF8D
	MaskDevFormat Flags = 0xFF000000
)

func (f Flags) Has(bit Flags) bool {
	return f&bit == bit
}

func (f Flags) WithTempScale(scale Flags) Flags {
	return f&^MaskTempScale | scale&MaskTempScale
}

func (f Flags) WithPressureScale(scale Flags) Flags {
	return f&^MaskPressureScale | scale&MaskPressureScale
}

func (f Flags) WithDevFormat(format Flags) Flags {
	return f&^MaskDevFormat | format&MaskDevFormat
}

func (f Flags) TempScale() Flags {
	return f & MaskTempScale
}

func (f Flags) PressureScale() Flags {
	return f & MaskPressureScale
}

func (f Flags) DevFormat() Flags {
	return f & MaskDevFormat
}
