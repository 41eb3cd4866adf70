// Package com implements the subset of OLE Automation this interpreter
// needs to drive IDispatch::Invoke calls: VARIANT encode/decode, BSTR
// marshalling, and a DISPPARAMS-based dispatch path with two backends —
// a host-implemented dispatch table, and an in-proc guest vtable.
package com

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// VARIANT type tags this interpreter understands, per the OLE Automation
// VARTYPE enumeration.
const (
	VtEmpty       = 0
	VtI4          = 3
	VtBstr        = 8
	VtVariant     = 12
	VtUI4         = 19
	VtUserDefined = 29
)

// VariantSize is sizeof(VARIANT): a 2-byte vt tag, 6 bytes of reserved
// padding, and an 8-byte payload union.
const VariantSize = 16

// Memory is the subset of guest-memory access the com package needs; *vm.Memory
// satisfies it without this package importing vm.
type Memory interface {
	ReadU16(addr uint32) (uint16, error)
	ReadU32(addr uint32) (uint32, error)
	WriteU16(addr uint32, v uint16) error
	WriteU32(addr uint32, v uint32) error
	ReadUTF16Z(addr uint32) (string, error)
	AllocBytes(data []byte, alignment uint32) (uint32, error)
}

// Arg is one argument to a dispatch call.
type Arg struct {
	Kind  ArgKind
	I4    int32
	U32   uint32
	BStr  string
}

type ArgKind int

const (
	ArgI4 ArgKind = iota
	ArgU32
	ArgBStr
)

func I4(v int32) Arg   { return Arg{Kind: ArgI4, I4: v} }
func U32(v uint32) Arg { return Arg{Kind: ArgU32, U32: v} }
func BStr(v string) Arg { return Arg{Kind: ArgBStr, BStr: v} }

// Value is the tagged result of a dispatch call.
type Value struct {
	Kind ValueKind
	I4   int32
	BStr string
}

type ValueKind int

const (
	ValueVoid ValueKind = iota
	ValueI4
	ValueBStr
)

// AllocBStr writes s as a length-prefixed, NUL-terminated UTF-16LE BSTR
// and returns a pointer to the first character (the conventional BSTR
// handle), matching the real OLE Automation allocator's layout: a 4-byte
// byte-length prefix immediately precedes the string data.
func AllocBStr(mem Memory, s string) (uint32, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	units, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 4+len(units)+2)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(units)))
	copy(buf[4:], units)

	base, err := mem.AllocBytes(buf, 4)
	if err != nil {
		return 0, err
	}
	return base + 4, nil
}

// ReadBStr reads the string a BSTR handle points to, using its length
// prefix rather than relying solely on the NUL terminator (a BSTR may
// legally embed NUL characters).
func ReadBStr(mem Memory, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	n, err := mem.ReadU32(ptr - 4)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, 0, n)
	for off := uint32(0); off+1 < n; off += 2 {
		u, err := mem.ReadU16(ptr + off)
		if err != nil {
			return "", err
		}
		buf = append(buf, byte(u), byte(u>>8))
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(buf)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WriteVariant encodes arg into the 16-byte VARIANT at addr.
func WriteVariant(mem Memory, addr uint32, arg Arg) error {
	if err := mem.WriteU16(addr, VtEmpty); err != nil {
		return err
	}
	for _, off := range []uint32{2, 4, 6} {
		if err := mem.WriteU16(addr+off, 0); err != nil {
			return err
		}
	}
	if err := mem.WriteU32(addr+8, 0); err != nil {
		return err
	}
	if err := mem.WriteU32(addr+12, 0); err != nil {
		return err
	}

	switch arg.Kind {
	case ArgI4:
		if err := mem.WriteU16(addr, VtI4); err != nil {
			return err
		}
		return mem.WriteU32(addr+8, uint32(arg.I4))
	case ArgU32:
		if err := mem.WriteU16(addr, VtUI4); err != nil {
			return err
		}
		return mem.WriteU32(addr+8, arg.U32)
	case ArgBStr:
		bstr, err := AllocBStr(mem, arg.BStr)
		if err != nil {
			return err
		}
		if err := mem.WriteU16(addr, VtBstr); err != nil {
			return err
		}
		return mem.WriteU32(addr+8, bstr)
	}
	return nil
}

// ReadVariant decodes the 16-byte VARIANT at addr into a tagged Value.
func ReadVariant(mem Memory, addr uint32) (Value, error) {
	vt, err := mem.ReadU16(addr)
	if err != nil {
		return Value{}, err
	}
	switch vt {
	case VtEmpty:
		return Value{Kind: ValueVoid}, nil
	case VtI4, VtUI4:
		v, err := mem.ReadU32(addr + 8)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueI4, I4: int32(v)}, nil
	case VtBstr:
		ptr, err := mem.ReadU32(addr + 8)
		if err != nil {
			return Value{}, err
		}
		s, err := ReadBStr(mem, ptr)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueBStr, BStr: s}, nil
	default:
		return Value{}, &UnsupportedVariant{VarType: vt}
	}
}

// UnsupportedVariant is returned when a VARIANT carries a vt tag this
// interpreter's subset doesn't model.
type UnsupportedVariant struct {
	VarType uint16
}

func (e *UnsupportedVariant) Error() string {
	return "com: unsupported variant type"
}
