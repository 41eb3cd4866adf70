// Package oleaut32 backs the BSTR/VARIANT subset of OLEAUT32.dll, delegating
// the byte layouts to the com package so this stub table and an in-proc
// IDispatch::Invoke marshaller agree on one encoding. Exports are
// registered both by name and by their well-known ordinal, since many
// images import SysAllocString/VariantClear/etc. by ordinal only.
// Grounded on the original interpreter's windows/oleaut32/mod.rs.
package oleaut32

import (
	"github.com/m3m0r7/pevm/com"
	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

const (
	sOK = 0
)

// New builds the OLEAUT32.dll host module.
func New() *winapi.Table {
	t := winapi.NewTable()

	t.Stdcall("SysAllocString", 1, sysAllocString)
	t.StdcallOrdinal(2, 1, sysAllocString)
	t.Stdcall("SysAllocStringLen", 2, sysAllocStringLen)
	t.StdcallOrdinal(4, 2, sysAllocStringLen)
	t.Stdcall("SysFreeString", 1, sysFreeString)
	t.StdcallOrdinal(6, 1, sysFreeString)
	t.Stdcall("SysStringLen", 1, sysStringLen)
	t.StdcallOrdinal(7, 1, sysStringLen)

	t.Stdcall("VariantInit", 1, variantInit)
	t.StdcallOrdinal(8, 1, variantInit)
	t.Stdcall("VariantClear", 1, variantClear)
	t.StdcallOrdinal(9, 1, variantClear)

	return t
}

// memAdapter exposes *vm.Memory to the com package's narrower Memory
// interface via the CPU that owns it.
func mem(c *vm.CPU) *vm.Memory { return c.Mem }

func sysAllocString(c *vm.CPU, stackPtr uint32) (uint32, error) {
	ptr := c.StackArg(stackPtr, 0)
	if ptr == 0 {
		return 0, nil
	}
	s, err := c.Mem.ReadUTF16Z(ptr)
	if err != nil {
		return 0, nil
	}
	bstr, err := com.AllocBStr(mem(c), s)
	if err != nil {
		return 0, err
	}
	return bstr, nil
}

func sysAllocStringLen(c *vm.CPU, stackPtr uint32) (uint32, error) {
	ptr := c.StackArg(stackPtr, 0)
	length := c.StackArg(stackPtr, 1)
	if ptr == 0 {
		bstr, err := com.AllocBStr(mem(c), "")
		return bstr, err
	}
	var units []uint16
	for i := uint32(0); i < length; i++ {
		u, err := c.Mem.ReadU16(ptr + i*2)
		if err != nil {
			break
		}
		units = append(units, u)
	}
	s := decodeUTF16(units)
	bstr, err := com.AllocBStr(mem(c), s)
	if err != nil {
		return 0, err
	}
	return bstr, nil
}

func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for _, u := range units {
		runes = append(runes, rune(u))
	}
	return string(runes)
}

func sysFreeString(c *vm.CPU, stackPtr uint32) (uint32, error) {
	// The heap is bump-allocated and never reclaimed; freeing is a no-op.
	return 0, nil
}

func sysStringLen(c *vm.CPU, stackPtr uint32) (uint32, error) {
	ptr := c.StackArg(stackPtr, 0)
	if ptr == 0 {
		return 0, nil
	}
	n, err := c.Mem.ReadU32(ptr - 4)
	if err != nil {
		return 0, nil
	}
	return n / 2, nil
}

func variantInit(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	if addr == 0 {
		return sOK, nil
	}
	for off := uint32(0); off < com.VariantSize; off += 4 {
		if err := c.Mem.WriteU32(addr+off, 0); err != nil {
			return 0, err
		}
	}
	return sOK, nil
}

func variantClear(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	if addr == 0 {
		return sOK, nil
	}
	if err := c.Mem.WriteU16(addr, com.VtEmpty); err != nil {
		return 0, err
	}
	return sOK, nil
}
