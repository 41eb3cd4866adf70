// Package ntdll backs the two NTDLL.dll stubs this interpreter needs:
// RtlGetCurrentPeb (always returns a null PEB, since no PEB structure is
// materialized in guest memory) and RtlInitializeSListHead (zeroes the
// 8-byte SLIST_HEADER). Grounded on the original interpreter's
// windows/ntdll/{peb,slist}.rs.
package ntdll

import (
	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

// New builds the NTDLL.dll host module.
func New() *winapi.Table {
	t := winapi.NewTable()
	t.Stdcall("RtlGetCurrentPeb", 0, rtlGetCurrentPeb)
	t.Stdcall("RtlInitializeSListHead", 1, rtlInitializeSListHead)
	return t
}

func rtlGetCurrentPeb(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return 0, nil
}

func rtlInitializeSListHead(c *vm.CPU, stackPtr uint32) (uint32, error) {
	header := c.StackArg(stackPtr, 0)
	if header == 0 {
		return 0, nil
	}
	if err := c.Mem.WriteU32(header, 0); err != nil {
		return 0, err
	}
	if err := c.Mem.WriteU32(header+4, 0); err != nil {
		return 0, err
	}
	return 0, nil
}
