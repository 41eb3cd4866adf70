// Package winapi collects the per-DLL host module implementations
// (kernel32, advapi32, oleaut32, user32, wininet, winhttp, shlwapi,
// ws2_32, ntdll) that back a loaded image's imports. Each subpackage
// exposes a New(...) *winapi.Table that satisfies vm.HostModule.
package winapi

import "github.com/m3m0r7/pevm/vm"

// Entry is one resolvable import: the calling convention and
// stack-argument size a stub expects, plus the stub itself.
type Entry struct {
	Conv    vm.CallConv
	ArgSize uint32
	Fn      vm.StubFunc
}

// Table is a name- or ordinal-keyed set of stdcall/cdecl stubs for one
// DLL. It satisfies vm.HostModule directly, so every winapi subpackage
// builds one of these instead of hand-rolling Resolve.
type Table struct {
	byName    map[string]Entry
	byOrdinal map[uint32]Entry
}

func NewTable() *Table {
	return &Table{byName: map[string]Entry{}, byOrdinal: map[uint32]Entry{}}
}

// Stdcall registers fn as a stdcall import consuming argCount 32-bit
// stack slots (argCount*4 bytes the callee must clean up).
func (t *Table) Stdcall(name string, argCount int, fn vm.StubFunc) *Table {
	t.byName[name] = Entry{Conv: vm.StdCall, ArgSize: uint32(argCount) * 4, Fn: fn}
	return t
}

// Cdecl registers fn as a cdecl import; the caller cleans the stack, so
// ArgSize is irrelevant to cleanup but kept for introspection.
func (t *Table) Cdecl(name string, argCount int, fn vm.StubFunc) *Table {
	t.byName[name] = Entry{Conv: vm.CdeclCall, ArgSize: uint32(argCount) * 4, Fn: fn}
	return t
}

// StdcallOrdinal registers fn for a DLL export reached only by ordinal
// (common for OLEAUT32's BSTR/VARIANT helpers, which many PE32 images
// import without a name entry at all).
func (t *Table) StdcallOrdinal(ordinal uint32, argCount int, fn vm.StubFunc) *Table {
	t.byOrdinal[ordinal] = Entry{Conv: vm.StdCall, ArgSize: uint32(argCount) * 4, Fn: fn}
	return t
}

func (t *Table) Resolve(function vm.ImportFunction) (vm.StubFunc, vm.CallConv, uint32, bool) {
	if function.ByOrdinal {
		e, ok := t.byOrdinal[function.Ordinal]
		if !ok {
			return nil, 0, 0, false
		}
		return e.Fn, e.Conv, e.ArgSize, true
	}
	e, ok := t.byName[function.Name]
	if !ok {
		return nil, 0, 0, false
	}
	return e.Fn, e.Conv, e.ArgSize, true
}
