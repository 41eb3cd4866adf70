// Package kernel32 backs the subset of KERNEL32.dll a loaded PE32 image
// typically imports: module/process queries, TLS, interlocked primitives,
// and console output. Grounded on the original interpreter's
// windows/kernel32/{module,interlocked,tls,console,process,dynamic}.rs.
package kernel32

import (
	"fmt"
	"os"
	"time"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

// New builds the KERNEL32.dll host module.
func New() *winapi.Table {
	t := winapi.NewTable()

	t.Stdcall("GetModuleHandleA", 1, getModuleHandle)
	t.Stdcall("GetModuleHandleW", 1, getModuleHandle)
	t.Stdcall("GetModuleHandleExW", 3, getModuleHandleEx)
	t.Stdcall("GetCommandLineA", 0, getCommandLineA)
	t.Stdcall("LoadLibraryA", 1, loadLibrary)
	t.Stdcall("LoadLibraryExA", 3, loadLibrary)
	t.Stdcall("LoadLibraryW", 1, loadLibrary)
	t.Stdcall("FreeLibrary", 1, returnOne)
	t.Stdcall("GetProcAddress", 2, getProcAddress)
	t.Stdcall("DisableThreadLibraryCalls", 1, returnOne)
	t.Stdcall("ExitProcess", 1, exitProcess)

	t.Stdcall("InterlockedIncrement", 1, interlockedIncrement)
	t.Stdcall("InterlockedDecrement", 1, interlockedDecrement)
	t.Stdcall("InterlockedExchange", 2, interlockedExchange)
	t.Stdcall("InterlockedCompareExchange", 3, interlockedCompareExchange)

	t.Stdcall("TlsAlloc", 0, tlsAlloc)
	t.Stdcall("TlsGetValue", 1, tlsGetValue)
	t.Stdcall("TlsSetValue", 2, tlsSetValue)
	t.Stdcall("TlsFree", 1, returnOne)

	t.Stdcall("GetLastError", 0, getLastError)
	t.Stdcall("SetLastError", 1, setLastError)

	t.Stdcall("Sleep", 1, sleep)
	t.Stdcall("GetTickCount", 0, getTickCount)

	t.Stdcall("WriteConsoleA", 5, writeConsoleA)
	t.Stdcall("GetStdHandle", 1, getStdHandle)

	t.Stdcall("HeapAlloc", 3, heapAlloc)
	t.Stdcall("HeapFree", 3, returnOne)
	t.Stdcall("HeapCreate", 3, heapCreate)
	t.Stdcall("GetProcessHeap", 0, heapCreate)

	return t
}

func getModuleHandle(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return c.Mem.Base(), nil
}

func getModuleHandleEx(c *vm.CPU, stackPtr uint32) (uint32, error) {
	out := c.StackArg(stackPtr, 2)
	if out != 0 {
		_ = c.Mem.WriteU32(out, c.Mem.Base())
	}
	return 1, nil
}

func getCommandLineA(c *vm.CPU, stackPtr uint32) (uint32, error) {
	ptr, err := c.Mem.AllocBytes([]byte("module.exe\x00"), 1)
	if err != nil {
		return 0, err
	}
	return ptr, nil
}

// loadLibrary cannot actually map a second guest image mid-execution; it
// reports success with the caller's own base so code that merely checks
// for a non-null handle keeps going, matching a common "this DLL is
// already loaded" shortcut.
func loadLibrary(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return c.Mem.Base(), nil
}

func returnOne(c *vm.CPU, stackPtr uint32) (uint32, error) { return 1, nil }

// getProcAddress only resolves against statically bound imports (patched
// into the IAT at load time); dynamic export-table lookups against a
// second in-VM module are out of scope, so an unrecognized name fails.
func getProcAddress(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return 0, nil
}

func exitProcess(c *vm.CPU, stackPtr uint32) (uint32, error) {
	code := c.StackArg(stackPtr, 0)
	return 0, &vm.ExecutionLimit{Limit: uint64(code)}
}

func interlockedIncrement(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	if addr == 0 {
		return 0, nil
	}
	v, _ := c.Mem.ReadU32(addr)
	v++
	if err := c.Mem.WriteU32(addr, v); err != nil {
		return 0, err
	}
	return v, nil
}

func interlockedDecrement(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	if addr == 0 {
		return 0, nil
	}
	v, _ := c.Mem.ReadU32(addr)
	v--
	if err := c.Mem.WriteU32(addr, v); err != nil {
		return 0, err
	}
	return v, nil
}

func interlockedExchange(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	value := c.StackArg(stackPtr, 1)
	if addr == 0 {
		return 0, nil
	}
	prev, _ := c.Mem.ReadU32(addr)
	if err := c.Mem.WriteU32(addr, value); err != nil {
		return 0, err
	}
	return prev, nil
}

func interlockedCompareExchange(c *vm.CPU, stackPtr uint32) (uint32, error) {
	addr := c.StackArg(stackPtr, 0)
	exchange := c.StackArg(stackPtr, 1)
	comparand := c.StackArg(stackPtr, 2)
	if addr == 0 {
		return 0, nil
	}
	prev, _ := c.Mem.ReadU32(addr)
	if prev == comparand {
		if err := c.Mem.WriteU32(addr, exchange); err != nil {
			return 0, err
		}
	}
	return prev, nil
}

var nextTlsSlot uint32 = 1

func tlsAlloc(c *vm.CPU, stackPtr uint32) (uint32, error) {
	slot := nextTlsSlot
	nextTlsSlot++
	return slot, nil
}

func tlsGetValue(c *vm.CPU, stackPtr uint32) (uint32, error) {
	slot := c.StackArg(stackPtr, 0)
	return c.Regs.GetTLS(slot), nil
}

func tlsSetValue(c *vm.CPU, stackPtr uint32) (uint32, error) {
	slot := c.StackArg(stackPtr, 0)
	value := c.StackArg(stackPtr, 1)
	c.Regs.SetTLS(slot, value)
	return 1, nil
}

func getLastError(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return c.Regs.LastError(), nil
}

func setLastError(c *vm.CPU, stackPtr uint32) (uint32, error) {
	c.Regs.SetLastError(c.StackArg(stackPtr, 0))
	return 0, nil
}

func sleep(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return 0, nil
}

var processStart = time.Now()

func getTickCount(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return uint32(time.Since(processStart).Milliseconds()), nil
}

func getStdHandle(c *vm.CPU, stackPtr uint32) (uint32, error) {
	which := int32(c.StackArg(stackPtr, 0))
	switch which {
	case -11, -12: // STD_OUTPUT_HANDLE, STD_ERROR_HANDLE
		return 1, nil
	case -10: // STD_INPUT_HANDLE
		return 2, nil
	default:
		return 0, nil
	}
}

func writeConsoleA(c *vm.CPU, stackPtr uint32) (uint32, error) {
	buffer := c.StackArg(stackPtr, 1)
	toWrite := c.StackArg(stackPtr, 2)
	writtenPtr := c.StackArg(stackPtr, 3)

	data, err := c.Mem.ReadBytes(buffer, toWrite)
	if err != nil {
		return 0, nil
	}
	n, _ := fmt.Fprint(os.Stdout, string(data))
	if writtenPtr != 0 {
		_ = c.Mem.WriteU32(writtenPtr, uint32(n))
	}
	return 1, nil
}

var nextHeapHandle uint32 = 0x00420000

func heapCreate(c *vm.CPU, stackPtr uint32) (uint32, error) {
	h := nextHeapHandle
	nextHeapHandle += 0x1000
	return h, nil
}

func heapAlloc(c *vm.CPU, stackPtr uint32) (uint32, error) {
	size := c.StackArg(stackPtr, 2)
	ptr, err := c.Mem.Alloc(size, 8)
	if err != nil {
		return 0, nil
	}
	return ptr, nil
}
