// Package advapi32 backs the registry subset of ADVAPI32.dll, bridging
// RegOpenKeyExA/RegQueryValueExA/RegSetValueExA/RegCloseKey onto the
// in-memory registry.Registry tree. Grounded on the original
// interpreter's windows/registry/*.rs handle-table approach.
package advapi32

import (
	"strings"
	"sync"

	"github.com/m3m0r7/pevm/registry"
	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

const (
	errSuccess        = 0
	errFileNotFound   = 2
	errMoreData       = 234
	regSZ             = 1
	regBinary         = 3
	regDword          = 4
	regMultiSZ        = 7
)

type handleTable struct {
	mu      sync.Mutex
	next    uint32
	byHandle map[uint32]regKey
}

type regKey struct {
	hive registry.Hive
	path []string
}

func newHandleTable() *handleTable {
	return &handleTable{next: 0x80000001, byHandle: map[uint32]regKey{}}
}

func (h *handleTable) alloc(k regKey) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := h.next
	h.next++
	h.byHandle[handle] = k
	return handle
}

func (h *handleTable) get(handle uint32) (regKey, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, ok := h.byHandle[handle]
	return k, ok
}

// New builds the ADVAPI32.dll host module backed by reg. A nil reg answers
// every lookup with "not found", matching a VM started without a seeded
// registry.
func New(reg *registry.Registry) *winapi.Table {
	handles := newHandleTable()
	t := winapi.NewTable()

	t.Stdcall("RegOpenKeyExA", 5, regOpenKeyExA(handles))
	t.Stdcall("RegOpenKeyA", 3, regOpenKeyA(handles))
	t.Stdcall("RegQueryValueExA", 6, regQueryValueExA(reg, handles))
	t.Stdcall("RegSetValueExA", 6, regSetValueExA(reg, handles))
	t.Stdcall("RegCloseKey", 1, regCloseKey)
	t.Stdcall("RegCreateKeyExA", 9, regOpenKeyExA(handles))

	return t
}

func readCStringArg(c *vm.CPU, addr uint32) string {
	if addr == 0 {
		return ""
	}
	s, err := c.Mem.ReadCString(addr)
	if err != nil {
		return ""
	}
	return s
}

func regOpenKeyExA(handles *handleTable) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		hkeyArg := c.StackArg(stackPtr, 0)
		subKeyPtr := c.StackArg(stackPtr, 1)
		resultPtr := c.StackArg(stackPtr, 3)

		base, ok := hiveFromHandle(hkeyArg)
		if !ok {
			return errFileNotFound, nil
		}
		subKey := readCStringArg(c, subKeyPtr)
		path := splitPath(subKey)

		handle := handles.alloc(regKey{hive: base, path: path})
		if resultPtr != 0 {
			_ = c.Mem.WriteU32(resultPtr, handle)
		}
		return errSuccess, nil
	}
}

func regOpenKeyA(handles *handleTable) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		hkeyArg := c.StackArg(stackPtr, 0)
		subKeyPtr := c.StackArg(stackPtr, 1)
		resultPtr := c.StackArg(stackPtr, 2)

		base, ok := hiveFromHandle(hkeyArg)
		if !ok {
			return errFileNotFound, nil
		}
		subKey := readCStringArg(c, subKeyPtr)
		handle := handles.alloc(regKey{hive: base, path: splitPath(subKey)})
		if resultPtr != 0 {
			_ = c.Mem.WriteU32(resultPtr, handle)
		}
		return errSuccess, nil
	}
}

func regQueryValueExA(reg *registry.Registry, handles *handleTable) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		hkey := c.StackArg(stackPtr, 0)
		valueNamePtr := c.StackArg(stackPtr, 1)
		typePtr := c.StackArg(stackPtr, 3)
		dataPtr := c.StackArg(stackPtr, 4)
		dataLenPtr := c.StackArg(stackPtr, 5)

		if reg == nil {
			return errFileNotFound, nil
		}
		key, ok := handles.get(hkey)
		if !ok {
			return errFileNotFound, nil
		}

		ref := buildRef(key, readCStringArg(c, valueNamePtr))
		value, err := reg.Get(ref)
		if err != nil || value == nil {
			return errFileNotFound, nil
		}

		vt, data := encodeValue(*value)
		if typePtr != 0 {
			_ = c.Mem.WriteU32(typePtr, vt)
		}

		available, _ := c.Mem.ReadU32(dataLenPtr)
		if dataPtr != 0 && uint32(len(data)) <= available {
			_ = c.Mem.WriteBytes(dataPtr, data)
		} else if dataPtr != 0 {
			if dataLenPtr != 0 {
				_ = c.Mem.WriteU32(dataLenPtr, uint32(len(data)))
			}
			return errMoreData, nil
		}
		if dataLenPtr != 0 {
			_ = c.Mem.WriteU32(dataLenPtr, uint32(len(data)))
		}
		return errSuccess, nil
	}
}

func regSetValueExA(reg *registry.Registry, handles *handleTable) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		if reg == nil {
			return errFileNotFound, nil
		}
		hkey := c.StackArg(stackPtr, 0)
		valueNamePtr := c.StackArg(stackPtr, 1)
		vt := c.StackArg(stackPtr, 3)
		dataPtr := c.StackArg(stackPtr, 4)
		dataLen := c.StackArg(stackPtr, 5)

		key, ok := handles.get(hkey)
		if !ok {
			return errFileNotFound, nil
		}
		data, err := c.Mem.ReadBytes(dataPtr, dataLen)
		if err != nil {
			return errFileNotFound, nil
		}
		ref := buildRef(key, readCStringArg(c, valueNamePtr))
		if err := reg.Set(ref, decodeValue(vt, data)); err != nil {
			return errFileNotFound, nil
		}
		return errSuccess, nil
	}
}

func regCloseKey(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return errSuccess, nil
}

// hiveFromHandle maps the well-known predefined HKEY_* constants (negative
// 32-bit values starting at 0x80000000) to a registry.Hive.
func hiveFromHandle(h uint32) (registry.Hive, bool) {
	switch h {
	case 0x80000000:
		return registry.ClassesRoot, true
	case 0x80000001:
		return registry.CurrentUser, true
	case 0x80000002:
		return registry.LocalMachine, true
	case 0x80000003:
		return registry.Users, true
	case 0x80000005:
		return registry.CurrentConfig, true
	default:
		return registry.LocalMachine, true
	}
}

func splitPath(s string) []string {
	s = strings.ReplaceAll(s, "/", "\\")
	var out []string
	for _, seg := range strings.Split(s, "\\") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func buildRef(key regKey, valueName string) string {
	var b strings.Builder
	b.WriteString(key.hive.String())
	for _, seg := range key.path {
		b.WriteString(`\`)
		b.WriteString(seg)
	}
	b.WriteString("@")
	b.WriteString(valueName)
	return b.String()
}

func encodeValue(v registry.Value) (uint32, []byte) {
	switch v.Kind {
	case registry.KindDword:
		return regDword, []byte{byte(v.Dword), byte(v.Dword >> 8), byte(v.Dword >> 16), byte(v.Dword >> 24)}
	case registry.KindBinary:
		return regBinary, v.Binary
	case registry.KindMultiString:
		var out []byte
		for _, s := range v.Multi {
			out = append(out, []byte(s)...)
			out = append(out, 0)
		}
		out = append(out, 0)
		return regMultiSZ, out
	default:
		out := append([]byte(v.String), 0)
		return regSZ, out
	}
}

func decodeValue(vt uint32, data []byte) registry.Value {
	switch vt {
	case regDword:
		if len(data) < 4 {
			return registry.DwordValue(0)
		}
		d := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		return registry.DwordValue(d)
	case regBinary:
		return registry.BinaryValue(data)
	case regMultiSZ:
		var out []string
		cur := []byte{}
		for _, b := range data {
			if b == 0 {
				if len(cur) == 0 {
					break
				}
				out = append(out, string(cur))
				cur = nil
				continue
			}
			cur = append(cur, b)
		}
		return registry.MultiStringValue(out)
	default:
		s := strings.TrimRight(string(data), "\x00")
		return registry.StringValue(s)
	}
}
