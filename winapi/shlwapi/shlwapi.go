// Package shlwapi backs the small path-utility subset of SHLWAPI.dll this
// interpreter needs, routing guest paths through vm.Config.MapPath before
// touching the host filesystem. Grounded on the original interpreter's
// windows/shlwapi/path.rs.
package shlwapi

import (
	"os"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

// New builds the SHLWAPI.dll host module. cfg supplies the guest->host
// path mapping table.
func New(cfg *vm.Config) *winapi.Table {
	t := winapi.NewTable()
	t.Stdcall("PathFileExistsA", 1, pathFileExistsA(cfg))
	t.Stdcall("PathFileExistsW", 1, pathFileExistsW(cfg))
	return t
}

func pathFileExistsA(cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		ptr := c.StackArg(stackPtr, 0)
		if ptr == 0 {
			return 0, nil
		}
		path, err := c.Mem.ReadCString(ptr)
		if err != nil {
			return 0, nil
		}
		return existsAsBool(cfg, path), nil
	}
}

func pathFileExistsW(cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		ptr := c.StackArg(stackPtr, 0)
		if ptr == 0 {
			return 0, nil
		}
		path, err := c.Mem.ReadUTF16Z(ptr)
		if err != nil {
			return 0, nil
		}
		return existsAsBool(cfg, path), nil
	}
}

func existsAsBool(cfg *vm.Config, guestPath string) uint32 {
	hostPath := guestPath
	if cfg != nil {
		hostPath = cfg.MapPath(guestPath)
	}
	if _, err := os.Stat(hostPath); err == nil {
		return 1
	}
	return 0
}
