package winapi

import (
	"testing"

	"github.com/m3m0r7/pevm/vm"
)

func TestTableResolveByName(t *testing.T) {
	table := NewTable()
	table.Stdcall("GetVersion", 0, func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		return 0x0A00, nil
	})
	table.Cdecl("printf", 1, func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		return 0, nil
	})

	tests := []struct {
		name     string
		fn       vm.ImportFunction
		wantOk   bool
		wantConv vm.CallConv
		wantSize uint32
	}{
		{"stdcall hit", vm.ImportFunction{Name: "GetVersion"}, true, vm.StdCall, 0},
		{"cdecl hit", vm.ImportFunction{Name: "printf"}, true, vm.CdeclCall, 4},
		{"miss", vm.ImportFunction{Name: "NoSuchFunction"}, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, conv, size, ok := table.Resolve(tt.fn)
			if ok != tt.wantOk {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.fn.Name, ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if stub == nil {
				t.Errorf("Resolve(%q) returned a nil stub for a hit", tt.fn.Name)
			}
			if conv != tt.wantConv {
				t.Errorf("Resolve(%q) conv = %v, want %v", tt.fn.Name, conv, tt.wantConv)
			}
			if size != tt.wantSize {
				t.Errorf("Resolve(%q) argSize = %d, want %d", tt.fn.Name, size, tt.wantSize)
			}
		})
	}
}

func TestTableResolveByOrdinal(t *testing.T) {
	table := NewTable()
	table.StdcallOrdinal(6, 2, func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		return 0, nil
	})

	stub, conv, _, ok := table.Resolve(vm.ImportFunction{ByOrdinal: true, Ordinal: 6})
	if !ok {
		t.Fatalf("Resolve(ordinal 6) = not found, want a hit")
	}
	if stub == nil {
		t.Errorf("Resolve(ordinal 6) returned a nil stub")
	}
	if conv != vm.StdCall {
		t.Errorf("Resolve(ordinal 6) conv = %v, want StdCall", conv)
	}

	if _, _, _, ok := table.Resolve(vm.ImportFunction{ByOrdinal: true, Ordinal: 7}); ok {
		t.Errorf("Resolve(ordinal 7) = found, want miss")
	}

	// A name lookup must not accidentally match an ordinal-only entry.
	if _, _, _, ok := table.Resolve(vm.ImportFunction{Name: "6"}); ok {
		t.Errorf("Resolve(name %q) = found, want miss (ordinal table is separate)", "6")
	}
}
