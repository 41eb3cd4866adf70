package shlwapi

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/m3m0r7/pevm/vm"
)

func TestPathFileExistsAMapsGuestPathToHost(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := vm.NewConfig()
	cfg.Paths = vm.PathMapping{`C:\guest`: dir}

	mem := vm.NewMemory(0x00400000, 0x1000)
	c := vm.NewCPU(mem, vm.NewBridge(), 1000, log.NewStdLogger(io.Discard))

	tests := []struct {
		name string
		path string
		want uint32
	}{
		{"mapped file that exists", `C:\guest\present.txt`, 1},
		{"mapped file that does not exist", `C:\guest\missing.txt`, 0},
	}

	stub := pathFileExistsA(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptr, err := mem.AllocBytes(append([]byte(tt.path), 0), 1)
			if err != nil {
				t.Fatalf("AllocBytes: %v", err)
			}
			stackPtr := mem.StackBottom() + 0x100
			if err := mem.WriteU32(stackPtr, 0xFFFFFFFF); err != nil {
				t.Fatalf("WriteU32: %v", err)
			}
			if err := mem.WriteU32(stackPtr+4, ptr); err != nil {
				t.Fatalf("WriteU32: %v", err)
			}

			got, err := stub(c, stackPtr)
			if err != nil {
				t.Fatalf("pathFileExistsA: %v", err)
			}
			if got != tt.want {
				t.Errorf("pathFileExistsA(%q) = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathFileExistsANullPointer(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	c := vm.NewCPU(mem, vm.NewBridge(), 1000, log.NewStdLogger(io.Discard))

	stackPtr := mem.StackBottom() + 0x100
	if err := mem.WriteU32(stackPtr, 0xFFFFFFFF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := mem.WriteU32(stackPtr+4, 0); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	got, err := pathFileExistsA(vm.NewConfig())(c, stackPtr)
	if err != nil {
		t.Fatalf("pathFileExistsA: %v", err)
	}
	if got != 0 {
		t.Errorf("pathFileExistsA(nil) = %d, want 0", got)
	}
}
