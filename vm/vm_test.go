package vm

import (
	"io"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
)

func newTestVM(t *testing.T) (*VM, *Memory) {
	t.Helper()
	mem := NewMemory(0x00400000, 0x2000)
	bridge := NewBridge()
	cpu := NewCPU(mem, bridge, 1000, log.NewStdLogger(io.Discard))
	v := &VM{
		Config:     NewConfig(),
		Modules:    map[string]HostModule{},
		cpu:        cpu,
		entryPoint: mem.Base() + 0x10,
		missing:    []string{"kernel32!FooBar"},
	}
	return v, mem
}

func TestVMEntryPointAndMissingImportsWiring(t *testing.T) {
	v, mem := newTestVM(t)
	if got, want := v.EntryPoint(), mem.Base()+0x10; got != want {
		t.Errorf("EntryPoint() = 0x%x, want 0x%x", got, want)
	}
	missing := v.MissingImports()
	if len(missing) != 1 || missing[0] != "kernel32!FooBar" {
		t.Errorf("MissingImports() = %v, want [kernel32!FooBar]", missing)
	}
	if v.CPU() == nil {
		t.Error("CPU() returned nil after a successful load")
	}
}

func TestVMRegisterModuleNormalizesDLLName(t *testing.T) {
	v, _ := newTestVM(t)
	mod := fakeHostModule{}
	v.RegisterModule("KERNEL32.dll", mod)
	if _, ok := v.Modules["kernel32"]; !ok {
		t.Error("RegisterModule did not normalize the DLL name to lowercase without extension")
	}
}

type fakeHostModule struct{}

func (fakeHostModule) Resolve(fn ImportFunction) (StubFunc, CallConv, uint32, bool) {
	return nil, StdCall, 0, false
}

func TestVMRunExecutesEntryPointAndReturnsEax(t *testing.T) {
	v, mem := newTestVM(t)
	entry := mem.Base() + 0x10
	// mov eax, arg1; ret 4 (single stdcall arg, callee cleans up)
	code := []byte{
		0x8B, 0x44, 0x24, 0x04,
		0xC2, 0x04, 0x00,
	}
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	got, err := v.Run(entry, []uint32{77})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 77 {
		t.Errorf("Run() = %d, want 77", got)
	}
}

func TestVMExecuteAtWithStackRunsUntilSentinel(t *testing.T) {
	v, mem := newTestVM(t)
	entry := mem.Base() + 0x10
	code := []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3} // mov eax, 42; ret
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	esp := mem.StackTop() - 4
	const sentinel = 0xCAFEBABE
	if err := mem.WriteU32(esp, sentinel); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := v.ExecuteAtWithStack(entry, esp, sentinel); err != nil {
		t.Fatalf("ExecuteAtWithStack: %v", err)
	}
	if got := v.CPU().Regs.Reg32(RegEAX); got != 42 {
		t.Errorf("EAX = %d, want 42", got)
	}
}
