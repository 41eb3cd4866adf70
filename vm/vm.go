package vm

import (
	"github.com/go-kratos/kratos/v2/log"
	pe "github.com/m3m0r7/pevm"
)

// VM is the public entry point: a loaded image plus the interpreter that
// runs it. Construct one with New, populate host modules, then Load a
// parsed PE32 file before calling Run/Call.
type VM struct {
	Config  *Config
	Modules map[string]HostModule

	cpu        *CPU
	entryPoint uint32
	missing    []string
}

// New returns an empty VM ready to have host modules registered and an
// image loaded.
func New(cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &VM{Config: cfg, Modules: map[string]HostModule{}}
}

// RegisterModule associates a DLL name (case-insensitive, without
// extension) with the host module that resolves its imports.
func (v *VM) RegisterModule(dllName string, module HostModule) {
	v.Modules[normalizeDLLName(dllName)] = module
}

// Load binds file's imports against the registered modules and maps the
// image into a fresh address space. Missing imports are reported, not
// fatal, unless the caller checks v.MissingImports() itself and decides to
// treat a strict load as an error.
func (v *VM) Load(file *pe.File) error {
	var logger log.Logger
	if v.Config != nil {
		logger = v.Config.Logger
	}
	result, err := Load(file, v.Modules, v.Config.ExecutionLimit, logger)
	if err != nil {
		return err
	}
	v.cpu = result.CPU
	v.entryPoint = result.EntryPoint
	v.missing = result.Missing
	return nil
}

// MissingImports returns the import symbols the loader could not resolve
// against any registered module.
func (v *VM) MissingImports() []string { return v.missing }

// RebindImport supplies a real implementation for an import that Load
// recorded as missing, patching it in place on the bridge the IAT slot
// already points at. Used in permissive mode once a caller registers a host
// module after Load; reports false if name was never missing.
func (v *VM) RebindImport(name string, conv CallConv, argSize uint32, fn StubFunc) bool {
	if !v.cpu.Bridge.Rebind(name, conv, argSize, fn) {
		return false
	}
	v.missing = v.cpu.Bridge.MissingSymbols()
	return true
}

// EntryPoint returns the image's mapped entry-point address.
func (v *VM) EntryPoint() uint32 { return v.entryPoint }

// CPU exposes the underlying interpreter for callers that need direct
// register/memory access (e.g. marshalling COM arguments onto the stack
// before a re-entrant call).
func (v *VM) CPU() *CPU { return v.cpu }

// ExecuteAtWithStack runs the guest at entry with the given stack pointer
// until the return sentinel at returnSentinel is reached.
func (v *VM) ExecuteAtWithStack(entry, esp, returnSentinel uint32) error {
	return v.cpu.ExecuteAtWithStack(entry, esp, returnSentinel)
}

// ExecuteAtWithStackWithEcx is ExecuteAtWithStack for a thiscall entry
// point, seeding ECX with the instance pointer.
func (v *VM) ExecuteAtWithStackWithEcx(entry, esp, ecx, returnSentinel uint32) error {
	return v.cpu.ExecuteAtWithStackWithEcx(entry, esp, ecx, returnSentinel)
}

// Run pushes args right-to-left as 32-bit words onto a fresh stack and runs
// the entry point to completion, returning the guest's EAX result.
func (v *VM) Run(entry uint32, args []uint32) (uint32, error) {
	v.cpu.Regs.SetReg32(RegESP, v.cpu.Mem.StackTop())
	return v.cpu.Call(entry, args)
}
