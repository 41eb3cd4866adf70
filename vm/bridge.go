package vm

import "sort"

// hostCallBase is the first address of the synthetic "host-call page": a
// range outside any mapped image, heap, or stack region that exists only
// so import thunks have somewhere to point. The interpreter never executes
// the bytes there; it intercepts EIP landing on one of these addresses
// before fetching an opcode.
const hostCallBase = 0xF0000000

// StubFunc is a host-implemented import. It reads its arguments from guest
// memory starting at stackPtr+4 and returns the 32-bit value EAX receives.
type StubFunc func(c *CPU, stackPtr uint32) (uint32, error)

type registeredStub struct {
	conv    CallConv
	argSize uint32
	fn      StubFunc
}

// Bridge is the host-call bridge: it owns the sentinel-address space import
// thunks are bound to, and the re-entrant path that lets a stub call back
// into guest code (e.g. IDispatch::Invoke on an in-proc vtable).
type Bridge struct {
	stubs   map[uint32]*registeredStub
	missing map[string]uint32
	next    uint32
}

func NewBridge() *Bridge {
	return &Bridge{
		stubs:   map[uint32]*registeredStub{},
		missing: map[string]uint32{},
		next:    hostCallBase,
	}
}

// Register assigns a fresh sentinel address to fn and returns it; the
// loader patches this address into the IAT slot for (module, function).
func (b *Bridge) Register(conv CallConv, argSize uint32, fn StubFunc) uint32 {
	addr := b.next
	b.next += 4
	b.stubs[addr] = &registeredStub{conv: conv, argSize: argSize, fn: fn}
	return addr
}

// RegisterMissing is Register for an import the loader could not resolve
// against any host module: it binds name's sentinel to a stub that faults
// with MissingImports if ever actually called, and tracks name so a later
// Rebind can replace it without touching the IAT slot the loader already
// wrote.
func (b *Bridge) RegisterMissing(name string) uint32 {
	addr := b.Register(StdCall, 0, missingImportStub(name))
	b.missing[name] = addr
	return addr
}

// Rebind replaces the stub bound to a previously-missing import, in place,
// so the IAT slot the loader patched at Load time now calls fn without any
// re-mapping. Used by a caller running in permissive mode that registers a
// host module after Load and wants to bind its functions retroactively.
// Reports false if name was never recorded as missing.
func (b *Bridge) Rebind(name string, conv CallConv, argSize uint32, fn StubFunc) bool {
	addr, ok := b.missing[name]
	if !ok {
		return false
	}
	b.stubs[addr] = &registeredStub{conv: conv, argSize: argSize, fn: fn}
	delete(b.missing, name)
	return true
}

// IsSentinel reports whether addr was handed out by Register.
func (b *Bridge) IsSentinel(addr uint32) bool {
	_, ok := b.stubs[addr]
	return ok
}

// maybeHandle intercepts EIP landing on a registered sentinel, runs the
// stub, and performs the calling-convention-appropriate stack cleanup.
// It reports (false, nil) when EIP is not a sentinel, so the caller's loop
// falls through to the normal fetch/decode/execute step.
func (b *Bridge) maybeHandle(c *CPU) (bool, error) {
	stub, ok := b.stubs[c.Regs.EIP]
	if !ok {
		return false, nil
	}

	stackPtr := c.Regs.Reg32(RegESP)
	result, err := stub.fn(c, stackPtr)
	if err != nil {
		return true, err
	}
	c.Regs.SetReg32(RegEAX, result)

	ret, err := c.pop32()
	if err != nil {
		return true, err
	}
	if stub.conv != CdeclCall {
		c.Regs.SetReg32(RegESP, c.Regs.Reg32(RegESP)+stub.argSize)
	}
	c.Regs.EIP = ret
	return true, nil
}

// MissingSymbols returns the sorted names still bound to a missing-import
// stub. A name drops out of this list once Rebind supplies a real
// implementation for it, so a caller that registers host modules after Load
// can re-check this after each Rebind to see what's still unresolved.
func (b *Bridge) MissingSymbols() []string {
	out := make([]string, 0, len(b.missing))
	for name := range b.missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
