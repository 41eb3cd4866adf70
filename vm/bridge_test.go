package vm

import "testing"

func TestBridgeRegisterReturnsDistinctSentinels(t *testing.T) {
	b := NewBridge()
	a1 := b.Register(StdCall, 4, func(c *CPU, stackPtr uint32) (uint32, error) { return 1, nil })
	a2 := b.Register(StdCall, 8, func(c *CPU, stackPtr uint32) (uint32, error) { return 2, nil })
	if a1 == a2 {
		t.Fatalf("Register returned the same sentinel twice: 0x%x", a1)
	}
	if !b.IsSentinel(a1) || !b.IsSentinel(a2) {
		t.Error("IsSentinel false for a just-registered sentinel")
	}
	if b.IsSentinel(a1 + 1000) {
		t.Error("IsSentinel true for an address never registered")
	}
}

func TestBridgeMaybeHandleRunsStubAndCleansStdcallStack(t *testing.T) {
	c, mem := newTestCPU(t)
	bridge := c.Bridge

	sentinel := bridge.Register(StdCall, 8, func(c *CPU, stackPtr uint32) (uint32, error) {
		return c.StackArg(stackPtr, 0) + c.StackArg(stackPtr, 1), nil
	})

	esp := mem.StackTop() - 20
	retAddr := mem.Base() + 0x50
	if err := mem.WriteU32(esp, retAddr); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := mem.WriteU32(esp+4, 3); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := mem.WriteU32(esp+8, 4); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	c.Regs.SetReg32(RegESP, esp)
	c.Regs.EIP = sentinel

	trapped, err := bridge.maybeHandle(c)
	if err != nil {
		t.Fatalf("maybeHandle: %v", err)
	}
	if !trapped {
		t.Fatal("maybeHandle reported EIP as not a sentinel")
	}
	if got := c.Regs.Reg32(RegEAX); got != 7 {
		t.Errorf("EAX = %d, want 7", got)
	}
	if got := c.Regs.EIP; got != retAddr {
		t.Errorf("EIP = 0x%x, want return address 0x%x", got, retAddr)
	}
	if got := c.Regs.Reg32(RegESP); got != esp+4+8 {
		t.Errorf("ESP = 0x%x, want 0x%x (return address popped, stdcall callee cleaned 8 bytes of args)", got, esp+4+8)
	}
}

func TestBridgeMaybeHandleCdeclLeavesArgsForCaller(t *testing.T) {
	c, mem := newTestCPU(t)
	bridge := c.Bridge

	sentinel := bridge.Register(CdeclCall, 8, func(c *CPU, stackPtr uint32) (uint32, error) {
		return 0, nil
	})

	esp := mem.StackTop() - 20
	retAddr := mem.Base() + 0x50
	if err := mem.WriteU32(esp, retAddr); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	c.Regs.SetReg32(RegESP, esp)
	c.Regs.EIP = sentinel

	if _, err := bridge.maybeHandle(c); err != nil {
		t.Fatalf("maybeHandle: %v", err)
	}
	if got := c.Regs.Reg32(RegESP); got != esp+4 {
		t.Errorf("ESP = 0x%x, want 0x%x (cdecl caller cleans up, callee only pops the return address)", got, esp+4)
	}
}

func TestBridgeMaybeHandleReportsUntrappedWhenNotASentinel(t *testing.T) {
	c, _ := newTestCPU(t)
	c.Regs.EIP = 0x00401000
	trapped, err := c.Bridge.maybeHandle(c)
	if err != nil {
		t.Fatalf("maybeHandle: %v", err)
	}
	if trapped {
		t.Error("maybeHandle reported a non-sentinel address as trapped")
	}
}

func TestBridgeMaybeHandlePropagatesStubError(t *testing.T) {
	c, mem := newTestCPU(t)
	bridge := c.Bridge
	sentinel := bridge.Register(StdCall, 0, func(c *CPU, stackPtr uint32) (uint32, error) {
		return 0, &InvalidConfig{Reason: "boom"}
	})
	esp := mem.StackTop() - 4
	if err := mem.WriteU32(esp, mem.Base()); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	c.Regs.SetReg32(RegESP, esp)
	c.Regs.EIP = sentinel

	trapped, err := bridge.maybeHandle(c)
	if !trapped {
		t.Error("maybeHandle reported not-trapped for a registered sentinel that errored")
	}
	if err == nil {
		t.Error("maybeHandle swallowed the stub's error")
	}
}

func TestBridgeMissingSymbolsSortsRegisteredMissingNames(t *testing.T) {
	b := NewBridge()
	b.RegisterMissing("kernel32!Zeta")
	b.RegisterMissing("kernel32!Alpha")

	got := b.MissingSymbols()
	want := []string{"kernel32!Alpha", "kernel32!Zeta"}
	if len(got) != len(want) {
		t.Fatalf("MissingSymbols() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MissingSymbols()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBridgeRebindReplacesMissingStubAndDropsItFromMissingSymbols(t *testing.T) {
	b := NewBridge()
	addr := b.RegisterMissing("kernel32!Alpha")

	called := false
	ok := b.Rebind("kernel32!Alpha", StdCall, 4, func(c *CPU, stackPtr uint32) (uint32, error) {
		called = true
		return 42, nil
	})
	if !ok {
		t.Fatal("Rebind reported false for a name registered as missing")
	}
	if got := b.MissingSymbols(); len(got) != 0 {
		t.Errorf("MissingSymbols() after Rebind = %v, want empty", got)
	}

	stub, ok := b.stubs[addr]
	if !ok {
		t.Fatal("Rebind did not leave a stub at the original sentinel address")
	}
	if _, err := stub.fn(nil, 0); err != nil {
		t.Errorf("rebound stub returned an error: %v", err)
	}
	if !called {
		t.Error("rebound stub was not the replacement function")
	}

	if b.Rebind("kernel32!NeverMissing", StdCall, 0, nil) {
		t.Error("Rebind reported true for a name never recorded as missing")
	}
}
