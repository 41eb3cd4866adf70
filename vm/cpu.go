package vm

import "github.com/go-kratos/kratos/v2/log"

// opHandler executes one decoded instruction. It receives the decoder
// positioned just past the opcode byte (and, for 0F-map opcodes, past the
// 0x0F lead-in too) so it can pull its own ModR/M, SIB, and immediates.
type opHandler func(c *CPU, d *Decoder, p Prefixes) error

// CPU ties together guest memory, register state, and the host-call bridge
// that backs imported functions, and drives the fetch/decode/execute loop.
type CPU struct {
	Mem    *Memory
	Regs   *Registers
	Bridge *Bridge

	steps uint64
	limit uint64

	log *log.Helper

	baseOps [256]opHandler
	twoOps  [256]opHandler
}

func NewCPU(mem *Memory, bridge *Bridge, limit uint64, logger log.Logger) *CPU {
	c := &CPU{
		Mem:    mem,
		Regs:   NewRegisters(),
		Bridge: bridge,
		limit:  limit,
		log:    log.NewHelper(logger),
	}
	c.initBaseOps()
	c.initTwoByteOps()
	return c
}

// Step decodes and executes one instruction at Regs.EIP, advancing EIP past
// it unless the handler itself redirects control flow (branches, calls,
// returns all set EIP directly and must not be advanced again).
func (c *CPU) Step() error {
	c.steps++
	if c.limit != 0 && c.steps > c.limit {
		return &ExecutionLimit{Limit: c.limit}
	}

	d := NewDecoder(c.Mem, c.Regs, c.Regs.EIP)
	prefixes, _, err := d.Prefixes()
	if err != nil {
		return err
	}

	op, err := d.Opcode()
	if err != nil {
		return err
	}

	real, isTwoByte, err := d.TwoByte(op)
	if err != nil {
		return err
	}

	var handler opHandler
	if isTwoByte {
		handler = c.twoOps[real]
	} else {
		handler = c.baseOps[op]
	}
	if handler == nil {
		return &InvalidConfig{Reason: "unimplemented opcode"}
	}

	if err := handler(c, d, prefixes); err != nil {
		return err
	}
	if c.Regs.EIP == d.start {
		c.Regs.EIP = d.start + d.Len()
	}
	return nil
}

// ExecuteAtWithStack runs the guest starting at entry with esp set so that
// the word at [esp] is a return address the interpreter recognizes as the
// call's completion sentinel; it stops when EIP reaches that sentinel or
// the step limit trips.
func (c *CPU) ExecuteAtWithStack(entry, esp, returnSentinel uint32) error {
	c.Regs.EIP = entry
	c.Regs.SetReg32(RegESP, esp)
	for {
		if c.Regs.EIP == returnSentinel {
			return nil
		}
		if trapped, err := c.Bridge.maybeHandle(c); err != nil {
			return err
		} else if trapped {
			continue
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
}

// ExecuteAtWithStackWithEcx is ExecuteAtWithStack for a thiscall entry point,
// seeding ECX with the instance pointer before the first instruction runs.
func (c *CPU) ExecuteAtWithStackWithEcx(entry, esp, ecx, returnSentinel uint32) error {
	c.Regs.SetReg32(RegECX, ecx)
	return c.ExecuteAtWithStack(entry, esp, returnSentinel)
}

// Call is a re-entrant invocation of guest code: it pushes args right-to-left
// as stdcall expects, pushes a fresh return sentinel, and runs until that
// sentinel is hit, returning EAX. Host stubs use this to call back into the
// guest (e.g. a vtable method) without disturbing whichever outer
// ExecuteAtWithStack loop is already waiting on its own sentinel — each call
// registers and waits on its own address, so nested calls don't collide.
func (c *CPU) Call(entry uint32, args []uint32) (uint32, error) {
	sentinel := c.Bridge.Register(StdCall, 0, func(c *CPU, stackPtr uint32) (uint32, error) {
		return c.Regs.Reg32(RegEAX), nil
	})

	savedESP := c.Regs.Reg32(RegESP)
	for i := len(args) - 1; i >= 0; i-- {
		if err := c.push32(args[i]); err != nil {
			return 0, err
		}
	}
	if err := c.push32(sentinel); err != nil {
		return 0, err
	}

	esp := c.Regs.Reg32(RegESP)
	savedEIP := c.Regs.EIP
	if err := c.ExecuteAtWithStack(entry, esp, sentinel); err != nil {
		return 0, err
	}
	result := c.Regs.Reg32(RegEAX)
	c.Regs.SetReg32(RegESP, savedESP)
	c.Regs.EIP = savedEIP
	return result, nil
}

// StackArg reads the n-th stdcall argument (0-indexed) relative to
// stackPtr, the address a host stub receives — stackPtr itself holds the
// return address, so the first argument sits at stackPtr+4.
func (c *CPU) StackArg(stackPtr uint32, n int) uint32 {
	v, err := c.Mem.ReadU32(stackPtr + 4 + uint32(n)*4)
	if err != nil {
		return 0
	}
	return v
}

func (c *CPU) push32(v uint32) error {
	esp := c.Regs.Reg32(RegESP) - 4
	if err := c.Mem.WriteU32(esp, v); err != nil {
		return err
	}
	c.Regs.SetReg32(RegESP, esp)
	return nil
}

func (c *CPU) pop32() (uint32, error) {
	esp := c.Regs.Reg32(RegESP)
	v, err := c.Mem.ReadU32(esp)
	if err != nil {
		return 0, err
	}
	c.Regs.SetReg32(RegESP, esp+4)
	return v, nil
}

// readRM32/writeRM32 resolve a decoded ModR/M to its 32-bit value, reading
// a register directly or dereferencing EffAddr for memory operands.
func (c *CPU) readRM32(m ModRM) (uint32, error) {
	if m.IsRegister {
		return c.Regs.Reg32(m.RM), nil
	}
	return c.Mem.ReadU32(m.EffAddr)
}

func (c *CPU) writeRM32(m ModRM, v uint32) error {
	if m.IsRegister {
		c.Regs.SetReg32(m.RM, v)
		return nil
	}
	return c.Mem.WriteU32(m.EffAddr, v)
}

func (c *CPU) readRM8(m ModRM) (uint8, error) {
	if m.IsRegister {
		return c.Regs.Reg8(m.RM), nil
	}
	return c.Mem.ReadU8(m.EffAddr)
}

func (c *CPU) writeRM8(m ModRM, v uint8) error {
	if m.IsRegister {
		c.Regs.SetReg8(m.RM, v)
		return nil
	}
	return c.Mem.WriteU8(m.EffAddr, v)
}
