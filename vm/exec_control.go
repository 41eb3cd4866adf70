package vm

// condFunc evaluates one of the sixteen Jcc/SETcc/CMOVcc conditions against
// the current flag state.
type condFunc func(Flags) bool

// jccConditions is the 16-entry condition table keyed by the low nibble of
// the Jcc/SETcc/CMOVcc opcode (0x70+cc, 0x90+cc, 0x40+cc respectively),
// following the Intel SDM's condition mnemonics.
var jccConditions = [16]condFunc{
	0x0: func(f Flags) bool { return f.OF },                    // JO
	0x1: func(f Flags) bool { return !f.OF },                   // JNO
	0x2: func(f Flags) bool { return f.CF },                    // JB/JC
	0x3: func(f Flags) bool { return !f.CF },                   // JAE/JNC
	0x4: func(f Flags) bool { return f.ZF },                    // JE/JZ
	0x5: func(f Flags) bool { return !f.ZF },                   // JNE/JNZ
	0x6: func(f Flags) bool { return f.CF || f.ZF },            // JBE
	0x7: func(f Flags) bool { return !f.CF && !f.ZF },          // JA
	0x8: func(f Flags) bool { return f.SF },                    // JS
	0x9: func(f Flags) bool { return !f.SF },                   // JNS
	0xA: func(f Flags) bool { return false },                   // JP/JPE (parity not modeled, always false)
	0xB: func(f Flags) bool { return true },                    // JNP/JPO
	0xC: func(f Flags) bool { return f.SF != f.OF },            // JL
	0xD: func(f Flags) bool { return f.SF == f.OF },            // JGE
	0xE: func(f Flags) bool { return f.ZF || f.SF != f.OF },    // JLE
	0xF: func(f Flags) bool { return !f.ZF && f.SF == f.OF },   // JG
}

// jccHandler builds a short (rel8) Jcc handler for condition index cc.
func (c *CPU) jccHandler(cc byte) opHandler {
	cond := jccConditions[cc&0xF]
	return func(c *CPU, d *Decoder, p Prefixes) error {
		rel, err := d.Rel8()
		if err != nil {
			return err
		}
		if cond(c.Regs.Flags) {
			c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
		} else {
			c.Regs.EIP = d.start + d.Len()
		}
		return nil
	}
}

// jccNearHandler builds a near (rel32) 0F 80+cc Jcc handler.
func (c *CPU) jccNearHandler(cc byte) opHandler {
	cond := jccConditions[cc&0xF]
	return func(c *CPU, d *Decoder, p Prefixes) error {
		rel, err := d.Rel32()
		if err != nil {
			return err
		}
		if cond(c.Regs.Flags) {
			c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
		} else {
			c.Regs.EIP = d.start + d.Len()
		}
		return nil
	}
}

func (c *CPU) opJMP_Rel8(d *Decoder, p Prefixes) error {
	rel, err := d.Rel8()
	if err != nil {
		return err
	}
	c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
	return nil
}

func (c *CPU) opJMP_Rel32(d *Decoder, p Prefixes) error {
	rel, err := d.Rel32()
	if err != nil {
		return err
	}
	c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
	return nil
}

func (c *CPU) opJMP_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	target, err := c.readRM32(m)
	if err != nil {
		return err
	}
	c.Regs.EIP = target
	return nil
}

// opCALL_Rel32 pushes the return address (the instruction after CALL) and
// transfers control to entry + rel32.
func (c *CPU) opCALL_Rel32(d *Decoder, p Prefixes) error {
	rel, err := d.Rel32()
	if err != nil {
		return err
	}
	ret := d.start + d.Len()
	if err := c.push32(ret); err != nil {
		return err
	}
	c.Regs.EIP = uint32(int32(ret) + rel)
	return nil
}

func (c *CPU) opCALL_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	target, err := c.readRM32(m)
	if err != nil {
		return err
	}
	ret := d.start + d.Len()
	if err := c.push32(ret); err != nil {
		return err
	}
	c.Regs.EIP = target
	return nil
}

func (c *CPU) opRET(d *Decoder, p Prefixes) error {
	ret, err := c.pop32()
	if err != nil {
		return err
	}
	c.Regs.EIP = ret
	return nil
}

// opRET_Iw implements RET imm16, the stdcall-callee-cleanup form: pops the
// return address then discards imm16 bytes of arguments from the stack.
func (c *CPU) opRET_Iw(d *Decoder, p Prefixes) error {
	n, err := d.Imm16()
	if err != nil {
		return err
	}
	ret, err := c.pop32()
	if err != nil {
		return err
	}
	c.Regs.SetReg32(RegESP, c.Regs.Reg32(RegESP)+uint32(n))
	c.Regs.EIP = ret
	return nil
}

// loopHandler builds LOOP/LOOPE/LOOPNE: decrement ECX, branch on ECX!=0
// (optionally gated by ZF for the E/NE forms).
func (c *CPU) loopHandler(checkZF bool, wantZF bool) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		rel, err := d.Rel8()
		if err != nil {
			return err
		}
		ecx := c.Regs.Reg32(RegECX) - 1
		c.Regs.SetReg32(RegECX, ecx)
		take := ecx != 0
		if checkZF {
			take = take && c.Regs.Flags.ZF == wantZF
		}
		if take {
			c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
		} else {
			c.Regs.EIP = d.start + d.Len()
		}
		return nil
	}
}

func (c *CPU) opJCXZ(d *Decoder, p Prefixes) error {
	rel, err := d.Rel8()
	if err != nil {
		return err
	}
	if c.Regs.Reg32(RegECX) == 0 {
		c.Regs.EIP = uint32(int32(d.start) + int32(d.Len()) + rel)
	} else {
		c.Regs.EIP = d.start + d.Len()
	}
	return nil
}

func (c *CPU) opINT3(d *Decoder, p Prefixes) error {
	return &InvalidConfig{Reason: "INT3 breakpoint trap"}
}

func (c *CPU) opHLT(d *Decoder, p Prefixes) error {
	return &ExecutionLimit{Limit: c.steps}
}

func (c *CPU) opNOP(d *Decoder, p Prefixes) error { return nil }
