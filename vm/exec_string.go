package vm

// stringStep advances ESI/EDI by n bytes in the direction DF selects.
func (c *CPU) stringStep(n uint32) {
	esi := c.Regs.Reg32(RegESI)
	edi := c.Regs.Reg32(RegEDI)
	if c.Regs.Flags.DF {
		c.Regs.SetReg32(RegESI, esi-n)
		c.Regs.SetReg32(RegEDI, edi-n)
	} else {
		c.Regs.SetReg32(RegESI, esi+n)
		c.Regs.SetReg32(RegEDI, edi+n)
	}
}

func (c *CPU) movsOnce() error {
	v, err := c.Mem.ReadU32(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	if err := c.Mem.WriteU32(c.Regs.Reg32(RegEDI), v); err != nil {
		return err
	}
	c.stringStep(4)
	return nil
}

func (c *CPU) movsOnceB() error {
	v, err := c.Mem.ReadU8(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	if err := c.Mem.WriteU8(c.Regs.Reg32(RegEDI), v); err != nil {
		return err
	}
	c.stringStep(1)
	return nil
}

func (c *CPU) stosOnce() error {
	if err := c.Mem.WriteU32(c.Regs.Reg32(RegEDI), c.Regs.Reg32(RegEAX)); err != nil {
		return err
	}
	c.stringStep(4)
	return nil
}

func (c *CPU) stosOnceB() error {
	if err := c.Mem.WriteU8(c.Regs.Reg32(RegEDI), c.Regs.Reg8(RegAL)); err != nil {
		return err
	}
	c.stringStep(1)
	return nil
}

func (c *CPU) lodsOnce() error {
	v, err := c.Mem.ReadU32(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	c.Regs.SetReg32(RegEAX, v)
	c.stringStep(4)
	return nil
}

func (c *CPU) lodsOnceB() error {
	v, err := c.Mem.ReadU8(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	c.Regs.SetReg8(RegAL, v)
	c.stringStep(1)
	return nil
}

func (c *CPU) scasOnce() error {
	v, err := c.Mem.ReadU32(c.Regs.Reg32(RegEDI))
	if err != nil {
		return err
	}
	c.Regs.Flags = subFlags(c.Regs.Reg32(RegEAX), v)
	c.stringStep(4)
	return nil
}

func (c *CPU) scasOnceB() error {
	v, err := c.Mem.ReadU8(c.Regs.Reg32(RegEDI))
	if err != nil {
		return err
	}
	c.Regs.Flags = subFlags(uint32(c.Regs.Reg8(RegAL)), uint32(v))
	c.stringStep(1)
	return nil
}

func (c *CPU) cmpsOnce() error {
	a, err := c.Mem.ReadU32(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	b, err := c.Mem.ReadU32(c.Regs.Reg32(RegEDI))
	if err != nil {
		return err
	}
	c.Regs.Flags = subFlags(a, b)
	c.stringStep(4)
	return nil
}

func (c *CPU) cmpsOnceB() error {
	a, err := c.Mem.ReadU8(c.Regs.Reg32(RegESI))
	if err != nil {
		return err
	}
	b, err := c.Mem.ReadU8(c.Regs.Reg32(RegEDI))
	if err != nil {
		return err
	}
	c.Regs.Flags = subFlags(uint32(a), uint32(b))
	c.stringStep(1)
	return nil
}

// repKind distinguishes the three forms of REP handling: unconditional
// (MOVS/STOS/LODS) vs. REPE/REPNE-gated (SCAS/CMPS, which also stop on ZF).
type repKind int

const (
	repNone repKind = iota
	repPlain
	repZF
)

// repeatString drives one or more iterations of step according to the
// prefixes seen, honoring the step limit so a runaway REP cannot hang
// the interpreter.
func (c *CPU) repeatString(p Prefixes, kind repKind, step func() error) error {
	if !p.Rep && !p.Repne {
		return step()
	}
	wantZF := p.Rep
	for {
		if c.Regs.Reg32(RegECX) == 0 {
			return nil
		}
		if err := step(); err != nil {
			return err
		}
		c.Regs.SetReg32(RegECX, c.Regs.Reg32(RegECX)-1)
		if kind == repZF && c.Regs.Flags.ZF != wantZF {
			return nil
		}
		if c.Regs.Reg32(RegECX) == 0 {
			return nil
		}
		c.steps++
		if c.limit != 0 && c.steps > c.limit {
			return &ExecutionLimit{Limit: c.limit}
		}
	}
}

func (c *CPU) opMOVS(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.movsOnce)
}

func (c *CPU) opMOVSB(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.movsOnceB)
}

func (c *CPU) opSTOS(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.stosOnce)
}

func (c *CPU) opSTOSB(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.stosOnceB)
}

func (c *CPU) opLODS(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.lodsOnce)
}

func (c *CPU) opLODSB(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repPlain, c.lodsOnceB)
}

func (c *CPU) opSCAS(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repZF, c.scasOnce)
}

func (c *CPU) opSCASB(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repZF, c.scasOnceB)
}

func (c *CPU) opCMPS(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repZF, c.cmpsOnce)
}

func (c *CPU) opCMPSB(d *Decoder, p Prefixes) error {
	return c.repeatString(p, repZF, c.cmpsOnceB)
}
