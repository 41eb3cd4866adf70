package vm

// opMOV_EvGv / opMOV_GvEv implement the two directions of 32-bit MOV
// between a ModR/M operand and a general register.
func (c *CPU) opMOV_EvGv(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	return c.writeRM32(m, c.Regs.Reg32(m.Reg))
}

func (c *CPU) opMOV_GvEv(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	c.Regs.SetReg32(m.Reg, v)
	return nil
}

func (c *CPU) opMOV_EbGb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	return c.writeRM8(m, c.Regs.Reg8(m.Reg))
}

func (c *CPU) opMOV_GbEb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	c.Regs.SetReg8(m.Reg, v)
	return nil
}

// movRegImm32 builds the B8+r MOV reg32, imm32 handler for register index r.
func (c *CPU) movRegImm32(r byte) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		imm, err := d.Imm32()
		if err != nil {
			return err
		}
		c.Regs.SetReg32(r, imm)
		return nil
	}
}

// opMOV_EvIz implements the 0xC7 /0 MOV Ev, imm32.
func (c *CPU) opMOV_EvIz(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	imm, err := d.Imm32()
	if err != nil {
		return err
	}
	return c.writeRM32(m, imm)
}

// opLEA computes the ModR/M effective address without dereferencing it.
func (c *CPU) opLEA(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	if m.IsRegister {
		return &InvalidConfig{Reason: "LEA with register operand"}
	}
	c.Regs.SetReg32(m.Reg, m.EffAddr)
	return nil
}

// opMOVZX_GvEb / opMOVZX_GvEw zero-extend an 8/16-bit source into a 32-bit
// destination register.
func (c *CPU) opMOVZX_GvEb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	c.Regs.SetReg32(m.Reg, uint32(v))
	return nil
}

func (c *CPU) opMOVSX_GvEb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	c.Regs.SetReg32(m.Reg, uint32(int32(int8(v))))
	return nil
}

// opXCHG_EvGv swaps a ModR/M operand with a general register.
func (c *CPU) opXCHG_EvGv(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	a, err := c.readRM32(m)
	if err != nil {
		return err
	}
	b := c.Regs.Reg32(m.Reg)
	if err := c.writeRM32(m, b); err != nil {
		return err
	}
	c.Regs.SetReg32(m.Reg, a)
	return nil
}

// pushRegOp / popRegOp build the 0x50+r / 0x58+r single-register PUSH/POP
// handlers.
func (c *CPU) pushRegOp(r byte) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		return c.push32(c.Regs.Reg32(r))
	}
}

func (c *CPU) popRegOp(r byte) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		v, err := c.pop32()
		if err != nil {
			return err
		}
		c.Regs.SetReg32(r, v)
		return nil
	}
}

func (c *CPU) opPUSH_Iz(d *Decoder, p Prefixes) error {
	imm, err := d.Imm32()
	if err != nil {
		return err
	}
	return c.push32(imm)
}

func (c *CPU) opPUSH_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	return c.push32(v)
}

func (c *CPU) opPOP_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.pop32()
	if err != nil {
		return err
	}
	return c.writeRM32(m, v)
}

// cmovHandler builds a CMOVcc Gv, Ev handler (0F 40+cc): the move only
// commits when cond reports true for the current flags.
func (c *CPU) cmovHandler(cond condFunc) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		m, err := d.ModRM(p)
		if err != nil {
			return err
		}
		v, err := c.readRM32(m)
		if err != nil {
			return err
		}
		if cond(c.Regs.Flags) {
			c.Regs.SetReg32(m.Reg, v)
		}
		return nil
	}
}
