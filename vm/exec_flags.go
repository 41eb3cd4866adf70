package vm

func (c *CPU) opCLC(d *Decoder, p Prefixes) error { c.Regs.Flags.CF = false; return nil }
func (c *CPU) opSTC(d *Decoder, p Prefixes) error { c.Regs.Flags.CF = true; return nil }
func (c *CPU) opCMC(d *Decoder, p Prefixes) error { c.Regs.Flags.CF = !c.Regs.Flags.CF; return nil }
func (c *CPU) opCLD(d *Decoder, p Prefixes) error { c.Regs.Flags.DF = false; return nil }
func (c *CPU) opSTD(d *Decoder, p Prefixes) error { c.Regs.Flags.DF = true; return nil }

// opLAHF packs CF (bit 0), ZF (bit 6) and SF (bit 7), plus the always-set
// bit 1, into AH, mirroring the real FLAGS byte layout closely enough for
// callers that only inspect those bits; AF and PF are not modeled.
func (c *CPU) opLAHF(d *Decoder, p Prefixes) error {
	var ah uint8
	if c.Regs.Flags.CF {
		ah |= 1 << 0
	}
	ah |= 1 << 1 // bit 1 is always set in real FLAGS
	if c.Regs.Flags.ZF {
		ah |= 1 << 6
	}
	if c.Regs.Flags.SF {
		ah |= 1 << 7
	}
	c.Regs.SetReg8(RegAH, ah)
	return nil
}

func (c *CPU) opSAHF(d *Decoder, p Prefixes) error {
	ah := c.Regs.Reg8(RegAH)
	c.Regs.Flags.CF = ah&(1<<0) != 0
	c.Regs.Flags.ZF = ah&(1<<6) != 0
	c.Regs.Flags.SF = ah&(1<<7) != 0
	return nil
}
