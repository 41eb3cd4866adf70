package vm

// shiftOp identifies the eight /0../7 extensions of the 0xC0/0xC1/0xD0/
// 0xD1/0xD2/0xD3 shift-group opcodes.
type shiftOp int

const (
	shiftRol shiftOp = iota
	shiftRor
	shiftRcl
	shiftRcr
	shiftShl
	shiftShr
	shiftSalAlias
	shiftSar
)

func (c *CPU) applyShift(op shiftOp, v uint32, count uint8) uint32 {
	count &= 0x1F
	if count == 0 {
		return v
	}
	switch op {
	case shiftShl, shiftSalAlias:
		res := v << count
		cf := (v>>(32-count))&1 != 0
		c.Regs.Flags = logicFlags(res)
		c.Regs.Flags.CF = cf
		return res
	case shiftShr:
		cf := (v>>(count-1))&1 != 0
		res := v >> count
		c.Regs.Flags = logicFlags(res)
		c.Regs.Flags.CF = cf
		return res
	case shiftSar:
		cf := (int32(v)>>(count-1))&1 != 0
		res := uint32(int32(v) >> count)
		c.Regs.Flags = logicFlags(res)
		c.Regs.Flags.CF = cf
		return res
	case shiftRol:
		res := (v << count) | (v >> (32 - count))
		c.Regs.Flags.CF = res&1 != 0
		return res
	case shiftRor:
		res := (v >> count) | (v << (32 - count))
		c.Regs.Flags.CF = res&0x80000000 != 0
		return res
	case shiftRcl:
		cf := c.Regs.Flags.CF
		res := v
		for i := uint8(0); i < count; i++ {
			next := res&0x80000000 != 0
			res <<= 1
			if cf {
				res |= 1
			}
			cf = next
		}
		c.Regs.Flags.CF = cf
		return res
	case shiftRcr:
		cf := c.Regs.Flags.CF
		res := v
		for i := uint8(0); i < count; i++ {
			next := res&1 != 0
			res >>= 1
			if cf {
				res |= 0x80000000
			}
			cf = next
		}
		c.Regs.Flags.CF = cf
		return res
	default:
		return v
	}
}

func (c *CPU) shiftGroup(immKind byte) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		m, err := d.ModRM(p)
		if err != nil {
			return err
		}
		var count uint8
		switch immKind {
		case 'i': // 0xC0/0xC1 Eb/Ev, imm8
			v, err := d.Imm8()
			if err != nil {
				return err
			}
			count = v
		case '1': // 0xD0/0xD1 Eb/Ev, 1
			count = 1
		case 'c': // 0xD2/0xD3 Eb/Ev, CL
			count = c.Regs.Reg8(RegCL)
		}
		v, err := c.readRM32(m)
		if err != nil {
			return err
		}
		res := c.applyShift(shiftOp(m.Reg), v, count)
		return c.writeRM32(m, res)
	}
}
