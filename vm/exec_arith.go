package vm

// arithOp is one of the eight ALU operations addressable by the
// /0../7 extension field of the 0x80/0x81/0x83 immediate-group opcodes,
// and by the 0x00-0x3D two-operand opcode block.
type arithOp int

const (
	arithAdd arithOp = iota
	arithOr
	arithAdc
	arithSbb
	arithAnd
	arithSub
	arithXor
	arithCmp
)

func (c *CPU) applyArith(op arithOp, a, b uint32) uint32 {
	switch op {
	case arithAdd:
		res := a + b
		c.Regs.Flags = addFlags(a, b)
		return res
	case arithAdc:
		carry := uint32(0)
		if c.Regs.Flags.CF {
			carry = 1
		}
		res := a + b + carry
		c.Regs.Flags = addFlags(a, b+carry)
		return res
	case arithSub, arithCmp:
		res := a - b
		c.Regs.Flags = subFlags(a, b)
		return res
	case arithSbb:
		borrow := uint32(0)
		if c.Regs.Flags.CF {
			borrow = 1
		}
		res := a - b - borrow
		c.Regs.Flags = subFlags(a, b+borrow)
		return res
	case arithAnd:
		res := a & b
		c.Regs.Flags = logicFlags(res)
		return res
	case arithOr:
		res := a | b
		c.Regs.Flags = logicFlags(res)
		return res
	case arithXor:
		res := a ^ b
		c.Regs.Flags = logicFlags(res)
		return res
	default:
		return 0
	}
}

// arithEvGv implements the "Ev, Gv" encoding: ModR/M r/m is the
// destination, ModR/M reg is the source.
func (c *CPU) arithEvGv(op arithOp, d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	dst, err := c.readRM32(m)
	if err != nil {
		return err
	}
	src := c.Regs.Reg32(m.Reg)
	res := c.applyArith(op, dst, src)
	if op == arithCmp {
		return nil
	}
	return c.writeRM32(m, res)
}

// arithGvEv implements the "Gv, Ev" encoding: ModR/M reg is the
// destination, ModR/M r/m is the source.
func (c *CPU) arithGvEv(op arithOp, d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	dst := c.Regs.Reg32(m.Reg)
	src, err := c.readRM32(m)
	if err != nil {
		return err
	}
	res := c.applyArith(op, dst, src)
	if op == arithCmp {
		return nil
	}
	c.Regs.SetReg32(m.Reg, res)
	return nil
}

// arithEaxImm32 implements the accumulator-immediate short encoding
// (e.g. 0x05 ADD EAX, imm32).
func (c *CPU) arithEaxImm32(op arithOp, d *Decoder, p Prefixes) error {
	imm, err := d.Imm32()
	if err != nil {
		return err
	}
	res := c.applyArith(op, c.Regs.Reg32(RegEAX), imm)
	if op != arithCmp {
		c.Regs.SetReg32(RegEAX, res)
	}
	return nil
}

// group1Ev dispatches the 0x81 (imm32) / 0x83 (imm8, sign-extended) ALU
// immediate-group opcodes, whose operation is selected by ModR/M's reg field.
func (c *CPU) group1Ev(immIsByte bool) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		m, err := d.ModRM(p)
		if err != nil {
			return err
		}
		var imm uint32
		if immIsByte {
			v, err := d.Rel8()
			if err != nil {
				return err
			}
			imm = uint32(v)
		} else {
			imm, err = d.Imm32()
			if err != nil {
				return err
			}
		}
		dst, err := c.readRM32(m)
		if err != nil {
			return err
		}
		res := c.applyArith(arithOp(m.Reg), dst, imm)
		if arithOp(m.Reg) == arithCmp {
			return nil
		}
		return c.writeRM32(m, res)
	}
}

// group1Eb implements the 0x80 byte-immediate ALU immediate-group opcode
// (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP r/m8, imm8), the 8-bit sibling of
// group1Ev's 0x81/0x83 forms.
func (c *CPU) group1Eb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	imm, err := d.Imm8()
	if err != nil {
		return err
	}
	dst, err := c.readRM8(m)
	if err != nil {
		return err
	}
	res := c.applyArith(arithOp(m.Reg), uint32(dst), uint32(imm))
	if arithOp(m.Reg) == arithCmp {
		return nil
	}
	return c.writeRM8(m, uint8(res))
}

// opINC_Ev / opDEC_Ev implement single-operand INC/DEC on a ModR/M operand;
// unlike ADD/SUB these never touch CF, per the Intel SDM.
func (c *CPU) opINC_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	res := v + 1
	cf := c.Regs.Flags.CF
	c.Regs.Flags = addFlags(v, 1)
	c.Regs.Flags.CF = cf
	return c.writeRM32(m, res)
}

func (c *CPU) opDEC_Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	res := v - 1
	cf := c.Regs.Flags.CF
	c.Regs.Flags = subFlags(v, 1)
	c.Regs.Flags.CF = cf
	return c.writeRM32(m, res)
}

// opTEST_EvGv computes AND but discards the result, only updating flags.
func (c *CPU) opTEST_EvGv(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	c.Regs.Flags = logicFlags(v & c.Regs.Reg32(m.Reg))
	return nil
}

// opTEST_EbGb is the byte-operand form of TEST: it must only ever fold in
// the 8 bits named by ModR/M, not the full 32-bit register those bits
// belong to.
func (c *CPU) opTEST_EbGb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	c.Regs.Flags = logicFlags(uint32(v & c.Regs.Reg8(m.Reg)))
	return nil
}

// group3Ev implements the 0xF7 unary-group opcode: NOT/NEG/MUL/DIV,
// selected by ModR/M's reg field.
func (c *CPU) group3Ev(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	switch m.Reg {
	case 2: // NOT
		return c.writeRM32(m, ^v)
	case 3: // NEG
		res := uint32(0) - v
		c.Regs.Flags = subFlags(0, v)
		c.Regs.Flags.CF = v != 0
		return c.writeRM32(m, res)
	case 4: // MUL EAX, Ev (unsigned)
		prod := uint64(c.Regs.Reg32(RegEAX)) * uint64(v)
		c.Regs.SetReg32(RegEAX, uint32(prod))
		c.Regs.SetReg32(RegEDX, uint32(prod>>32))
		carry := uint32(prod>>32) != 0
		c.Regs.Flags.CF, c.Regs.Flags.OF = carry, carry
		return nil
	case 6: // DIV EAX:EDX, Ev (unsigned)
		if v == 0 {
			return &InvalidConfig{Reason: "division by zero"}
		}
		dividend := uint64(c.Regs.Reg32(RegEDX))<<32 | uint64(c.Regs.Reg32(RegEAX))
		c.Regs.SetReg32(RegEAX, uint32(dividend/uint64(v)))
		c.Regs.SetReg32(RegEDX, uint32(dividend%uint64(v)))
		return nil
	default:
		return &InvalidConfig{Reason: "unimplemented group3 extension"}
	}
}
