package vm

// initBaseOps populates the one-byte opcode dispatch table. Table layout
// follows the Intel SDM opcode map; only the forms this interpreter's
// instruction coverage names are wired, left as nil otherwise (Step reports
// an unimplemented-opcode error rather than silently miscompiling guest
// code it doesn't understand).
func (c *CPU) initBaseOps() {
	wrap := func(op arithOp) (opHandler, opHandler, opHandler, opHandler) {
		return func(c *CPU, d *Decoder, p Prefixes) error { return c.arithEvGv(op, d, p) },
			func(c *CPU, d *Decoder, p Prefixes) error { return c.arithGvEv(op, d, p) },
			func(c *CPU, d *Decoder, p Prefixes) error { return c.arithEaxImm32(op, d, p) },
			nil
	}

	type arithRow struct {
		base byte
		op   arithOp
	}
	for _, row := range []arithRow{
		{0x00, arithAdd}, {0x08, arithOr}, {0x10, arithAdc}, {0x18, arithSbb},
		{0x20, arithAnd}, {0x28, arithSub}, {0x30, arithXor}, {0x38, arithCmp},
	} {
		evgv, gvev, eaxImm, _ := wrap(row.op)
		c.baseOps[row.base+1] = evgv   // xx Ev, Gv
		c.baseOps[row.base+3] = gvev   // xx Gv, Ev
		c.baseOps[row.base+5] = eaxImm // xx EAX, imm32
	}

	c.baseOps[0x69] = nil // IMUL Gv,Ev,Iz: not in the targeted coverage

	c.baseOps[0x50] = c.pushRegOp(RegEAX)
	c.baseOps[0x51] = c.pushRegOp(RegECX)
	c.baseOps[0x52] = c.pushRegOp(RegEDX)
	c.baseOps[0x53] = c.pushRegOp(RegEBX)
	c.baseOps[0x54] = c.pushRegOp(RegESP)
	c.baseOps[0x55] = c.pushRegOp(RegEBP)
	c.baseOps[0x56] = c.pushRegOp(RegESI)
	c.baseOps[0x57] = c.pushRegOp(RegEDI)

	c.baseOps[0x58] = c.popRegOp(RegEAX)
	c.baseOps[0x59] = c.popRegOp(RegECX)
	c.baseOps[0x5A] = c.popRegOp(RegEDX)
	c.baseOps[0x5B] = c.popRegOp(RegEBX)
	c.baseOps[0x5C] = c.popRegOp(RegESP)
	c.baseOps[0x5D] = c.popRegOp(RegEBP)
	c.baseOps[0x5E] = c.popRegOp(RegESI)
	c.baseOps[0x5F] = c.popRegOp(RegEDI)

	c.baseOps[0x68] = c.opPUSH_Iz
	c.baseOps[0x6A] = func(c *CPU, d *Decoder, p Prefixes) error {
		v, err := d.Rel8()
		if err != nil {
			return err
		}
		return c.push32(uint32(v))
	}

	for cc := byte(0); cc < 16; cc++ {
		c.baseOps[0x70+cc] = c.jccHandler(cc)
	}

	c.baseOps[0x80] = c.group1Eb
	c.baseOps[0x81] = c.group1Ev(false)
	c.baseOps[0x83] = c.group1Ev(true)

	c.baseOps[0x84] = c.opTEST_EbGb
	c.baseOps[0x85] = c.opTEST_EvGv
	c.baseOps[0x86] = c.opXCHG_EvGv

	c.baseOps[0x88] = c.opMOV_EbGb
	c.baseOps[0x89] = c.opMOV_EvGv
	c.baseOps[0x8A] = c.opMOV_GbEb
	c.baseOps[0x8B] = c.opMOV_GvEv
	c.baseOps[0x8D] = c.opLEA
	c.baseOps[0x8F] = c.opPOP_Ev

	c.baseOps[0x90] = c.opNOP

	for r := byte(0); r < 8; r++ {
		c.baseOps[0xB8+r] = c.movRegImm32(r)
	}
	for r := byte(0); r < 8; r++ {
		reg := r
		c.baseOps[0xB0+r] = func(c *CPU, d *Decoder, p Prefixes) error { // MOV r8, imm8
			imm, err := d.Imm8()
			if err != nil {
				return err
			}
			c.Regs.SetReg8(reg, imm)
			return nil
		}
	}

	c.baseOps[0xA4] = c.opMOVSB
	c.baseOps[0xA5] = c.opMOVS
	c.baseOps[0xA6] = c.opCMPSB
	c.baseOps[0xA7] = c.opCMPS
	c.baseOps[0xAA] = c.opSTOSB
	c.baseOps[0xAB] = c.opSTOS
	c.baseOps[0xAC] = c.opLODSB
	c.baseOps[0xAD] = c.opLODS
	c.baseOps[0xAE] = c.opSCASB
	c.baseOps[0xAF] = c.opSCAS

	c.baseOps[0xC0] = c.shiftGroup('i')
	c.baseOps[0xC1] = c.shiftGroup('i')
	c.baseOps[0xC2] = c.opRET_Iw
	c.baseOps[0xC3] = c.opRET
	c.baseOps[0xC6] = func(c *CPU, d *Decoder, p Prefixes) error {
		m, err := d.ModRM(p)
		if err != nil {
			return err
		}
		imm, err := d.Imm8()
		if err != nil {
			return err
		}
		return c.writeRM8(m, imm)
	}
	c.baseOps[0xC7] = c.opMOV_EvIz
	c.baseOps[0xCC] = c.opINT3

	c.baseOps[0xD0] = c.shiftGroup('1')
	c.baseOps[0xD1] = c.shiftGroup('1')
	c.baseOps[0xD2] = c.shiftGroup('c')
	c.baseOps[0xD3] = c.shiftGroup('c')

	c.baseOps[0xE0] = c.loopHandler(true, false)  // LOOPNE
	c.baseOps[0xE1] = c.loopHandler(true, true)   // LOOPE
	c.baseOps[0xE2] = c.loopHandler(false, false) // LOOP
	c.baseOps[0xE3] = c.opJCXZ

	c.baseOps[0xE8] = c.opCALL_Rel32
	c.baseOps[0xE9] = c.opJMP_Rel32
	c.baseOps[0xEB] = c.opJMP_Rel8

	c.baseOps[0xF4] = c.opHLT
	c.baseOps[0xF6] = c.group1ForEb
	c.baseOps[0xF7] = c.group3Ev

	c.baseOps[0xF8] = c.opCLC
	c.baseOps[0xF9] = c.opSTC
	c.baseOps[0xFA] = nil
	c.baseOps[0xFB] = nil
	c.baseOps[0xFC] = c.opCLD
	c.baseOps[0xFD] = c.opSTD

	c.baseOps[0xFE] = c.incDecEb
	c.baseOps[0xFF] = c.group5Ev
}

// initTwoByteOps populates the 0F-prefixed opcode dispatch table.
func (c *CPU) initTwoByteOps() {
	for cc := byte(0); cc < 16; cc++ {
		c.twoOps[0x80+cc] = c.jccNearHandler(cc)
		c.twoOps[0x40+cc] = c.cmovHandler(jccConditions[cc])
	}

	c.twoOps[0xB6] = c.opMOVZX_GvEb
	c.twoOps[0xBE] = c.opMOVSX_GvEb

	c.twoOps[0x6E] = c.opMOVD_toXmm
	c.twoOps[0x7E] = c.opMOVD_fromXmm
	c.twoOps[0xD6] = c.opMOVQ_toXmm
	c.twoOps[0x6F] = c.opMOVDQA
	c.twoOps[0x7F] = c.opMOVDQA

	c.twoOps[0xEF] = c.bitwiseXmm(func(a, b byte) byte { return a ^ b })
	c.twoOps[0xDB] = c.bitwiseXmm(func(a, b byte) byte { return a & b })
	c.twoOps[0xEB] = c.bitwiseXmm(func(a, b byte) byte { return a | b })
}

// group1ForEb implements the byte-operand form of the 0xF6 unary group
// (TEST Eb,Ib / NOT Eb / NEG Eb), mirroring group3Ev at 8-bit width.
func (c *CPU) group1ForEb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	switch m.Reg {
	case 0, 1: // TEST Eb, Ib
		imm, err := d.Imm8()
		if err != nil {
			return err
		}
		c.Regs.Flags = logicFlags(uint32(v & imm))
		return nil
	case 2: // NOT
		return c.writeRM8(m, ^v)
	case 3: // NEG
		c.Regs.Flags = subFlags(0, uint32(v))
		c.Regs.Flags.CF = v != 0
		return c.writeRM8(m, uint8(-int8(v)))
	default:
		return &InvalidConfig{Reason: "unimplemented group1Eb extension"}
	}
}

// incDecEb implements the 0xFE byte INC/DEC group.
func (c *CPU) incDecEb(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	cf := c.Regs.Flags.CF
	if m.Reg == 0 {
		c.Regs.Flags = addFlags(uint32(v), 1)
		c.Regs.Flags.CF = cf
		return c.writeRM8(m, v+1)
	}
	c.Regs.Flags = subFlags(uint32(v), 1)
	c.Regs.Flags.CF = cf
	return c.writeRM8(m, v-1)
}

// group5Ev implements the 0xFF group: INC/DEC Ev, CALL/JMP near-indirect,
// and PUSH Ev, selected by ModR/M's reg field.
func (c *CPU) group5Ev(d *Decoder, p Prefixes) error {
	start := d.pos
	b, err := d.mem.ReadU8(start)
	if err != nil {
		return err
	}
	reg := (b >> 3) & 7
	switch reg {
	case 0:
		return c.opINC_Ev(d, p)
	case 1:
		return c.opDEC_Ev(d, p)
	case 2:
		return c.opCALL_Ev(d, p)
	case 4:
		return c.opJMP_Ev(d, p)
	case 6:
		return c.opPUSH_Ev(d, p)
	default:
		return &InvalidConfig{Reason: "unimplemented group5 extension"}
	}
}
