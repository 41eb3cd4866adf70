package vm

// Legacy prefix bytes the decoder recognizes before an opcode.
const (
	prefixLock         = 0xF0
	prefixRepne        = 0xF2
	prefixRep          = 0xF3
	prefixCS           = 0x2E
	prefixSS           = 0x36
	prefixDS           = 0x3E
	prefixES           = 0x26
	prefixFS           = 0x64
	prefixGS           = 0x65
	prefixOperandSize  = 0x66
	prefixAddressSize  = 0x67
	twoByteOpcodeLeadIn = 0x0F
)

// Prefixes collects the legacy prefix bytes preceding an opcode. SegmentOverride
// is 0 when no segment prefix is present.
type Prefixes struct {
	Lock           bool
	Rep            bool
	Repne          bool
	OperandSize16  bool
	AddressSize16  bool
	SegmentOverride byte // one of the prefixFS/prefixGS/... byte values, or 0
}

// ModRM is a decoded ModR/M (+ SIB + displacement) byte group.
type ModRM struct {
	Mod byte // 0-3
	Reg byte // register operand / opcode extension, 0-7
	RM  byte // r/m field, 0-7

	IsRegister bool   // mod == 3: RM names a register directly
	EffAddr    uint32 // valid when !IsRegister
}

// Decoder walks guest code bytes out of Memory starting at a cursor and
// tracks the EIP-relative fetch position used to compute effective
// addresses and to report the instruction's encoded length.
type Decoder struct {
	mem   *Memory
	start uint32
	pos   uint32
	regs  *Registers
}

func NewDecoder(mem *Memory, regs *Registers, addr uint32) *Decoder {
	return &Decoder{mem: mem, start: addr, pos: addr, regs: regs}
}

// Len reports how many bytes have been consumed since the decoder was
// created; callers use this to advance EIP past the decoded instruction.
func (d *Decoder) Len() uint32 { return d.pos - d.start }

func (d *Decoder) u8() (uint8, error) {
	v, err := d.mem.ReadU8(d.pos)
	if err != nil {
		return 0, err
	}
	d.pos++
	return v, nil
}

func (d *Decoder) u16() (uint16, error) {
	v, err := d.mem.ReadU16(d.pos)
	if err != nil {
		return 0, err
	}
	d.pos += 2
	return v, nil
}

func (d *Decoder) u32() (uint32, error) {
	v, err := d.mem.ReadU32(d.pos)
	if err != nil {
		return 0, err
	}
	d.pos += 4
	return v, nil
}

// s8 fetches a byte and sign-extends it to 32 bits, for 8-bit displacements
// and the imm8 forms of arithmetic opcodes.
func (d *Decoder) s8() (int32, error) {
	v, err := d.u8()
	if err != nil {
		return 0, err
	}
	return int32(int8(v)), nil
}

// Prefixes consumes legacy prefix bytes and stops at the first other byte.
// It never consumes a 0x0F lead-in (Opcode and TwoByte handle that), so its
// bool result is always false.
func (d *Decoder) Prefixes() (Prefixes, bool, error) {
	var p Prefixes
	for {
		b, err := d.mem.ReadU8(d.pos)
		if err != nil {
			return p, false, err
		}
		switch b {
		case prefixLock:
			p.Lock = true
		case prefixRep:
			p.Rep = true
		case prefixRepne:
			p.Repne = true
		case prefixOperandSize:
			p.OperandSize16 = true
		case prefixAddressSize:
			p.AddressSize16 = true
		case prefixCS, prefixSS, prefixDS, prefixES, prefixFS, prefixGS:
			p.SegmentOverride = b
		default:
			return p, false, nil
		}
		d.pos++
	}
}

// Opcode fetches the next byte, treating a 0x0F lead-in as consumed by the
// caller via TwoByte.
func (d *Decoder) Opcode() (uint8, error) { return d.u8() }

// TwoByte reports whether the byte just fetched by Opcode was the 0x0F
// two-byte escape, and if so fetches and returns the following map byte.
func (d *Decoder) TwoByte(op uint8) (uint8, bool, error) {
	if op != twoByteOpcodeLeadIn {
		return op, false, nil
	}
	real, err := d.u8()
	if err != nil {
		return 0, true, err
	}
	return real, true, nil
}

// ModRM decodes a ModR/M byte, its SIB byte if present, and any
// displacement, resolving the effective address for memory operands using
// 32-bit addressing (this interpreter only models protected-mode 32-bit
// code, so the 16-bit addressing forms are out of scope).
func (d *Decoder) ModRM(seg Prefixes) (ModRM, error) {
	b, err := d.u8()
	if err != nil {
		return ModRM{}, err
	}
	m := ModRM{
		Mod: (b >> 6) & 3,
		Reg: (b >> 3) & 7,
		RM:  b & 7,
	}
	if m.Mod == 3 {
		m.IsRegister = true
		return m, nil
	}

	var addr uint32
	if m.RM == 4 {
		sibByte, err := d.u8()
		if err != nil {
			return ModRM{}, err
		}
		scale := (sibByte >> 6) & 3
		index := (sibByte >> 3) & 7
		base := sibByte & 7

		if base == 5 && m.Mod == 0 {
			disp, err := d.u32()
			if err != nil {
				return ModRM{}, err
			}
			addr = disp
		} else {
			addr = d.regs.Reg32(base)
		}
		if index != 4 {
			addr += d.regs.Reg32(index) << scale
		}
	} else if m.RM == 5 && m.Mod == 0 {
		disp, err := d.u32()
		if err != nil {
			return ModRM{}, err
		}
		addr = disp
	} else {
		addr = d.regs.Reg32(m.RM)
	}

	switch m.Mod {
	case 1:
		disp, err := d.s8()
		if err != nil {
			return ModRM{}, err
		}
		addr = uint32(int32(addr) + disp)
	case 2:
		disp, err := d.u32()
		if err != nil {
			return ModRM{}, err
		}
		addr += disp
	}

	if seg.SegmentOverride == prefixFS {
		addr += d.regs.FSBase
	} else if seg.SegmentOverride == prefixGS {
		addr += d.regs.GSBase
	}

	m.EffAddr = addr
	return m, nil
}

// Imm8/Imm16/Imm32 fetch an immediate operand of the given width.
func (d *Decoder) Imm8() (uint8, error)   { return d.u8() }
func (d *Decoder) Imm16() (uint16, error) { return d.u16() }
func (d *Decoder) Imm32() (uint32, error) { return d.u32() }

// Rel8/Rel32 fetch a sign-extended relative branch displacement.
func (d *Decoder) Rel8() (int32, error)  { return d.s8() }
func (d *Decoder) Rel32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}
