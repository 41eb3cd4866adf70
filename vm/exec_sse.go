package vm

import "encoding/binary"

// opMOVD_toXmm implements the 0F 6E MOVD xmm, r/m32 form: the low 32 bits of
// the XMM register are loaded, the rest zeroed, matching the SSE2 scalar
// integer move this interpreter's subset targets.
func (c *CPU) opMOVD_toXmm(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	v, err := c.readRM32(m)
	if err != nil {
		return err
	}
	var reg [16]byte
	binary.LittleEndian.PutUint32(reg[:4], v)
	c.Regs.SetXMM(m.Reg, reg)
	return nil
}

func (c *CPU) opMOVD_fromXmm(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	reg := c.Regs.XMM(m.Reg)
	return c.writeRM32(m, binary.LittleEndian.Uint32(reg[:4]))
}

// opMOVQ_toXmm copies 64 bits into the XMM register named by ModR/M reg.
// From another XMM register it copies that register's low 64 bits and keeps
// the destination's upper half; from memory it loads 8 bytes and zeroes the
// upper half. There is no register-to-memory store form.
func (c *CPU) opMOVQ_toXmm(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	if m.IsRegister {
		src := c.Regs.XMM(m.RM)
		dst := c.Regs.XMM(m.Reg)
		copy(dst[:8], src[:8])
		c.Regs.SetXMM(m.Reg, dst)
		return nil
	}
	lo, err := c.Mem.ReadU32(m.EffAddr)
	if err != nil {
		return err
	}
	hi, err := c.Mem.ReadU32(m.EffAddr + 4)
	if err != nil {
		return err
	}
	var reg [16]byte
	binary.LittleEndian.PutUint32(reg[:4], lo)
	binary.LittleEndian.PutUint32(reg[4:8], hi)
	c.Regs.SetXMM(m.Reg, reg)
	return nil
}

func (c *CPU) opMOVDQA(d *Decoder, p Prefixes) error {
	m, err := d.ModRM(p)
	if err != nil {
		return err
	}
	if m.IsRegister {
		c.Regs.SetXMM(m.Reg, c.Regs.XMM(m.RM))
		return nil
	}
	raw, err := c.Mem.ReadBytes(m.EffAddr, 16)
	if err != nil {
		return err
	}
	var reg [16]byte
	copy(reg[:], raw)
	c.Regs.SetXMM(m.Reg, reg)
	return nil
}

// bitwiseXmm builds the PXOR/PAND/POR handlers: bitwise packed-integer SSE2
// ops on the full 128-bit XMM lane.
func (c *CPU) bitwiseXmm(fn func(a, b byte) byte) opHandler {
	return func(c *CPU, d *Decoder, p Prefixes) error {
		m, err := d.ModRM(p)
		if err != nil {
			return err
		}
		var src [16]byte
		if m.IsRegister {
			src = c.Regs.XMM(m.RM)
		} else {
			raw, err := c.Mem.ReadBytes(m.EffAddr, 16)
			if err != nil {
				return err
			}
			copy(src[:], raw)
		}
		dst := c.Regs.XMM(m.Reg)
		for i := range dst {
			dst[i] = fn(dst[i], src[i])
		}
		c.Regs.SetXMM(m.Reg, dst)
		return nil
	}
}
