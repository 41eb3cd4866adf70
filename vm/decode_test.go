package vm

import "testing"

func TestDecoderPrefixesCollectsLegacyBytes(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0xF3, 0x66, 0x64, 0x90}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	p, twoByteNext, err := d.Prefixes()
	if err != nil {
		t.Fatalf("Prefixes: %v", err)
	}
	if twoByteNext {
		t.Error("Prefixes reported a two-byte lead-in, want false")
	}
	if !p.Rep {
		t.Error("Rep prefix not recognized")
	}
	if !p.OperandSize16 {
		t.Error("OperandSize16 prefix not recognized")
	}
	if p.SegmentOverride != prefixFS {
		t.Errorf("SegmentOverride = 0x%x, want FS (0x%x)", p.SegmentOverride, prefixFS)
	}
	if got, want := d.pos, entry+3; got != want {
		t.Errorf("decoder consumed to 0x%x, want 0x%x (stopping before the NOP)", got, want)
	}
}

func TestDecoderOpcodeAndTwoByte(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0x0F, 0xB6}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	op, err := d.Opcode()
	if err != nil {
		t.Fatalf("Opcode: %v", err)
	}
	real, isTwo, err := d.TwoByte(op)
	if err != nil {
		t.Fatalf("TwoByte: %v", err)
	}
	if !isTwo {
		t.Fatal("TwoByte did not recognize the 0x0F lead-in")
	}
	if real != 0xB6 {
		t.Errorf("TwoByte real opcode = 0x%x, want 0xB6", real)
	}
}

func TestDecoderTwoByteNotALeadIn(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0xB8}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	op, err := d.Opcode()
	if err != nil {
		t.Fatalf("Opcode: %v", err)
	}
	real, isTwo, err := d.TwoByte(op)
	if err != nil {
		t.Fatalf("TwoByte: %v", err)
	}
	if isTwo {
		t.Error("TwoByte reported a lead-in for a plain one-byte opcode")
	}
	if real != 0xB8 {
		t.Errorf("TwoByte passthrough opcode = 0x%x, want 0xB8", real)
	}
}

func TestDecoderModRMRegisterForm(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0xC3}); err != nil { // mod11 reg=000 rm=011
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	m, err := d.ModRM(Prefixes{})
	if err != nil {
		t.Fatalf("ModRM: %v", err)
	}
	if !m.IsRegister {
		t.Error("ModRM with mod==3 did not report IsRegister")
	}
	if m.Reg != 0 || m.RM != 3 {
		t.Errorf("Reg/RM = %d/%d, want 0/3", m.Reg, m.RM)
	}
}

func TestDecoderModRMDisp8(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	// mod01 reg=000 rm=000(eax), disp8 = 0x10
	if err := mem.WriteBytes(entry, []byte{0x40, 0x10}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	regs := NewRegisters()
	regs.SetReg32(RegEAX, 0x00401000)
	d := NewDecoder(mem, regs, entry)
	m, err := d.ModRM(Prefixes{})
	if err != nil {
		t.Fatalf("ModRM: %v", err)
	}
	if m.IsRegister {
		t.Error("ModRM with mod==1 reported IsRegister")
	}
	if m.EffAddr != 0x00401010 {
		t.Errorf("EffAddr = 0x%x, want 0x00401010", m.EffAddr)
	}
}

func TestDecoderModRMDisp32NoBase(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	// mod00 reg=000 rm=101 (disp32, no base register): modrm=0x05, disp32=0x00402000
	code := []byte{0x05, 0x00, 0x20, 0x40, 0x00}
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	m, err := d.ModRM(Prefixes{})
	if err != nil {
		t.Fatalf("ModRM: %v", err)
	}
	if m.EffAddr != 0x00402000 {
		t.Errorf("EffAddr = 0x%x, want 0x00402000", m.EffAddr)
	}
}

func TestDecoderModRMSibWithScaledIndex(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	// mod00 reg=000 rm=100(SIB): modrm=0x04, sib: scale=10(x4) index=001(ecx) base=011(ebx)
	sib := byte(2<<6 | 1<<3 | 3)
	code := []byte{0x04, sib}
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	regs := NewRegisters()
	regs.SetReg32(RegEBX, 0x00401000)
	regs.SetReg32(RegECX, 2)
	d := NewDecoder(mem, regs, entry)
	m, err := d.ModRM(Prefixes{})
	if err != nil {
		t.Fatalf("ModRM: %v", err)
	}
	// base(ebx)=0x00401000 + index(ecx=2)<<scale(2, i.e *4) = +8
	if want := uint32(0x00401008); m.EffAddr != want {
		t.Errorf("EffAddr = 0x%x, want 0x%x", m.EffAddr, want)
	}
}

func TestDecoderModRMFsSegmentOverride(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	// mod00 reg=000 rm=101 (disp32 no base): modrm=0x05, disp32=0x30 (TEB offset)
	code := []byte{0x05, 0x30, 0x00, 0x00, 0x00}
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	regs := NewRegisters()
	regs.FSBase = 0x7FFD0000
	d := NewDecoder(mem, regs, entry)
	m, err := d.ModRM(Prefixes{SegmentOverride: prefixFS})
	if err != nil {
		t.Fatalf("ModRM: %v", err)
	}
	if m.EffAddr != 0x7FFD0030 {
		t.Errorf("EffAddr = 0x%x, want 0x7FFD0030 (FS base + disp)", m.EffAddr)
	}
}

func TestDecoderImmAndRelFetchers(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	code := []byte{0x7F, 0x34, 0x12, 0xFC, 0xFF, 0xFF, 0xFF}
	if err := mem.WriteBytes(entry, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	imm8, err := d.Imm8()
	if err != nil || imm8 != 0x7F {
		t.Fatalf("Imm8() = %d, %v, want 0x7F", imm8, err)
	}
	imm16, err := d.Imm16()
	if err != nil || imm16 != 0x1234 {
		t.Fatalf("Imm16() = 0x%x, %v, want 0x1234", imm16, err)
	}
	rel32, err := d.Rel32()
	if err != nil || rel32 != -4 {
		t.Fatalf("Rel32() = %d, %v, want -4", rel32, err)
	}
}

func TestDecoderRel8SignExtends(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0xFE}); err != nil { // -2
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	rel, err := d.Rel8()
	if err != nil {
		t.Fatalf("Rel8: %v", err)
	}
	if rel != -2 {
		t.Errorf("Rel8() = %d, want -2", rel)
	}
}

func TestDecoderLenTracksConsumedBytes(t *testing.T) {
	mem := NewMemory(0x00400000, 0x1000)
	entry := mem.Base() + 0x10
	if err := mem.WriteBytes(entry, []byte{0xB8, 0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	d := NewDecoder(mem, NewRegisters(), entry)
	if _, err := d.Opcode(); err != nil {
		t.Fatalf("Opcode: %v", err)
	}
	if _, err := d.Imm32(); err != nil {
		t.Fatalf("Imm32: %v", err)
	}
	if got := d.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}
