package vm

import "testing"

func TestReg8Aliasing(t *testing.T) {
	r := NewRegisters()
	r.SetReg32(RegEAX, 0x11223344)

	tests := []struct {
		name  string
		index uint8
		want  uint8
	}{
		{"AL is low byte", RegAL, 0x44},
		{"AH is second byte", RegAH, 0x33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Reg8(tt.index); got != tt.want {
				t.Errorf("Reg8(%d) = 0x%x, want 0x%x", tt.index, got, tt.want)
			}
		})
	}
}

func TestSetReg8PreservesRestOfRegister(t *testing.T) {
	r := NewRegisters()
	r.SetReg32(RegEBX, 0x11223344)

	r.SetReg8(RegBL, 0xFF)
	if got := r.Reg32(RegEBX); got != 0x112233FF {
		t.Errorf("after SetReg8(BL), EBX = 0x%x, want 0x112233ff", got)
	}

	r.SetReg8(RegBH, 0x00)
	if got := r.Reg32(RegEBX); got != 0x110000FF {
		t.Errorf("after SetReg8(BH), EBX = 0x%x, want 0x110000ff", got)
	}
}

func TestSetReg16PreservesHighWord(t *testing.T) {
	r := NewRegisters()
	r.SetReg32(RegECX, 0xAABBCCDD)
	r.SetReg16(RegECX, 0x1234)
	if got := r.Reg32(RegECX); got != 0xAABB1234 {
		t.Errorf("ECX = 0x%x, want 0xaabb1234", got)
	}
}

func TestReg8PanicsOnOutOfRangeIndex(t *testing.T) {
	r := NewRegisters()
	defer func() {
		if recover() == nil {
			t.Errorf("Reg8(8) did not panic on an out-of-range index")
		}
	}()
	r.Reg8(8)
}

func TestAddFlags(t *testing.T) {
	tests := []struct {
		name string
		a, b uint32
		want Flags
	}{
		{"no carry no overflow", 1, 1, Flags{CF: false, ZF: false, SF: false, OF: false}},
		{"unsigned carry", 0xFFFFFFFF, 2, Flags{CF: true, ZF: false, SF: false, OF: false}},
		{"zero result", 0, 0, Flags{CF: false, ZF: true, SF: false, OF: false}},
		{"signed overflow", 0x7FFFFFFF, 1, Flags{CF: false, ZF: false, SF: true, OF: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addFlags(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("addFlags(0x%x, 0x%x) = %+v, want %+v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSubFlags(t *testing.T) {
	tests := []struct {
		name string
		a, b uint32
		want Flags
	}{
		{"equal operands", 5, 5, Flags{CF: false, ZF: true, SF: false, OF: false}},
		{"borrow", 0, 1, Flags{CF: true, ZF: false, SF: true, OF: false}},
		{"signed overflow", 0x80000000, 1, Flags{CF: false, ZF: false, SF: false, OF: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subFlags(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("subFlags(0x%x, 0x%x) = %+v, want %+v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLogicFlagsClearsCarryAndOverflow(t *testing.T) {
	got := logicFlags(0x80000000)
	want := Flags{CF: false, ZF: false, SF: true, OF: false}
	if got != want {
		t.Errorf("logicFlags(0x80000000) = %+v, want %+v", got, want)
	}
}
