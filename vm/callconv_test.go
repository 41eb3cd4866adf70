package vm

import "testing"

func TestDetectThisCall(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want CallConv
	}{
		{
			name: "ecx dereference is thiscall",
			// mov eax, [ecx+4]
			code: []byte{0x8B, 0x41, 0x04},
			want: ThisCall,
		},
		{
			name: "esp-relative read is stdcall",
			// mov eax, [esp+4]
			code: []byte{0x8B, 0x44, 0x24, 0x04},
			want: StdCall,
		},
		{
			name: "ebp-relative read is stdcall",
			// mov eax, [ebp+8]
			code: []byte{0x8B, 0x45, 0x08},
			want: StdCall,
		},
		{
			name: "no matching mov defaults to stdcall",
			code: []byte{0x90, 0x90, 0x90, 0xC3}, // nop; nop; nop; ret
			want: StdCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemory(0x00400000, 0x1000)
			target := mem.Base() + 0x10
			if err := mem.WriteBytes(target, tt.code); err != nil {
				t.Fatalf("WriteBytes: %v", err)
			}
			got, err := DetectThisCall(mem, target)
			if err != nil {
				t.Fatalf("DetectThisCall: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectThisCall() = %v, want %v", got, tt.want)
			}
		})
	}
}
