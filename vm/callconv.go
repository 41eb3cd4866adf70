package vm

// CallConv names the calling convention a host stub or detected vtable
// entry uses, controlling who cleans the stack after a call.
type CallConv int

const (
	StdCall CallConv = iota
	CdeclCall
	ThisCall
)

// DetectThisCall disassembles up to 96 bytes at target looking for the
// instruction shapes that distinguish a thiscall entry point (the first
// argument arrives in ECX, never on the stack) from stdcall/cdecl. It
// returns ThisCall only when it finds positive evidence; everything else
// defaults to StdCall, the more common vtable convention.
func DetectThisCall(mem *Memory, target uint32) (CallConv, error) {
	const window = 96
	code, err := mem.ReadBytes(target, window)
	if err != nil {
		// A short read at the tail of the image is still worth scanning.
		code, err = mem.ReadBytes(target, 16)
		if err != nil {
			return StdCall, err
		}
	}

	regs := NewRegisters()
	d := &Decoder{mem: mem, start: target, pos: target, regs: regs}

	for d.pos < target+uint32(len(code)) {
		p, _, err := d.Prefixes()
		if err != nil {
			break
		}
		op, err := d.Opcode()
		if err != nil {
			break
		}
		real, isTwoByte, err := d.TwoByte(op)
		if err != nil {
			break
		}
		if isTwoByte {
			// Two-byte opcodes aren't part of the heuristic's pattern set;
			// TwoByte already consumed the 0x0F lead-in and the map byte,
			// so keep scanning for a MOV shape from the byte after them.
			_ = real
			continue
		}

		switch op {
		case 0x8B: // MOV Gv, Ev — the shape every rule inspects
			m, err := d.ModRM(p)
			if err != nil {
				return StdCall, nil
			}
			if !m.IsRegister {
				if m.RM == RegESP && m.Mod != 3 {
					// mov eax, [esp+4] and similar: first arg read off the
					// stack, so this is definitely not thiscall.
					return StdCall, nil
				}
				if m.RM == RegEBP && m.Mod != 3 {
					// mov (eax|ecx|edx|esi), [ebp+8]: stack-frame-relative
					// arg access, also not thiscall.
					return StdCall, nil
				}
				if m.RM == RegECX && m.Mod != 3 {
					// register-indirect through ECX: ECX is being
					// dereferenced as the implicit this pointer.
					return ThisCall, nil
				}
			}
		default:
			// Any other opcode: keep scanning: the heuristic only reacts
			// to the first matching MOV shape it finds in the prologue.
		}
	}
	return StdCall, nil
}
