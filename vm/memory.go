package vm

import "encoding/binary"

// Memory is the flat guest address space: an image mapping, a bump-allocated
// heap, and a stack, backed by one contiguous byte buffer.
type Memory struct {
	buf []byte

	base      uint32 // guest address of buf[0]
	imageSize uint32

	heapStart  uint32
	heapCursor uint32
	heapEnd    uint32

	stackBottom uint32
	stackTop    uint32
}

const defaultHeapSize = 4 * 1024 * 1024
const defaultStackSize = 1 * 1024 * 1024

// NewMemory allocates a guest address space of imageSize bytes starting at
// base, followed by a heap region and a stack region.
func NewMemory(base, imageSize uint32) *Memory {
	heapStart := base + imageSize
	heapEnd := heapStart + defaultHeapSize
	stackBottom := heapEnd
	stackTop := stackBottom + defaultStackSize

	total := stackTop - base
	return &Memory{
		buf:         make([]byte, total),
		base:        base,
		imageSize:   imageSize,
		heapStart:   heapStart,
		heapCursor:  heapStart,
		heapEnd:     heapEnd,
		stackBottom: stackBottom,
		stackTop:    stackTop,
	}
}

func (m *Memory) Base() uint32        { return m.base }
func (m *Memory) ImageSize() uint32   { return m.imageSize }
func (m *Memory) HeapStart() uint32   { return m.heapStart }
func (m *Memory) HeapCursor() uint32  { return m.heapCursor }
func (m *Memory) StackBottom() uint32 { return m.stackBottom }
func (m *Memory) StackTop() uint32    { return m.stackTop }

// ContainsAddr reports whether addr lies within the image, heap, or stack
// region. This does not itself guarantee size-bounded access; callers use
// offsetFor for that.
func (m *Memory) ContainsAddr(addr uint32) bool {
	if addr >= m.base && addr < m.base+m.imageSize {
		return true
	}
	if addr >= m.heapStart && addr < m.heapCursor {
		return true
	}
	if addr >= m.stackBottom && addr < m.stackTop {
		return true
	}
	return false
}

// offsetFor validates that [addr, addr+size) lies entirely within one
// mapped region and returns the byte offset into buf.
func (m *Memory) offsetFor(addr uint32, size uint32) (uint32, error) {
	end := addr + size
	if end < addr {
		return 0, &MemoryOutOfRange{Address: addr, Size: size}
	}

	switch {
	case addr >= m.base && end <= m.base+m.imageSize:
	case addr >= m.heapStart && end <= m.heapCursor:
	case addr >= m.stackBottom && end <= m.stackTop:
	default:
		return 0, &MemoryOutOfRange{Address: addr, Size: size}
	}

	return addr - m.base, nil
}

func (m *Memory) ReadU8(addr uint32) (uint8, error) {
	off, err := m.offsetFor(addr, 1)
	if err != nil {
		return 0, err
	}
	return m.buf[off], nil
}

func (m *Memory) ReadU16(addr uint32) (uint16, error) {
	off, err := m.offsetFor(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.buf[off:]), nil
}

func (m *Memory) ReadU32(addr uint32) (uint32, error) {
	off, err := m.offsetFor(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[off:]), nil
}

func (m *Memory) WriteU8(addr uint32, v uint8) error {
	off, err := m.offsetFor(addr, 1)
	if err != nil {
		return err
	}
	m.buf[off] = v
	return nil
}

func (m *Memory) WriteU16(addr uint32, v uint16) error {
	off, err := m.offsetFor(addr, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.buf[off:], v)
	return nil
}

func (m *Memory) WriteU32(addr uint32, v uint32) error {
	off, err := m.offsetFor(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[off:], v)
	return nil
}

// WriteBytes copies data into the guest address space starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	off, err := m.offsetFor(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(m.buf[off:off+uint32(len(data))], data)
	return nil
}

// ReadBytes copies n bytes out of the guest address space starting at addr.
func (m *Memory) ReadBytes(addr uint32, n uint32) ([]byte, error) {
	off, err := m.offsetFor(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.buf[off:off+n])
	return out, nil
}

// ReadCString reads a NUL-terminated ASCII string starting at addr.
func (m *Memory) ReadCString(addr uint32) (string, error) {
	var out []byte
	for i := uint32(0); ; i++ {
		b, err := m.ReadU8(addr + i)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}

// ReadUTF16Z reads a NUL-terminated UTF-16LE string starting at addr.
func (m *Memory) ReadUTF16Z(addr uint32) (string, error) {
	var units []uint16
	for i := uint32(0); ; i += 2 {
		u, err := m.ReadU16(addr + i)
		if err != nil {
			return "", err
		}
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return decodeUTF16Units(units), nil
}

func decodeUTF16Units(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) {
			lo := units[i+1]
			if lo >= 0xDC00 && lo <= 0xDFFF {
				r := (rune(u-0xD800) << 10) | rune(lo-0xDC00)
				runes = append(runes, r+0x10000)
				i++
				continue
			}
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}

// AllocBytes bumps the heap cursor to satisfy the given alignment, writes
// data at the resulting address, and returns the guest pointer.
func (m *Memory) AllocBytes(data []byte, alignment uint32) (uint32, error) {
	if alignment == 0 {
		alignment = 1
	}
	addr := m.heapCursor
	if rem := addr % alignment; rem != 0 {
		addr += alignment - rem
	}
	end := addr + uint32(len(data))
	if end > m.heapEnd {
		return 0, &MemoryOutOfRange{Address: addr, Size: uint32(len(data))}
	}
	m.heapCursor = end
	if len(data) > 0 {
		if err := m.WriteBytes(addr, data); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// Alloc reserves n zeroed bytes on the heap and returns the guest pointer.
func (m *Memory) Alloc(n uint32, alignment uint32) (uint32, error) {
	return m.AllocBytes(make([]byte, n), alignment)
}
