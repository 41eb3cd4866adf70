package vm

import "fmt"

// MemoryOutOfRange is returned when a read or write targets an address
// outside every mapped region (image, heap, stack).
type MemoryOutOfRange struct {
	Address uint32
	Size    uint32
}

func (e *MemoryOutOfRange) Error() string {
	return fmt.Sprintf("memory access out of range: addr=0x%x size=%d", e.Address, e.Size)
}

// InvalidConfig is returned when a stub or loader receives an argument
// shape it cannot act on.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string {
	return "invalid config: " + e.Reason
}

// MissingImports is returned by import resolution when one or more
// imported symbols have no registered host stub.
type MissingImports struct {
	Symbols []string
}

func (e *MissingImports) Error() string {
	return fmt.Sprintf("missing imports: %v", e.Symbols)
}

// ExecutionLimit is returned when a top-level execute exceeds its
// instruction budget.
type ExecutionLimit struct {
	Limit uint64
}

func (e *ExecutionLimit) Error() string {
	return fmt.Sprintf("execution limit exceeded: %d instructions", e.Limit)
}

// ComError wraps a nonzero HRESULT surfaced by a guest or host COM
// dispatcher.
type ComError struct {
	HRESULT uint32
}

func (e *ComError) Error() string {
	return fmt.Sprintf("COM call failed: hr=0x%08x", e.HRESULT)
}

// IoError wraps a host-side I/O failure raised inside a stub.
type IoError struct {
	Reason string
}

func (e *IoError) Error() string {
	return "io error: " + e.Reason
}
