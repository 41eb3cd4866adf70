package com

// Executor re-enters the interpreter at a vtable slot with a synthesized
// stack frame, returning the guest's EAX result. vm.CPU.Call satisfies
// this without the com package importing vm (vm does not import com
// either; winapi/oleaut32 is the package that uses both).
type Executor interface {
	Call(entry uint32, args []uint32) (uint32, error)
}

const dispatchMethod = 0x1

// Backend is one of the two ways a COM object answers Invoke: a
// host-implemented dispatch table, or an in-proc guest object reached
// through its IDispatch vtable.
type Backend interface {
	invoke(mem Memory, exec Executor, dispid uint32, args []Arg) (Value, error)
}

// Object is an instantiated COM object: a CLSID plus whichever backend
// answers its method calls.
type Object struct {
	CLSID   string
	DLLPath string
	backend Backend
}

func NewDispatchObject(clsid, dllPath string, table *DispatchTable) *Object {
	return &Object{CLSID: clsid, DLLPath: dllPath, backend: dispatchBackend{table: table}}
}

func NewInProcObject(clsid, dllPath string, iDispatch uint32) *Object {
	return &Object{CLSID: clsid, DLLPath: dllPath, backend: inProcBackend{iDispatch: iDispatch}}
}

func (o *Object) Invoke(mem Memory, exec Executor, dispid uint32, args []Arg) (Value, error) {
	return o.backend.invoke(mem, exec, dispid, args)
}

type dispatchBackend struct {
	table *DispatchTable
}

func (b dispatchBackend) invoke(mem Memory, exec Executor, dispid uint32, args []Arg) (Value, error) {
	return b.table.Invoke(exec, dispid, args)
}

// inProcBackend calls IDispatch::Invoke (vtable slot 6) on a guest object,
// marshalling arguments into a VARIANT array and a DISPPARAMS structure the
// way the real OLE Automation runtime lays them out.
type inProcBackend struct {
	iDispatch uint32
}

func (b inProcBackend) invoke(mem Memory, exec Executor, dispid uint32, args []Arg) (Value, error) {
	invokePtr, err := vtableFn(mem, b.iDispatch, 6)
	if err != nil {
		return Value{}, err
	}

	argsPtr, err := buildVariantArray(mem, args)
	if err != nil {
		return Value{}, err
	}
	dispParamsPtr, err := buildDispParams(mem, argsPtr, len(args))
	if err != nil {
		return Value{}, err
	}
	riidPtr, err := mem.AllocBytes(make([]byte, 16), 4)
	if err != nil {
		return Value{}, err
	}

	resultPtr, err := mem.AllocBytes(make([]byte, VariantSize), 4)
	if err != nil {
		return Value{}, err
	}

	callArgs := []uint32{
		b.iDispatch,
		dispid,
		riidPtr,
		0,
		dispatchMethod,
		dispParamsPtr,
		resultPtr,
		0,
		0,
	}

	hr, err := exec.Call(invokePtr, callArgs)
	if err != nil {
		return Value{}, err
	}
	if hr != 0 {
		return Value{}, &InvokeFailed{HRESULT: hr}
	}
	return ReadVariant(mem, resultPtr)
}

// vtableFn reads the function pointer at the given vtable slot of a COM
// interface pointer (the first guest dword is the vtable, slot*4 past it
// is the method pointer).
func vtableFn(mem Memory, objPtr uint32, index uint32) (uint32, error) {
	vtable, err := mem.ReadU32(objPtr)
	if err != nil {
		return 0, err
	}
	return mem.ReadU32(vtable + index*4)
}

// buildVariantArray lays out args as a contiguous VARIANT array in
// right-to-left order, matching how DISPPARAMS.rgvarg is conventionally
// populated.
func buildVariantArray(mem Memory, args []Arg) (uint32, error) {
	if len(args) == 0 {
		return 0, nil
	}
	total := len(args) * VariantSize
	base, err := mem.AllocBytes(make([]byte, total), 4)
	if err != nil {
		return 0, err
	}
	for i, arg := range args {
		rev := len(args) - 1 - i
		if err := WriteVariant(mem, base+uint32(rev)*VariantSize, arg); err != nil {
			return 0, err
		}
	}
	return base, nil
}

// buildDispParams writes a DISPPARAMS{rgvarg, rgdispidNamedArgs, cArgs,
// cNamedArgs} structure.
func buildDispParams(mem Memory, argsPtr uint32, argCount int) (uint32, error) {
	base, err := mem.AllocBytes(make([]byte, 16), 4)
	if err != nil {
		return 0, err
	}
	if err := mem.WriteU32(base, argsPtr); err != nil {
		return 0, err
	}
	if err := mem.WriteU32(base+4, 0); err != nil {
		return 0, err
	}
	if err := mem.WriteU32(base+8, uint32(argCount)); err != nil {
		return 0, err
	}
	if err := mem.WriteU32(base+12, 0); err != nil {
		return 0, err
	}
	return base, nil
}

type InvokeFailed struct {
	HRESULT uint32
}

func (e *InvokeFailed) Error() string {
	return "com: IDispatch::Invoke returned a failing HRESULT"
}
