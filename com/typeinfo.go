package com

// ParamDesc describes one parameter of a described method: its VARTYPE and
// PARAMFLAG bits (PARAMFLAG_FIN / PARAMFLAG_FOUT / PARAMFLAG_FRETVAL are the
// only ones this subset inspects).
type ParamDesc struct {
	VT    uint16
	Flags uint32
}

const (
	ParamFlagIn     = 0x1
	ParamFlagOut    = 0x2
	ParamFlagRetval = 0x8
)

// FuncDesc is the subset of a type library FUNCDESC this interpreter tracks:
// enough to pick the right overload for a DISPID and to find its vtable slot.
type FuncDesc struct {
	MemID        uint32
	Params       []ParamDesc
	RetVT        uint16
	VtableOffset uint32
}

// TypeInfo is a minimal ITypeInfo backing store: every method a guest
// QueryInterface'd ITypeInfo object can report through Invoke.
type TypeInfo struct {
	Funcs []FuncDesc
}

func (t TypeInfo) funcsWithMemID(memid uint32) []FuncDesc {
	var out []FuncDesc
	for _, f := range t.Funcs {
		if f.MemID == memid {
			out = append(out, f)
		}
	}
	return out
}

func expectedInputs(f FuncDesc) int {
	n := 0
	for _, p := range f.Params {
		if p.Flags&ParamFlagRetval != 0 || p.Flags&ParamFlagOut != 0 {
			continue
		}
		n++
	}
	return n
}

func selectFunc(info TypeInfo, memid uint32, argCount int) (FuncDesc, bool) {
	candidates := info.funcsWithMemID(memid)
	if len(candidates) == 0 {
		return FuncDesc{}, false
	}
	for _, f := range candidates {
		if expectedInputs(f) == argCount {
			return f, true
		}
	}
	return candidates[0], true
}

// invokeArgs is one guess at how the guest laid out ITypeInfo::Invoke's
// stack arguments.
type invokeArgs struct {
	instance   uint32
	memid      uint32
	flags      uint16
	dispParams uint32
	resultPtr  uint32
	argErr     uint32
}

// readStackSlots captures the 9 dwords following the call's return address
// (or ECX, for a thiscall entry) as raw candidate argument words.
func readStackSlots(mem Memory, stackPtr uint32) [9]uint32 {
	var slots [9]uint32
	for i := range slots {
		v, err := mem.ReadU32(stackPtr + uint32(i)*4)
		if err != nil {
			v = 0
		}
		slots[i] = v
	}
	return slots
}

// selectInvokeArgs tries four plausible stack layouts for
// ITypeInfo::Invoke(instance, memid, flags, dispparams, result, exc_info,
// arg_err) — with or without the flags word, and with or without
// instance/memid swapped — and picks the first whose memid names a known
// method, defaulting to the "normal" layout.
func selectInvokeArgs(info TypeInfo, slots [9]uint32, thiscall bool) invokeArgs {
	base := 2
	if thiscall {
		base = 1
	}

	normal := invokeArgs{
		instance: slots[base], memid: slots[base+1], flags: uint16(slots[base+2]),
		dispParams: slots[base+3], resultPtr: slots[base+4], argErr: slots[base+6],
	}
	noFlags := invokeArgs{
		instance: slots[base], memid: slots[base+1], flags: 0,
		dispParams: slots[base+2], resultPtr: slots[base+3], argErr: slots[base+5],
	}
	swappedNoFlags := invokeArgs{
		instance: slots[base+1], memid: slots[base], flags: 0,
		dispParams: slots[base+2], resultPtr: slots[base+3], argErr: slots[base+5],
	}
	swappedNormal := invokeArgs{
		instance: slots[base+1], memid: slots[base], flags: uint16(slots[base+2]),
		dispParams: slots[base+3], resultPtr: slots[base+4], argErr: slots[base+6],
	}

	for _, candidate := range []invokeArgs{normal, noFlags, swappedNoFlags, swappedNormal} {
		if len(info.funcsWithMemID(candidate.memid)) > 0 {
			return candidate
		}
	}
	return normal
}

const (
	sOK                  = 0
	dispEMemberNotFound  = 0x80020003
	dispEBadParamCount   = 0x8002000E
	dispETypeMismatch    = 0x80020005
	eNotImpl             = 0x80004001
)

// InvokeTypeInfo emulates ITypeInfo::Invoke: it reads the guest's stack
// frame (DecodingStack), guesses its layout (SelectingLayout), resolves the
// target method by DISPID and a clamped argument count (SelectingFunc),
// marshals DISPPARAMS into a flat argument list honoring IN/OUT/IN-OUT/
// FRETVAL parameter flags (BuildingArgs), calls the method through its
// vtable slot (DispatchingCall), and writes the result VARIANT back
// (WritingResult).
func InvokeTypeInfo(mem Memory, exec Executor, info TypeInfo, stackPtr uint32, thiscall bool) uint32 {
	slots := readStackSlots(mem, stackPtr)
	selected := selectInvokeArgs(info, slots, thiscall)

	rawArgCount := 0
	if selected.dispParams != 0 {
		if n, err := mem.ReadU32(selected.dispParams + 8); err == nil {
			rawArgCount = int(n)
		}
	}

	maxExpected := 0
	for _, f := range info.funcsWithMemID(selected.memid) {
		if n := expectedInputs(f); n > maxExpected {
			maxExpected = n
		}
	}
	argCount := rawArgCount
	if argCount > maxExpected {
		argCount = maxExpected
	}

	fn, ok := selectFunc(info, selected.memid, argCount)
	if !ok {
		return dispEMemberNotFound
	}
	if selected.dispParams == 0 && len(fn.Params) > 0 {
		return dispEBadParamCount
	}

	instance := selected.instance
	dispParams := selected.dispParams
	if !validVtable(mem, instance, fn.VtableOffset) && validVtable(mem, dispParams, fn.VtableOffset) {
		instance, dispParams = dispParams, instance
	}
	if !validVtable(mem, instance, fn.VtableOffset) {
		return eNotImpl
	}

	values, retval, err := buildInvokeArgs(mem, fn, dispParams, rawArgCount)
	if err != nil {
		return dispETypeMismatch
	}

	entry, err := vtableFn(mem, instance, fn.VtableOffset/4)
	if err != nil || entry == 0 {
		return eNotImpl
	}

	callArgs := make([]uint32, 0, len(values)+1)
	callArgs = append(callArgs, instance)
	callArgs = append(callArgs, values...)

	hr, err := exec.Call(entry, callArgs)
	if err != nil {
		return eNotImpl
	}
	if hr == sOK && selected.resultPtr != 0 && fn.RetVT != VtEmpty {
		if err := writeInvokeResult(mem, selected.resultPtr, fn.RetVT, retval, hr); err != nil {
			return dispETypeMismatch
		}
	}
	return hr
}

// validVtable reports whether ptr looks like an object whose vtable has at
// least vtableOffset+4 bytes of entries — a cheap sanity check standing in
// for the original's "does this pointer's first dword look like a plausible
// vtable" heuristic.
func validVtable(mem Memory, ptr uint32, vtableOffset uint32) bool {
	if ptr == 0 {
		return false
	}
	vtable, err := mem.ReadU32(ptr)
	if err != nil || vtable == 0 {
		return false
	}
	_, err = mem.ReadU32(vtable + vtableOffset)
	return err == nil
}

// marshalInvokeArgs builds the flat, right-to-left-indexed argument list a
// vtable call expects from a DISPPARAMS block, matching each input
// parameter (in declaration order) to the caller-supplied VARIANT at the
// corresponding reversed slot.
func marshalInvokeArgs(mem Memory, fn FuncDesc, dispParams uint32) ([]uint32, error) {
	if dispParams == 0 {
		return nil, nil
	}
	argsPtr, err := mem.ReadU32(dispParams)
	if err != nil {
		return nil, err
	}
	argCount, err := mem.ReadU32(dispParams + 8)
	if err != nil {
		return nil, err
	}

	var inputs []int
	for i, p := range fn.Params {
		if p.Flags&ParamFlagRetval != 0 || p.Flags&ParamFlagOut != 0 {
			continue
		}
		inputs = append(inputs, i)
	}

	values := make([]uint32, 0, len(fn.Params))
	for pos, idx := range inputs {
		_ = idx
		if pos >= int(argCount) {
			values = append(values, 0)
			continue
		}
		argIndex := int(argCount) - 1 - pos
		varPtr := argsPtr + uint32(argIndex)*VariantSize
		v, err := ReadVariant(mem, varPtr)
		if err != nil {
			return nil, err
		}
		switch v.Kind {
		case ValueI4:
			values = append(values, uint32(v.I4))
		case ValueBStr:
			ptr, err := AllocBStr(mem, v.BStr)
			if err != nil {
				return nil, err
			}
			values = append(values, ptr)
		default:
			values = append(values, 0)
		}
	}
	return values, nil
}

// outParam records one allocated OUT/IN-OUT/FRETVAL buffer so WritingResult
// can read it back once the call returns.
type outParam struct {
	ptr  uint32
	size uint32
}

func isOutFlag(p ParamDesc) bool    { return p.Flags&ParamFlagOut != 0 && p.Flags&ParamFlagRetval == 0 }
func isRetvalFlag(p ParamDesc) bool { return p.Flags&ParamFlagRetval != 0 }
func isInFlag(p ParamDesc) bool     { return p.Flags&ParamFlagIn != 0 }

// baseBufferSize sizes an OUT/IN-OUT/FRETVAL backing buffer: a full VARIANT
// for VT_VARIANT/VT_USERDEFINED parameters, or a bare 4-byte cell (an int,
// BSTR pointer, or other by-ref scalar) otherwise.
func baseBufferSize(vt uint16) uint32 {
	if vt == VtVariant || vt == VtUserDefined {
		return VariantSize
	}
	return 4
}

// retvalMislabeledAsIn detects a typelib quirk: a genuine IN parameter
// tagged FRETVAL by mistake. The heuristic fires when the function has an
// explicit return type, exactly one parameter carries PARAMFLAG_FRETVAL,
// and the caller supplied more arguments than the function's true inputs —
// evidence the "retval" slot is actually being fed a value by the caller.
func retvalMislabeledAsIn(fn FuncDesc, argCount int) bool {
	if fn.RetVT == VtEmpty {
		return false
	}
	retvalCount := 0
	for _, p := range fn.Params {
		if isRetvalFlag(p) {
			retvalCount++
		}
	}
	return retvalCount == 1 && argCount > expectedInputs(fn)
}

// readRawVariant reads the pos-th positional input's VARIANT (reversed,
// matching rgvarg's right-to-left layout), reporting false when there is no
// such slot.
func readRawVariant(mem Memory, argsPtr uint32, argCount, pos int) (Value, bool) {
	if argsPtr == 0 || pos >= argCount {
		return Value{}, false
	}
	argIndex := argCount - 1 - pos
	v, err := ReadVariant(mem, argsPtr+uint32(argIndex)*VariantSize)
	if err != nil {
		return Value{}, false
	}
	return v, true
}

// readInputValue reads the pos-th positional input and coerces it into the
// flat uint32 a vtable call expects (an int passed by value, or a freshly
// allocated BSTR's pointer).
func readInputValue(mem Memory, argsPtr uint32, argCount, pos int) (uint32, error) {
	v, ok := readRawVariant(mem, argsPtr, argCount, pos)
	if !ok {
		return 0, nil
	}
	switch v.Kind {
	case ValueI4:
		return uint32(v.I4), nil
	case ValueBStr:
		return AllocBStr(mem, v.BStr)
	default:
		return 0, nil
	}
}

// allocOutBuffer allocates the backing buffer for one OUT, IN-OUT, or
// FRETVAL parameter, pre-filling it from v when haveValue is set (the
// IN-OUT case) and leaving it zeroed otherwise (pure OUT).
func allocOutBuffer(mem Memory, vt uint16, haveValue bool, v Value) (uint32, uint32, error) {
	size := baseBufferSize(vt)
	ptr, err := mem.AllocBytes(make([]byte, size), 4)
	if err != nil {
		return 0, 0, err
	}
	if !haveValue {
		return ptr, size, nil
	}
	if size == VariantSize {
		arg := I4(v.I4)
		if v.Kind == ValueBStr {
			arg = BStr(v.BStr)
		}
		return ptr, size, WriteVariant(mem, ptr, arg)
	}
	if vt == VtBstr {
		bptr, err := AllocBStr(mem, v.BStr)
		if err != nil {
			return 0, 0, err
		}
		return ptr, size, mem.WriteU32(ptr, bptr)
	}
	return ptr, size, mem.WriteU32(ptr, uint32(v.I4))
}

// marshalPositional marshals every parameter as a positional input,
// ignoring OUT/FRETVAL flags entirely — the fallback the invoker uses when
// the caller supplied more arguments than the function's true inputs: there
// is no reliable way to tell which slots the caller intended as OUT
// buffers, so every typelib parameter is read as an ordinary value.
func marshalPositional(mem Memory, fn FuncDesc, argsPtr uint32, argCount int) ([]uint32, error) {
	values := make([]uint32, 0, len(fn.Params))
	for i := range fn.Params {
		v, err := readInputValue(mem, argsPtr, argCount, i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// buildInvokeArgs builds the vtable call's argument list (instance
// excluded) in declaration order. Pure-IN parameters are read from the
// reversed DISPPARAMS slots; OUT and IN-OUT parameters get a freshly
// allocated backing buffer whose pointer is passed instead of a value; the
// single FRETVAL parameter (if any, and not reclassified by the
// mislabeled-as-IN heuristic) gets the same treatment so its buffer can be
// read back as the call's result. When the caller passed more arguments
// than the function declares true inputs, buildInvokeArgs instead falls
// back to marshalPositional.
func buildInvokeArgs(mem Memory, fn FuncDesc, dispParams uint32, rawArgCount int) ([]uint32, *outParam, error) {
	var argsPtr uint32
	if dispParams != 0 {
		if p, err := mem.ReadU32(dispParams); err == nil {
			argsPtr = p
		}
	}

	mislabeled := retvalMislabeledAsIn(fn, rawArgCount)
	if rawArgCount > expectedInputs(fn) && !mislabeled {
		values, err := marshalPositional(mem, fn, argsPtr, rawArgCount)
		return values, nil, err
	}

	hasOutOrRetval := false
	for _, p := range fn.Params {
		if isOutFlag(p) || (isRetvalFlag(p) && !mislabeled) {
			hasOutOrRetval = true
			break
		}
	}
	if !hasOutOrRetval {
		values, err := marshalInvokeArgs(mem, fn, dispParams)
		return values, nil, err
	}

	inputPos := 0
	values := make([]uint32, 0, len(fn.Params))
	var retval *outParam

	for _, p := range fn.Params {
		switch {
		case isRetvalFlag(p) && !mislabeled:
			ptr, size, err := allocOutBuffer(mem, p.VT, false, Value{})
			if err != nil {
				return nil, nil, err
			}
			values = append(values, ptr)
			retval = &outParam{ptr: ptr, size: size}
		case isOutFlag(p):
			v, haveValue := Value{}, false
			if isInFlag(p) {
				v, haveValue = readRawVariant(mem, argsPtr, rawArgCount, inputPos)
			}
			ptr, _, err := allocOutBuffer(mem, p.VT, haveValue, v)
			if err != nil {
				return nil, nil, err
			}
			values = append(values, ptr)
			inputPos++
		default:
			v, err := readInputValue(mem, argsPtr, rawArgCount, inputPos)
			if err != nil {
				return nil, nil, err
			}
			values = append(values, v)
			inputPos++
		}
	}
	return values, retval, nil
}

// writeInvokeResult implements the WritingResult state: when the call
// allocated a dedicated FRETVAL buffer, its contents (coerced to ret_vt)
// become the caller's result VARIANT; otherwise — the mislabeled-as-IN
// heuristic fired, or the function never declared a FRETVAL parameter —
// the function's own HRESULT is the meaningful value and is propagated
// back directly.
func writeInvokeResult(mem Memory, resultPtr uint32, retVT uint16, retval *outParam, hr uint32) error {
	if retval == nil {
		return WriteVariant(mem, resultPtr, I4(int32(hr)))
	}

	var arg Arg
	switch {
	case retval.size == VariantSize:
		v, err := ReadVariant(mem, retval.ptr)
		if err != nil {
			return err
		}
		arg = I4(v.I4)
		if v.Kind == ValueBStr {
			arg = BStr(v.BStr)
		}
	case retVT == VtBstr:
		ptr, err := mem.ReadU32(retval.ptr)
		if err != nil {
			return err
		}
		s, err := ReadBStr(mem, ptr)
		if err != nil {
			return err
		}
		arg = BStr(s)
	default:
		raw, err := mem.ReadU32(retval.ptr)
		if err != nil {
			return err
		}
		arg = I4(int32(raw))
	}
	return WriteVariant(mem, resultPtr, arg)
}
