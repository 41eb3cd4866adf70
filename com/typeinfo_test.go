package com

import (
	"testing"

	"github.com/m3m0r7/pevm/vm"
)

func TestExpectedInputsSkipsOutAndRetvalParams(t *testing.T) {
	fn := FuncDesc{Params: []ParamDesc{
		{VT: VtI4, Flags: 0},
		{VT: VtI4, Flags: ParamFlagOut},
		{VT: VtI4, Flags: ParamFlagRetval},
		{VT: VtI4, Flags: 0},
	}}
	if got := expectedInputs(fn); got != 2 {
		t.Errorf("expectedInputs = %d, want 2", got)
	}
}

func TestSelectFuncPicksOverloadMatchingArgCount(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{
		{MemID: 1, Params: []ParamDesc{{VT: VtI4}}},
		{MemID: 1, Params: []ParamDesc{{VT: VtI4}, {VT: VtI4}}},
	}}

	fn, ok := selectFunc(info, 1, 2)
	if !ok {
		t.Fatalf("selectFunc did not find a candidate")
	}
	if len(fn.Params) != 2 {
		t.Errorf("selectFunc picked a %d-param overload, want the 2-param one", len(fn.Params))
	}
}

func TestSelectFuncFallsBackToFirstCandidateOnArgCountMismatch(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{
		{MemID: 1, Params: []ParamDesc{{VT: VtI4}}},
	}}
	fn, ok := selectFunc(info, 1, 5)
	if !ok {
		t.Fatalf("selectFunc did not find a candidate")
	}
	if len(fn.Params) != 1 {
		t.Errorf("selectFunc = %+v, want the sole 1-param candidate", fn)
	}
}

func TestSelectFuncUnknownMemIDFails(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{{MemID: 1}}}
	if _, ok := selectFunc(info, 999, 0); ok {
		t.Error("selectFunc found a candidate for an unknown MemID")
	}
}

func TestReadStackSlotsReadsNineConsecutiveDwords(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	base, err := mem.Alloc(9*4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := uint32(0); i < 9; i++ {
		if err := mem.WriteU32(base+i*4, 0x100+i); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}
	}
	slots := readStackSlots(mem, base)
	for i := uint32(0); i < 9; i++ {
		if slots[i] != 0x100+i {
			t.Errorf("slots[%d] = 0x%x, want 0x%x", i, slots[i], 0x100+i)
		}
	}
}

func TestSelectInvokeArgsPicksNormalStdcallLayoutWhenItMatches(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{{MemID: 42}}}
	var slots [9]uint32
	slots[2] = 0xAAAA // instance
	slots[3] = 42     // memid
	slots[4] = 0      // flags
	slots[5] = 0xBBBB // dispParams
	slots[6] = 0xCCCC // resultPtr

	got := selectInvokeArgs(info, slots, false)
	if got.instance != 0xAAAA || got.memid != 42 || got.dispParams != 0xBBBB || got.resultPtr != 0xCCCC {
		t.Errorf("selectInvokeArgs = %+v, want the normal stdcall layout", got)
	}
}

func TestSelectInvokeArgsFallsBackToSwappedLayoutWhenMemidIsAtInstanceSlot(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{{MemID: 7}}}
	var slots [9]uint32
	// Neither the normal nor the no-flags layout's memid slot (base+1) holds
	// a known MemID; the swapped layout's memid slot (base) does.
	slots[2] = 7      // memid, in the "instance" position
	slots[3] = 0xAAAA // instance, in the "memid" position
	slots[4] = 0xBBBB // dispParams
	slots[5] = 0xCCCC // resultPtr

	got := selectInvokeArgs(info, slots, false)
	if got.memid != 7 {
		t.Fatalf("selectInvokeArgs = %+v, want a layout that resolves memid=7", got)
	}
	if got.instance != 0xAAAA {
		t.Errorf("selectInvokeArgs.instance = 0x%x, want 0xAAAA", got.instance)
	}
}

func TestSelectInvokeArgsThiscallUsesBaseOne(t *testing.T) {
	info := TypeInfo{Funcs: []FuncDesc{{MemID: 9}}}
	var slots [9]uint32
	slots[1] = 0xAAAA // instance
	slots[2] = 9      // memid
	slots[3] = 0      // flags
	slots[4] = 0xBBBB // dispParams
	slots[5] = 0xCCCC // resultPtr

	got := selectInvokeArgs(info, slots, true)
	if got.instance != 0xAAAA || got.memid != 9 {
		t.Errorf("selectInvokeArgs(thiscall) = %+v, want instance=0xAAAA memid=9", got)
	}
}

func TestValidVtableRejectsNullAndOutOfRangeOffsets(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	vtable, err := mem.Alloc(4*4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	objPtr, err := mem.Alloc(4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteU32(objPtr, vtable); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	if validVtable(mem, 0, 0) {
		t.Error("validVtable(0, ...) = true, want false")
	}
	if !validVtable(mem, objPtr, 12) {
		t.Error("validVtable within the allocated vtable range = false, want true")
	}
	if validVtable(mem, objPtr, 0x10000) {
		t.Error("validVtable far past the allocated vtable = true, want false")
	}
}

func TestMarshalInvokeArgsMatchesInputParamsToReversedVariants(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	argsPtr, err := mem.Alloc(2*VariantSize, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	// rgvarg is populated in reverse call order: arg[0] (last-called) is the
	// second logical parameter.
	if err := WriteVariant(mem, argsPtr, I4(2)); err != nil {
		t.Fatalf("WriteVariant: %v", err)
	}
	if err := WriteVariant(mem, argsPtr+VariantSize, I4(1)); err != nil {
		t.Fatalf("WriteVariant: %v", err)
	}

	dispParams, err := buildDispParams(mem, argsPtr, 2)
	if err != nil {
		t.Fatalf("buildDispParams: %v", err)
	}

	fn := FuncDesc{Params: []ParamDesc{{VT: VtI4}, {VT: VtI4}}}
	values, err := marshalInvokeArgs(mem, fn, dispParams)
	if err != nil {
		t.Fatalf("marshalInvokeArgs: %v", err)
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Errorf("marshalInvokeArgs = %v, want [1 2]", values)
	}
}

func TestMarshalInvokeArgsBStrAllocatesBackingBSTR(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	argsPtr, err := mem.Alloc(VariantSize, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := WriteVariant(mem, argsPtr, BStr("payload")); err != nil {
		t.Fatalf("WriteVariant: %v", err)
	}
	dispParams, err := buildDispParams(mem, argsPtr, 1)
	if err != nil {
		t.Fatalf("buildDispParams: %v", err)
	}

	fn := FuncDesc{Params: []ParamDesc{{VT: VtBstr}}}
	values, err := marshalInvokeArgs(mem, fn, dispParams)
	if err != nil {
		t.Fatalf("marshalInvokeArgs: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("marshalInvokeArgs returned %d values, want 1", len(values))
	}
	got, err := ReadBStr(mem, values[0])
	if err != nil {
		t.Fatalf("ReadBStr: %v", err)
	}
	if got != "payload" {
		t.Errorf("ReadBStr(marshalled BSTR) = %q, want %q", got, "payload")
	}
}

func TestInvokeTypeInfoEndToEndCallsThroughResolvedVtableSlot(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)

	vtable, err := mem.Alloc(8*4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	const vtableOffset = 28 // slot 7
	if err := mem.WriteU32(vtable+vtableOffset, 0x00410000); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	objPtr, err := mem.Alloc(4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteU32(objPtr, vtable); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	argsPtr, err := mem.Alloc(VariantSize, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := WriteVariant(mem, argsPtr, I4(10)); err != nil {
		t.Fatalf("WriteVariant: %v", err)
	}
	dispParamsPtr, err := buildDispParams(mem, argsPtr, 1)
	if err != nil {
		t.Fatalf("buildDispParams: %v", err)
	}
	resultPtr, err := mem.Alloc(VariantSize, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	stackBase, err := mem.Alloc(9*4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	// normal stdcall layout: base=2
	writeU32s(t, mem, stackBase, [9]uint32{
		0, 0, objPtr, 1, 0, dispParamsPtr, resultPtr, 0, 0,
	})

	info := TypeInfo{Funcs: []FuncDesc{{
		MemID:        1,
		Params:       []ParamDesc{{VT: VtI4}},
		RetVT:        VtI4,
		VtableOffset: vtableOffset,
	}}}

	exec := &fakeExecutor{result: sOK}
	hr := InvokeTypeInfo(mem, exec, info, stackBase, false)
	if hr != sOK {
		t.Fatalf("InvokeTypeInfo returned HRESULT 0x%x, want sOK", hr)
	}
	if exec.calledEntry != 0x00410000 {
		t.Errorf("called entry = 0x%x, want the resolved vtable slot 0x00410000", exec.calledEntry)
	}
	if len(exec.calledArgs) != 2 || exec.calledArgs[0] != objPtr || exec.calledArgs[1] != 10 {
		t.Errorf("called args = %v, want [objPtr 10]", exec.calledArgs)
	}

	got, err := ReadVariant(mem, resultPtr)
	if err != nil {
		t.Fatalf("ReadVariant: %v", err)
	}
	if got.Kind != ValueI4 {
		t.Errorf("result variant = %+v, want an I4 written back after a successful call", got)
	}
}

func TestInvokeTypeInfoUnknownMemberReturnsMemberNotFound(t *testing.T) {
	mem := vm.NewMemory(0x00400000, 0x1000)
	stackBase, err := mem.Alloc(9*4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	writeU32s(t, mem, stackBase, [9]uint32{0, 0, 0, 999, 0, 0, 0, 0, 0})

	info := TypeInfo{Funcs: []FuncDesc{{MemID: 1}}}
	exec := &fakeExecutor{}
	hr := InvokeTypeInfo(mem, exec, info, stackBase, false)
	if hr != dispEMemberNotFound {
		t.Errorf("InvokeTypeInfo for an unknown member = 0x%x, want dispEMemberNotFound", hr)
	}
}

func writeU32s(t *testing.T, mem Memory, base uint32, vals [9]uint32) {
	t.Helper()
	for i, v := range vals {
		if err := mem.WriteU32(base+uint32(i)*4, v); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}
	}
}
