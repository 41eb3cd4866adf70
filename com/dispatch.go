package com

import "sort"

// HandlerFunc answers one DISPID against a backend-specific execution
// context (typically a *vm.CPU, passed through as interface{} so this
// package stays independent of vm).
type HandlerFunc func(ctx interface{}, args []Arg) (Value, error)

// DispatchTable maps DISPIDs to host-implemented handlers, the backend a
// host-registered COM object uses instead of walking a guest vtable.
type DispatchTable struct {
	handlers map[uint32]HandlerFunc
	fallback HandlerFunc
}

func NewDispatchTable() *DispatchTable {
	return &DispatchTable{handlers: map[uint32]HandlerFunc{}}
}

func (t *DispatchTable) Register(dispid uint32, fn HandlerFunc) *DispatchTable {
	t.handlers[dispid] = fn
	return t
}

// RegisterI4/RegisterBStr/RegisterVoid adapt a narrowly-typed handler into
// the tagged HandlerFunc shape, mirroring the convenience constructors the
// original dispatch table exposed per return type.
func (t *DispatchTable) RegisterI4(dispid uint32, fn func(ctx interface{}, args []Arg) (int32, error)) *DispatchTable {
	return t.Register(dispid, func(ctx interface{}, args []Arg) (Value, error) {
		v, err := fn(ctx, args)
		return Value{Kind: ValueI4, I4: v}, err
	})
}

func (t *DispatchTable) RegisterBStr(dispid uint32, fn func(ctx interface{}, args []Arg) (string, error)) *DispatchTable {
	return t.Register(dispid, func(ctx interface{}, args []Arg) (Value, error) {
		v, err := fn(ctx, args)
		return Value{Kind: ValueBStr, BStr: v}, err
	})
}

func (t *DispatchTable) RegisterVoid(dispid uint32, fn func(ctx interface{}, args []Arg) error) *DispatchTable {
	return t.Register(dispid, func(ctx interface{}, args []Arg) (Value, error) {
		return Value{Kind: ValueVoid}, fn(ctx, args)
	})
}

func (t *DispatchTable) SetFallback(fn HandlerFunc) *DispatchTable {
	t.fallback = fn
	return t
}

func (t *DispatchTable) Invoke(ctx interface{}, dispid uint32, args []Arg) (Value, error) {
	if h, ok := t.handlers[dispid]; ok {
		return h(ctx, args)
	}
	if t.fallback != nil {
		return t.fallback(ctx, args)
	}
	return Value{}, &DispatchNotRegistered{DispID: dispid}
}

// DispIDs returns the registered DISPIDs in ascending order, mainly useful
// for tests that want to assert a table's shape.
func (t *DispatchTable) DispIDs() []uint32 {
	out := make([]uint32, 0, len(t.handlers))
	for id := range t.handlers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type DispatchNotRegistered struct {
	DispID uint32
}

func (e *DispatchNotRegistered) Error() string {
	return "com: dispatch handler not registered"
}
