// Package winhttp backs the small blocking-HTTP subset of WINHTTP.dll:
// WinHttpOpen/WinHttpConnect/WinHttpOpenRequest/WinHttpSendRequest/
// WinHttpReceiveResponse/WinHttpReadData/WinHttpCloseHandle. WinHTTP is a
// distinct DLL from WinINet with its own handle namespace, but the same
// blocking-socket behavior underneath, so this module shares winapi/
// wininet's request machinery rather than re-deriving it. Grounded on the
// original interpreter's windows/winhttp/{store,types}.rs.
package winhttp

import (
	"sync"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
	"github.com/m3m0r7/pevm/winapi/wininet"
)

const handleBase = 0x72000000

type handleKind int

const (
	kindSession handleKind = iota
	kindConnection
	kindRequest
)

type handle struct {
	kind handleKind
	sess wininet.Session
	conn wininet.Connection
	req  *wininet.Request
}

type store struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32]*handle
}

func newStore() *store {
	return &store{next: handleBase, byID: map[uint32]*handle{}}
}

func (s *store) alloc(h *handle) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.byID[id] = h
	return id
}

func (s *store) get(id uint32) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byID[id]
	return h, ok
}

func (s *store) remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// New builds the WINHTTP.dll host module. cfg supplies the same sandbox
// network gate winapi/wininet uses.
func New(cfg *vm.Config) *winapi.Table {
	st := newStore()
	t := winapi.NewTable()

	t.Stdcall("WinHttpOpen", 5, winHttpOpen(st))
	t.Stdcall("WinHttpConnect", 4, winHttpConnect(st, cfg))
	t.Stdcall("WinHttpOpenRequest", 7, winHttpOpenRequest(st))
	t.Stdcall("WinHttpSendRequest", 7, winHttpSendRequest(st))
	t.Stdcall("WinHttpReceiveResponse", 2, winHttpReceiveResponse(st))
	t.Stdcall("WinHttpReadData", 4, winHttpReadData(st))
	t.Stdcall("WinHttpCloseHandle", 1, winHttpCloseHandle(st))

	return t
}

func winHttpOpen(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		uaPtr := c.StackArg(stackPtr, 0)
		ua := wininet.ReadWideStringOrEmpty(c, uaPtr)
		h := &handle{kind: kindSession, sess: wininet.Session{UserAgent: ua}}
		return st.alloc(h), nil
	}
}

func winHttpConnect(st *store, cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		sessionHandle := c.StackArg(stackPtr, 0)
		hostPtr := c.StackArg(stackPtr, 1)
		port := uint16(c.StackArg(stackPtr, 2))

		sh, ok := st.get(sessionHandle)
		if !ok || sh.kind != kindSession {
			return 0, nil
		}
		host := wininet.ReadWideStringOrEmpty(c, hostPtr)
		target, allowed := wininet.ResolveTarget(cfg, host)
		if !allowed {
			return 0, nil
		}
		h := &handle{kind: kindConnection, conn: wininet.Connection{Host: target, Port: port, UserAgent: sh.sess.UserAgent}}
		return st.alloc(h), nil
	}
}

func winHttpOpenRequest(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		connHandle := c.StackArg(stackPtr, 0)
		methodPtr := c.StackArg(stackPtr, 1)
		pathPtr := c.StackArg(stackPtr, 2)

		ch, ok := st.get(connHandle)
		if !ok || ch.kind != kindConnection {
			return 0, nil
		}
		method := wininet.ReadWideStringOrEmpty(c, methodPtr)
		if method == "" {
			method = "GET"
		}
		path := wininet.ReadWideStringOrEmpty(c, pathPtr)
		if path == "" {
			path = "/"
		}
		h := &handle{kind: kindRequest, req: &wininet.Request{Connection: connHandle, Method: method, Path: path}}
		return st.alloc(h), nil
	}
}

func winHttpSendRequest(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		reqHandle := c.StackArg(stackPtr, 0)
		rh, ok := st.get(reqHandle)
		if !ok || rh.kind != kindRequest {
			return 0, nil
		}
		ch, ok := st.get(rh.req.Connection)
		if !ok || ch.kind != kindConnection {
			return 0, nil
		}
		resp, body, err := wininet.SendHTTPRequest(ch.conn, rh.req.Method, rh.req.Path)
		if err != nil {
			return 0, &vm.IoError{Reason: err.Error()}
		}
		rh.req.Response = resp
		rh.req.Body = body
		return 1, nil
	}
}

// winHttpReceiveResponse is a no-op beyond reporting success: the send
// step above already ran the request to completion, matching this
// interpreter's synchronous WinINet behavior rather than WinHTTP's true
// asynchronous pipeline.
func winHttpReceiveResponse(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		reqHandle := c.StackArg(stackPtr, 0)
		rh, ok := st.get(reqHandle)
		if !ok || rh.kind != kindRequest || rh.req.Response == nil {
			return 0, nil
		}
		return 1, nil
	}
}

func winHttpReadData(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		reqHandle := c.StackArg(stackPtr, 0)
		bufferPtr := c.StackArg(stackPtr, 1)
		bytesToRead := c.StackArg(stackPtr, 2)
		bytesReadPtr := c.StackArg(stackPtr, 3)

		rh, ok := st.get(reqHandle)
		if !ok || rh.kind != kindRequest || rh.req.Response == nil {
			if bytesReadPtr != 0 {
				_ = c.Mem.WriteU32(bytesReadPtr, 0)
			}
			return 1, nil
		}

		remaining := rh.req.Body[rh.req.BodyRead:]
		n := uint32(len(remaining))
		if n > bytesToRead {
			n = bytesToRead
		}
		if n > 0 && bufferPtr != 0 {
			if err := c.Mem.WriteBytes(bufferPtr, remaining[:n]); err != nil {
				return 0, err
			}
		}
		rh.req.BodyRead += int(n)
		if bytesReadPtr != 0 {
			_ = c.Mem.WriteU32(bytesReadPtr, n)
		}
		return 1, nil
	}
}

func winHttpCloseHandle(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		st.remove(c.StackArg(stackPtr, 0))
		return 1, nil
	}
}
