// Package wininet backs the small blocking-HTTP subset of WININET.dll:
// InternetOpenA/InternetConnectA/HttpOpenRequestA/HttpSendRequestA/
// InternetReadFile/InternetCloseHandle, layered on a handle store exactly
// like the original interpreter's windows/wininet/{store,types}.rs, with
// requests gated by vm.Config.Sandbox's host allowlist.
package wininet

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

const requestTimeout = 15 * time.Second

type handleKind int

const (
	kindSession handleKind = iota
	kindConnection
	kindRequest
)

// Session, Connection and Request are exported so winapi/winhttp can share
// this package's dial/parse machinery instead of re-deriving it for a
// second DLL with the same blocking-HTTP shape.
type Session struct {
	UserAgent string
}

type Connection struct {
	Host      string
	Port      uint16
	UserAgent string
	Secure    bool
}

type Request struct {
	Connection uint32
	Method     string
	Path       string
	Secure     bool
	Response   *http.Response
	Body       []byte
	BodyRead   int
}

type handle struct {
	kind handleKind
	sess Session
	conn Connection
	req  *Request
}

type store struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32]*handle
}

const handleBase = 0x71000000

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

// New builds the WININET.dll host module. cfg supplies the sandbox's
// network allowlist/fallback host; a nil or disabled sandbox refuses every
// connection attempt rather than defaulting to open network access.
func New(cfg *vm.Config) *winapi.Table {
	st := newStore()
	t := winapi.NewTable()

	t.Stdcall("InternetOpenA", 5, internetOpenA(st))
	t.Stdcall("InternetConnectA", 8, internetConnectA(st, cfg))
	t.Stdcall("HttpOpenRequestA", 7, httpOpenRequestA(st))
	t.Stdcall("HttpSendRequestA", 5, httpSendRequestA(st))
	t.Stdcall("InternetReadFile", 4, internetReadFile(st))
	t.Stdcall("InternetCloseHandle", 1, internetCloseHandle(st))

	return t
}

func internetOpenA(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		uaPtr := c.StackArg(stackPtr, 0)
		ua := readCStringOrEmpty(c, uaPtr)
		h := &handle{kind: kindSession, sess: Session{UserAgent: ua}}
		return st.alloc(h), nil
	}
}

func internetConnectA(st *store, cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		sessionHandle := c.StackArg(stackPtr, 0)
		hostPtr := c.StackArg(stackPtr, 1)
		port := uint16(c.StackArg(stackPtr, 2))

		sh, ok := st.get(sessionHandle)
		if !ok || sh.kind != kindSession {
			return 0, nil
		}
		host := readCStringOrEmpty(c, hostPtr)
		target, allowed := ResolveTarget(cfg, host)
		if !allowed {
			return 0, nil
		}
		h := &handle{kind: kindConnection, conn: Connection{Host: target, Port: port, UserAgent: sh.sess.UserAgent}}
		return st.alloc(h), nil
	}
}

// ResolveTarget applies the sandbox gate: networking disabled refuses
// every host; networking enabled with a fallback host redirects any
// request there instead of reaching the guest-requested target directly,
// the same indirection a sandboxed analysis run wants. Exported so
// winapi/winhttp applies the identical gate.
func ResolveTarget(cfg *vm.Config, host string) (string, bool) {
	if cfg == nil || cfg.Sandbox == nil || !cfg.Sandbox.NetworkEnabled {
		return "", false
	}
	if cfg.Sandbox.NetworkFallbackHost != "" {
		return cfg.Sandbox.NetworkFallbackHost, true
	}
	return host, true
}

func httpOpenRequestA(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		connHandle := c.StackArg(stackPtr, 0)
		methodPtr := c.StackArg(stackPtr, 1)
		pathPtr := c.StackArg(stackPtr, 2)

		ch, ok := st.get(connHandle)
		if !ok || ch.kind != kindConnection {
			return 0, nil
		}
		method := readCStringOrEmpty(c, methodPtr)
		if method == "" {
			method = "GET"
		}
		path := readCStringOrEmpty(c, pathPtr)
		if path == "" {
			path = "/"
		}
		h := &handle{kind: kindRequest, req: &Request{Connection: connHandle, Method: method, Path: path}}
		return st.alloc(h), nil
	}
}

func httpSendRequestA(st *store) vm.StubFunc {
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

		resp, body, err := SendHTTPRequest(ch.conn, rh.req.Method, rh.req.Path)
		if err != nil {
			return 0, &vm.IoError{Reason: err.Error()}
		}
		rh.req.Response = resp
		rh.req.Body = body
		return 1, nil
	}
}

func internetReadFile(st *store) vm.StubFunc {
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

func internetCloseHandle(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		st.remove(c.StackArg(stackPtr, 0))
		return 1, nil
	}
}

func readCStringOrEmpty(c *vm.CPU, ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s, err := c.Mem.ReadCString(ptr)
	if err != nil {
		return ""
	}
	return s
}

// ReadWideStringOrEmpty reads a UTF-16LE NUL-terminated string, the only
// string form the real WinHTTP API accepts.
func ReadWideStringOrEmpty(c *vm.CPU, ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s, err := c.Mem.ReadUTF16Z(ptr)
	if err != nil {
		return ""
	}
	return s
}

// SendHTTPRequest opens a plain blocking TCP connection, applies an
// SO_RCVTIMEO deadline through golang.org/x/sys/unix (matching the
// timeout-primitive role the domain stack assigns this dependency), and
// parses the HTTP/1.1 response. Exported so winapi/winhttp can issue the
// same request shape against its own handle namespace.
func SendHTTPRequest(conn Connection, method, path string) (*http.Response, []byte, error) {
	addr := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	dialer := net.Dialer{Timeout: requestTimeout}
	c, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	if tcpConn, ok := c.(*net.TCPConn); ok {
		applyReadTimeout(tcpConn, requestTimeout)
	}

	var reqLine strings.Builder
	fmt.Fprintf(&reqLine, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(&reqLine, "Host: %s\r\n", conn.Host)
	fmt.Fprint(&reqLine, "Connection: close\r\n")
	if conn.UserAgent != "" {
		fmt.Fprintf(&reqLine, "User-Agent: %s\r\n", conn.UserAgent)
	}
	reqLine.WriteString("\r\n")

	if _, err := io.WriteString(c, reqLine.String()); err != nil {
		return nil, nil, err
	}

	reader := bufio.NewReader(c)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func applyReadTimeout(conn *net.TCPConn, d time.Duration) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	})
}
