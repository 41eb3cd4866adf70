// Package ws2_32 backs the small blocking-socket subset of WS2_32.dll this
// interpreter needs: WSAStartup/WSACleanup/socket/connect/send/recv/
// closesocket, gated by vm.Config.Sandbox the same way winapi/wininet is.
// Grounded on the original interpreter's windows/ws2_32/{constants,trace}.rs.
package ws2_32

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

const (
	invalidSocket = 0xFFFFFFFF
	socketError   = 0xFFFFFFFF
	afINET        = 2

	wsaEINVAL      = 10022
	wsaEWouldBlock = 10035
	wsaENotSock    = 10038

	wsaDataSize    = 400
	wsaDataVersion = 0x0202

	socketHandleBase = 0x40000000
)

type socket struct {
	conn   net.Conn
	closed bool
}

type store struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32]*socket
}

func newStore() *store {
	return &store{next: socketHandleBase, byID: map[uint32]*socket{}}
}

func (s *store) alloc(sock *socket) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.byID[id] = sock
	return id
}

func (s *store) get(id uint32) (*socket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.byID[id]
	return sock, ok
}

func (s *store) remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// lastError mirrors GetLastError/SetLastError's storage on the CPU's
// register file, so WSAGetLastError can share it with the rest of the
// Win32 surface rather than keeping a parallel error slot.
var errNoError uint32

// New builds the WS2_32.dll host module.
func New(cfg *vm.Config) *winapi.Table {
	st := newStore()
	t := winapi.NewTable()

	t.Stdcall("WSAStartup", 2, wsaStartup)
	t.Stdcall("WSACleanup", 0, wsaCleanup)
	t.Stdcall("WSAGetLastError", 0, wsaGetLastError)
	t.Stdcall("socket", 3, socketFn(st))
	t.Stdcall("connect", 3, connectFn(st, cfg))
	t.Stdcall("send", 4, sendFn(st))
	t.Stdcall("recv", 4, recvFn(st))
	t.Stdcall("closesocket", 1, closesocketFn(st))

	return t
}

func wsaStartup(c *vm.CPU, stackPtr uint32) (uint32, error) {
	wsaDataPtr := c.StackArg(stackPtr, 1)
	if wsaDataPtr == 0 {
		return wsaEINVAL, nil
	}
	buf := make([]byte, wsaDataSize)
	binary.LittleEndian.PutUint16(buf[0:2], wsaDataVersion)
	binary.LittleEndian.PutUint16(buf[2:4], wsaDataVersion)
	if err := c.Mem.WriteBytes(wsaDataPtr, buf); err != nil {
		return 0, err
	}
	return 0, nil
}

func wsaCleanup(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return 0, nil
}

func wsaGetLastError(c *vm.CPU, stackPtr uint32) (uint32, error) {
	return errNoError, nil
}

func socketFn(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		af := c.StackArg(stackPtr, 0)
		if af != afINET {
			errNoError = wsaEINVAL
			return invalidSocket, nil
		}
		id := st.alloc(&socket{})
		return id, nil
	}
}

// connectFn reads a sockaddr_in (family@0, port@2 big-endian, addr@4) from
// the guest buffer, resolves the destination through the sandbox's network
// gate, and dials a real TCP connection.
func connectFn(st *store, cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		handle := c.StackArg(stackPtr, 0)
		sockaddrPtr := c.StackArg(stackPtr, 1)

		sock, ok := st.get(handle)
		if !ok {
			errNoError = wsaENotSock
			return socketError, nil
		}

		raw, err := c.Mem.ReadBytes(sockaddrPtr, 16)
		if err != nil || len(raw) < 8 {
			errNoError = wsaEINVAL
			return socketError, nil
		}
		port := binary.BigEndian.Uint16(raw[2:4])
		ip := net.IPv4(raw[4], raw[5], raw[6], raw[7])

		if cfg == nil || cfg.Sandbox == nil || !cfg.Sandbox.NetworkEnabled {
			errNoError = wsaEWouldBlock
			return socketError, nil
		}
		target := ip.String()
		if cfg.Sandbox.NetworkFallbackHost != "" {
			target = cfg.Sandbox.NetworkFallbackHost
		}
		traceNet(fmt.Sprintf("WSA connect %s:%d", target, port))

		conn, err := net.Dial("tcp", net.JoinHostPort(target, strconv.Itoa(int(port))))
		if err != nil {
			errNoError = wsaEWouldBlock
			return socketError, nil
		}
		sock.conn = conn
		return 0, nil
	}
}

func sendFn(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		handle := c.StackArg(stackPtr, 0)
		bufPtr := c.StackArg(stackPtr, 1)
		length := c.StackArg(stackPtr, 2)

		sock, ok := st.get(handle)
		if !ok || sock.conn == nil {
			errNoError = wsaENotSock
			return socketError, nil
		}
		data, err := c.Mem.ReadBytes(bufPtr, length)
		if err != nil {
			errNoError = wsaEINVAL
			return socketError, nil
		}
		traceSend(data)
		n, err := sock.conn.Write(data)
		if err != nil {
			errNoError = wsaEWouldBlock
			return socketError, nil
		}
		return uint32(n), nil
	}
}

func recvFn(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		handle := c.StackArg(stackPtr, 0)
		bufPtr := c.StackArg(stackPtr, 1)
		length := c.StackArg(stackPtr, 2)

		sock, ok := st.get(handle)
		if !ok || sock.conn == nil {
			errNoError = wsaENotSock
			return socketError, nil
		}
		buf := make([]byte, length)
		n, err := sock.conn.Read(buf)
		if err != nil {
			if n == 0 {
				return 0, nil
			}
		}
		if err := c.Mem.WriteBytes(bufPtr, buf[:n]); err != nil {
			return 0, err
		}
		return uint32(n), nil
	}
}

func closesocketFn(st *store) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		handle := c.StackArg(stackPtr, 0)
		if sock, ok := st.get(handle); ok {
			if sock.conn != nil {
				sock.conn.Close()
			}
			sock.closed = true
		}
		st.remove(handle)
		return 0, nil
	}
}

const dataPreviewLimit = 512

func traceNet(message string) {
	if _, ok := os.LookupEnv("PE_VM_TRACE_NET"); ok {
		fmt.Fprintf(os.Stderr, "[pevm] %s\n", message)
		return
	}
	if _, ok := os.LookupEnv("PE_VM_TRACE"); ok {
		fmt.Fprintf(os.Stderr, "[pevm] %s\n", message)
	}
}

func traceSend(data []byte) {
	if len(data) == 0 {
		return
	}
	end := len(data)
	if end > dataPreviewLimit {
		end = dataPreviewLimit
	}
	traceNet(fmt.Sprintf("WSA send %d bytes: %s", len(data), bytesPreview(data[:end], len(data) > dataPreviewLimit)))
}

func bytesPreview(slice []byte, truncated bool) string {
	if isPrintableASCII(slice) {
		return strconv.Quote(string(slice))
	}
	var b strings.Builder
	for _, v := range slice {
		fmt.Fprintf(&b, "%02X", v)
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}

func isPrintableASCII(data []byte) bool {
	for _, v := range data {
		if v == '\t' || v == '\n' || v == '\r' {
			continue
		}
		if v < 0x20 || v > 0x7E {
			return false
		}
	}
	return true
}
