package winhttp

import (
	"io"
	"testing"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi/wininet"
)

func newStubArgs(t *testing.T, args ...uint32) (*vm.CPU, uint32) {
	t.Helper()
	mem := vm.NewMemory(0x00400000, 0x2000)
	cpu := vm.NewCPU(mem, vm.NewBridge(), 1000, log.NewStdLogger(io.Discard))

	stackPtr := mem.StackBottom() + 0x100
	if err := mem.WriteU32(stackPtr, 0xFFFFFFFF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	for i, a := range args {
		if err := mem.WriteU32(stackPtr+4+uint32(i)*4, a); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}
	}
	return cpu, stackPtr
}

func writeArgs(t *testing.T, c *vm.CPU, stackPtr uint32, args ...uint32) {
	t.Helper()
	for i, a := range args {
		if err := c.Mem.WriteU32(stackPtr+4+uint32(i)*4, a); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}
	}
}

func wideString(t *testing.T, c *vm.CPU, s string) uint32 {
	t.Helper()
	var buf []byte
	for _, r := range s {
		buf = append(buf, byte(r), byte(r>>8))
	}
	buf = append(buf, 0, 0)
	ptr, err := c.Mem.AllocBytes(buf, 2)
	if err != nil {
		t.Fatalf("AllocBytes: %v", err)
	}
	return ptr
}

func TestWinHttpOpenStoresWideUserAgent(t *testing.T) {
	st := newStore()
	cpu, stackPtr := newStubArgs(t)
	uaPtr := wideString(t, cpu, "WinHttpAgent/2.0")
	writeArgs(t, cpu, stackPtr, uaPtr, 0, 0, 0, 0)

	handle, err := winHttpOpen(st)(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpOpen: %v", err)
	}
	h, ok := st.get(handle)
	if !ok {
		t.Fatalf("handle 0x%x not found", handle)
	}
	if h.sess.UserAgent != "WinHttpAgent/2.0" {
		t.Errorf("UserAgent = %q, want %q", h.sess.UserAgent, "WinHttpAgent/2.0")
	}
}

func TestWinHttpConnectRefusesWithNetworkDisabled(t *testing.T) {
	st := newStore()
	session := st.alloc(&handle{kind: kindSession})

	cpu, stackPtr := newStubArgs(t)
	hostPtr := wideString(t, cpu, "example.com")
	writeArgs(t, cpu, stackPtr, session, hostPtr, 443)

	got, err := winHttpConnect(st, vm.NewConfig())(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpConnect: %v", err)
	}
	if got != 0 {
		t.Errorf("winHttpConnect with network disabled = 0x%x, want 0", got)
	}
}

func TestWinHttpConnectSucceedsWithNetworkEnabled(t *testing.T) {
	st := newStore()
	session := st.alloc(&handle{kind: kindSession, sess: wininet.Session{UserAgent: "agent"}})

	cpu, stackPtr := newStubArgs(t)
	hostPtr := wideString(t, cpu, "example.com")
	writeArgs(t, cpu, stackPtr, session, hostPtr, 443)

	cfg := vm.NewConfig()
	cfg.Sandbox = &vm.SandboxConfig{NetworkEnabled: true}

	got, err := winHttpConnect(st, cfg)(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpConnect: %v", err)
	}
	h, ok := st.get(got)
	if !ok {
		t.Fatalf("connection handle 0x%x not found", got)
	}
	if h.conn.Host != "example.com" || h.conn.Port != 443 || h.conn.UserAgent != "agent" {
		t.Errorf("conn = %+v, want Host=example.com Port=443 UserAgent=agent", h.conn)
	}
}

func TestWinHttpOpenRequestDefaultsMethodAndPath(t *testing.T) {
	st := newStore()
	conn := st.alloc(&handle{kind: kindConnection})

	cpu, stackPtr := newStubArgs(t)
	writeArgs(t, cpu, stackPtr, conn, 0, 0)

	got, err := winHttpOpenRequest(st)(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpOpenRequest: %v", err)
	}
	h, _ := st.get(got)
	if h.req.Method != "GET" || h.req.Path != "/" {
		t.Errorf("req = %+v, want Method=GET Path=/", h.req)
	}
}

func TestWinHttpReceiveResponseRequiresPriorSend(t *testing.T) {
	st := newStore()
	reqHandle := st.alloc(&handle{kind: kindRequest, req: &wininet.Request{}})

	cpu, stackPtr := newStubArgs(t, reqHandle)
	got, err := winHttpReceiveResponse(st)(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpReceiveResponse: %v", err)
	}
	if got != 0 {
		t.Errorf("winHttpReceiveResponse before send = %d, want 0 (no response yet)", got)
	}
}

func TestWinHttpReadDataWithNoResponseReportsZero(t *testing.T) {
	st := newStore()
	reqHandle := st.alloc(&handle{kind: kindRequest, req: &wininet.Request{}})

	cpu, stackPtr := newStubArgs(t)
	bufPtr, err := cpu.Mem.Alloc(16, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	bytesReadPtr, err := cpu.Mem.Alloc(4, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	writeArgs(t, cpu, stackPtr, reqHandle, bufPtr, 16, bytesReadPtr)

	rc, err := winHttpReadData(st)(cpu, stackPtr)
	if err != nil {
		t.Fatalf("winHttpReadData: %v", err)
	}
	if rc != 1 {
		t.Errorf("rc = %d, want 1 (TRUE)", rc)
	}
	n, _ := cpu.Mem.ReadU32(bytesReadPtr)
	if n != 0 {
		t.Errorf("bytes read = %d, want 0", n)
	}
}

func TestWinHttpCloseHandleRemovesHandle(t *testing.T) {
	st := newStore()
	h := st.alloc(&handle{kind: kindSession})

	cpu, stackPtr := newStubArgs(t, h)
	if _, err := winHttpCloseHandle(st)(cpu, stackPtr); err != nil {
		t.Fatalf("winHttpCloseHandle: %v", err)
	}
	if _, ok := st.get(h); ok {
		t.Errorf("handle 0x%x still present after WinHttpCloseHandle", h)
	}
}
