package command

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/anchor/internal/metrics"
)

// mockInfo implements Info for testing.
type mockInfo struct {
	bufLen int
	rate   int
}

func (m *mockInfo) BufferLength() int { return m.bufLen }
func (m *mockInfo) SampleRate() int   { return m.rate }

// recorder implements Dispatcher and keeps every request.
type recorder struct {
	mu   sync.Mutex
	reqs []Request
	ch   chan Request
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Request, 16)}
}

func (r *recorder) Submit(req Request) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.ch <- req
}

func (r *recorder) next(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-r.ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
		return Request{}
	}
}

// mockPower implements Power for testing.
type mockPower struct {
	mu       sync.Mutex
	halts    int
	reboots  int
	failWith error
}

func (m *mockPower) Poweroff(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halts++
	return m.failWith
}

func (m *mockPower) Reboot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reboots++
	return m.failWith
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, *recorder) {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	rec := newRecorder()
	s := NewServer(cfg, &mockInfo{bufLen: 262144, rate: 50000000}, rec, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, rec
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Address().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func clientPort(t *testing.T, c *Client) uint16 {
	t.Helper()
	ap, err := netip.ParseAddrPort(c.LocalAddr().String())
	if err != nil {
		t.Fatalf("parse local addr: %v", err)
	}
	return ap.Port()
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0000", 0, true},
		{"0005", 5, true},
		{"9999", 9999, true},
		{"12a4", 0, false},
		{"123", 0, false},
		{"12345", 0, false},
		{"-001", 0, false},
		{"data", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseCount(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCount(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatCount(t *testing.T) {
	got, err := FormatCount(42)
	if err != nil || got != "0042" {
		t.Errorf("FormatCount(42) = (%q, %v), want (\"0042\", nil)", got, err)
	}
	if _, err := FormatCount(10000); err == nil {
		t.Error("FormatCount(10000) should fail")
	}
	if _, err := FormatCount(-1); err == nil {
		t.Error("FormatCount(-1) should fail")
	}
}

func TestTarget(t *testing.T) {
	peer := netip.MustParseAddrPort("10.0.0.5:40000")
	got, err := Target(peer, 1000)
	if err != nil {
		t.Fatalf("Target() error = %v", err)
	}
	if want := netip.MustParseAddrPort("10.0.0.5:41000"); got != want {
		t.Errorf("Target() = %v, want %v", got, want)
	}

	if _, err := Target(netip.MustParseAddrPort("10.0.0.5:65000"), 1000); err == nil {
		t.Error("Target() should reject ports above 65535")
	}

	mapped := netip.MustParseAddrPort("[::ffff:10.0.0.5]:1234")
	got, err = Target(mapped, 1)
	if err != nil {
		t.Fatalf("Target() error = %v", err)
	}
	if !got.Addr().Is4() {
		t.Errorf("Target() addr = %v, want unmapped IPv4", got.Addr())
	}

	if _, err := Target(netip.MustParseAddrPort("[2001:db8::1]:40000"), 1000); err == nil {
		t.Error("Target() should reject IPv6 peers")
	}
}

func TestRequest_String(t *testing.T) {
	target := netip.MustParseAddrPort("10.0.0.5:3206")
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Target: target, Count: 0}, "stop 10.0.0.5:3206"},
		{Request{Target: target, Count: Forever}, "stream to 10.0.0.5:3206"},
		{Request{Target: target, Count: 3}, "send 3 to 10.0.0.5:3206"},
	}
	for _, tt := range tests {
		if got := tt.req.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000})

	if !s.IsRunning() {
		t.Error("server should be running")
	}
	if s.Address() == nil {
		t.Fatal("Address() returned nil")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("server should not be running after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestServer_StartInvalidAddress(t *testing.T) {
	s := NewServer(ServerConfig{Address: "256.0.0.1:99999"}, &mockInfo{}, newRecorder(), nil)
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Start() should fail on invalid address")
	}
}

func TestServer_ListensIPv4Only(t *testing.T) {
	s, _ := startServer(t, ServerConfig{Address: ":0"})

	addr, ok := s.Address().(*net.TCPAddr)
	if !ok {
		t.Fatalf("Address() = %T, want *net.TCPAddr", s.Address())
	}
	if addr.IP.To4() == nil {
		t.Errorf("listener bound to %v, want an IPv4 address", addr.IP)
	}

	s6 := NewServer(ServerConfig{Address: "[::1]:0"}, &mockInfo{}, newRecorder(), nil)
	if err := s6.Start(); err == nil {
		s6.Stop()
		t.Error("Start() should refuse an IPv6 listen address")
	}
}

func TestServer_Queries(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)

	tests := []struct {
		cmd  string
		want string
	}{
		{CmdPing, "ping"},
		{CmdBufLen, "262144"},
		{CmdRate, "50000000"},
	}

	for _, tt := range tests {
		got, err := c.Do(tt.cmd)
		if err != nil {
			t.Fatalf("Do(%q) error = %v", tt.cmd, err)
		}
		if got != tt.want {
			t.Errorf("Do(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestServer_StreamRequests(t *testing.T) {
	s, rec := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)
	port := clientPort(t, c)
	wantTarget := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port+1000)

	tests := []struct {
		cmd   string
		count int
	}{
		{CmdData, Forever},
		{CmdStop, 0},
		{"0005", 5},
		{"0000", 0},
	}

	for _, tt := range tests {
		if _, err := c.Do(tt.cmd); err != nil {
			t.Fatalf("Do(%q) error = %v", tt.cmd, err)
		}
		req := rec.next(t)
		if req.Count != tt.count {
			t.Errorf("%s: Count = %d, want %d", tt.cmd, req.Count, tt.count)
		}
		if req.Target != wantTarget {
			t.Errorf("%s: Target = %v, want %v", tt.cmd, req.Target, wantTarget)
		}
	}
}

func TestServer_UnknownCommandClosesConnection(t *testing.T) {
	s, rec := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)

	if _, err := c.Do("nope"); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after unknown command error = %v, want EOF", err)
	}

	select {
	case req := <-rec.ch:
		t.Errorf("unexpected request %v", req)
	default:
	}
}

func TestServer_SplitCommand(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)

	// A command split across writes is reassembled.
	if _, err := c.conn.Write([]byte("pi")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.conn.Write([]byte("ng")); err != nil {
		t.Fatal(err)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("reply = %q, want %q", buf, "ping")
	}
}

func TestServer_PortOffsetOverflow(t *testing.T) {
	s, rec := startServer(t, ServerConfig{PortOffset: 70000})
	c := dial(t, s)

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	c.conn.Write([]byte(CmdData))
	buf := make([]byte, 1)
	if _, err := c.conn.Read(buf); err == nil {
		t.Error("connection should be closed when the data port is out of range")
	}

	select {
	case req := <-rec.ch:
		t.Errorf("unexpected request %v", req)
	default:
	}
}

func TestServer_Power(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		power      *mockPower
		cmd        string
		want       string
		wantHalts  int
		wantReboot int
	}{
		{"halt denied", false, &mockPower{}, CmdHalt, ReplyDeny, 0, 0},
		{"boot denied", false, &mockPower{}, CmdBoot, ReplyDeny, 0, 0},
		{"halt allowed", true, &mockPower{}, CmdHalt, CmdHalt, 1, 0},
		{"boot allowed", true, &mockPower{}, CmdBoot, CmdBoot, 0, 1},
		{"halt fails", true, &mockPower{failWith: errors.New("boom")}, CmdHalt, ReplyFail, 1, 0},
		{"allowed without controller", true, nil, CmdHalt, ReplyDeny, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{Address: "127.0.0.1:0", PortOffset: 1000, AllowPower: tt.allow},
				&mockInfo{}, newRecorder(), nil)
			if tt.power != nil {
				s.SetPower(tt.power)
			}
			if err := s.Start(); err != nil {
				t.Fatalf("failed to start: %v", err)
			}
			defer s.Stop()

			c := dial(t, s)
			got, err := c.Do(tt.cmd)
			if err != nil {
				t.Fatalf("Do(%q) error = %v", tt.cmd, err)
			}
			if got != tt.want {
				t.Errorf("Do(%q) = %q, want %q", tt.cmd, got, tt.want)
			}
			if tt.power != nil {
				tt.power.mu.Lock()
				defer tt.power.mu.Unlock()
				if tt.power.halts != tt.wantHalts || tt.power.reboots != tt.wantReboot {
					t.Errorf("halts/reboots = %d/%d, want %d/%d",
						tt.power.halts, tt.power.reboots, tt.wantHalts, tt.wantReboot)
				}
			}
		})
	}
}

func TestServer_ReadTimeout(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000, ReadTimeout: 50 * time.Millisecond})
	c := dial(t, s)

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.conn.Read(buf); err == nil {
		t.Error("idle connection should be closed by the server")
	}
}

func TestServer_StopClosesConnections(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)

	if _, err := c.Do(CmdPing); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return with an open connection")
	}

	if _, err := c.Do(CmdPing); err == nil {
		t.Error("Do() after Stop should fail")
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)

	rec := newRecorder()
	s := NewServer(ServerConfig{Address: "127.0.0.1:0", PortOffset: 1000}, &mockInfo{}, rec, nil)
	s.SetMetrics(m)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer s.Stop()
	c := dial(t, s)

	c.Do(CmdPing)
	c.Do(CmdPing)
	c.Do("0003")
	rec.next(t)

	if got := testutil.ToFloat64(m.Commands.WithLabelValues(CmdPing)); got != 2 {
		t.Errorf("commands{ping} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues("count")); got != 1 {
		t.Errorf("commands{count} = %v, want 1", got)
	}
}

func TestClient_InvalidCommand(t *testing.T) {
	s, _ := startServer(t, ServerConfig{PortOffset: 1000})
	c := dial(t, s)

	if _, err := c.Do("toolong"); err == nil {
		t.Error("Do() should reject commands that are not 4 bytes")
	}
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr); err == nil {
		t.Error("Dial() to a closed port should fail")
	}
}

func TestExecPower(t *testing.T) {
	p := &ExecPower{
		PoweroffCmd: []string{"true"},
		RebootCmd:   []string{"false"},
		Timeout:     5 * time.Second,
	}

	if err := p.Poweroff(context.Background()); err != nil {
		t.Errorf("Poweroff() error = %v", err)
	}
	if err := p.Reboot(context.Background()); err == nil {
		t.Error("Reboot() with a failing command should return an error")
	}

	empty := &ExecPower{}
	if err := empty.Poweroff(context.Background()); err == nil {
		t.Error("Poweroff() with no command should return an error")
	}
}

func TestExpectsReply(t *testing.T) {
	for _, cmd := range []string{CmdPing, CmdBufLen, CmdRate, CmdHalt, CmdBoot} {
		if !ExpectsReply(cmd) {
			t.Errorf("ExpectsReply(%q) = false, want true", cmd)
		}
	}
	for _, cmd := range []string{CmdData, CmdStop, "0001", strconv.Itoa(1234)} {
		if ExpectsReply(cmd) {
			t.Errorf("ExpectsReply(%q) = true, want false", cmd)
		}
	}
}
