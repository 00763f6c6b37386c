package anchor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/postalsys/anchor/internal/command"
	"github.com/postalsys/anchor/internal/config"
	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/udp"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Data.Address = "127.0.0.1"
	cfg.Data.Port = 0
	cfg.Command.Address = "127.0.0.1:0"
	cfg.Source.BufferLength = 256
	cfg.Source.Channels = 2
	cfg.Source.SampleRate = 1000000
	return cfg
}

func TestSocketConfig(t *testing.T) {
	d := config.DataConfig{
		MaxChunkSize: 1400,
		ReuseAddr:    true,
		RateLimit:    config.ByteSize(10 * 1024 * 1024),
		BatchSize:    16,
		WriteTimeout: time.Second,
		TTL:          32,
		TOS:          0x10,
	}

	got := SocketConfig(d)
	want := udp.Config{
		MaxChunkSize:   1400,
		ReuseAddr:      true,
		BytesPerSecond: 10 * 1024 * 1024,
		BatchSize:      16,
		WriteTimeout:   time.Second,
		TTL:            32,
		TOS:            0x10,
	}
	if got != want {
		t.Errorf("SocketConfig() = %+v, want %+v", got, want)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Data.Address = "localhost"

	if a, err := New(cfg, nil); err == nil {
		a.Close()
		t.Fatal("New() should reject an invalid config")
	}
}

func TestNew_MissingCaptureFile(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Type = "file"
	cfg.Source.Path = t.TempDir() + "/missing.iq"

	if a, err := New(cfg, nil); err == nil {
		a.Close()
		t.Fatal("New() should fail when the capture file is missing")
	}
}

func TestAgent_StartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Health.Enabled = true
	cfg.Health.Address = "127.0.0.1:0"

	a, err := New(cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("agent running before Start")
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if a.CommandAddress() == "" {
		t.Error("CommandAddress() empty with command server enabled")
	}

	resp, err := http.Get("http://" + a.health.Address().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["command_server_running"] != true {
		t.Errorf("/healthz = %d %v, want 200 with command server running", resp.StatusCode, body)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	select {
	case err := <-a.Done():
		if err != nil {
			t.Errorf("Done() = %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not signalled after Stop")
	}
}

func TestAgent_CommandDrivesStreams(t *testing.T) {
	a, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := command.Dial(ctx, a.CommandAddress())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	local, err := netip.ParseAddrPort(c.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	target, err := command.Target(local, 1000)
	if err != nil {
		t.Skipf("client port %d leaves no room for the data port", local.Port())
	}

	cfg := udp.DefaultConfig()
	cfg.IdleTimeout = time.Second
	rx, err := udp.OpenAddrPort(target, cfg, nil)
	if err != nil {
		t.Skipf("data port %s unavailable: %v", target, err)
	}
	defer rx.Close()

	if got, err := c.Do(command.CmdBufLen); err != nil || got != "256" {
		t.Errorf("Do(blen) = (%q, %v), want (\"256\", nil)", got, err)
	}
	if got, err := c.Do(command.CmdRate); err != nil || got != "1000000" {
		t.Errorf("Do(rate) = (%q, %v), want (\"1000000\", nil)", got, err)
	}

	count, _ := command.FormatCount(2)
	if _, err := c.Do(count); err != nil {
		t.Fatalf("Do(%s) error = %v", count, err)
	}

	wantLen := 256 * 2 * 2
	for i := 0; i < 2; i++ {
		st, err := receive(t, rx, 2*time.Second)
		if err != nil {
			t.Fatalf("stream %d: %v", i, err)
		}
		if len(st.Data) != wantLen {
			t.Errorf("stream %d: %d bytes, want %d", i, len(st.Data), wantLen)
		}
		if st.From.Port() != a.sock.LocalAddr().Port() {
			t.Errorf("stream %d: from %v, want data socket %v", i, st.From, a.sock.LocalAddr())
		}
	}

	waitFor(t, "buffers to be counted", func() bool { return a.Stats().BuffersSent == 2 })
	if got := a.Stats().Target; got != target.String() {
		t.Errorf("Stats().Target = %q, want %q", got, target)
	}
}

func TestAgent_CommandDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Command.Enabled = false

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if got := a.CommandAddress(); got != "" {
		t.Errorf("CommandAddress() = %q, want empty", got)
	}
	if a.Stats().CommandRunning {
		t.Error("Stats().CommandRunning = true with command server disabled")
	}
}
