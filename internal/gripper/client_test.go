package gripper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordedWrite is one write_registers command seen by the fake controller.
type recordedWrite struct {
	Address int
	Data    []int
}

// fakeController is a minimal controller on a loopback listener. It acks
// every command unless the test installs a custom respond hook.
type fakeController struct {
	ln    net.Listener
	conns atomic.Int32

	mu     sync.Mutex
	writes []recordedWrite

	// respond maps a decoded command to the lines to send back. A nil
	// result means stay silent. Guarded by mu; set via setRespond.
	respond func(cmd map[string]any) []string
}

func (fc *fakeController) setRespond(fn func(cmd map[string]any) []string) {
	fc.mu.Lock()
	fc.respond = fn
	fc.mu.Unlock()
}

func (fc *fakeController) responder() func(cmd map[string]any) []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.respond
}

func startFakeController(t *testing.T) *fakeController {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	fc := &fakeController{ln: ln}
	fc.respond = fc.ackEverything
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fc.conns.Add(1)
			go fc.serve(conn)
		}
	}()

	return fc
}

func (fc *fakeController) serve(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		var cmd map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &cmd); err != nil {
			continue
		}

		if cmd["command"] == "write_registers" {
			addr, _ := cmd["address"].(float64)
			var data []int
			if list, ok := cmd["data"].([]any); ok {
				for _, v := range list {
					data = append(data, int(v.(float64)))
				}
			}
			fc.mu.Lock()
			fc.writes = append(fc.writes, recordedWrite{Address: int(addr), Data: data})
			fc.mu.Unlock()
		}

		for _, resp := range fc.responder()(cmd) {
			if _, err := conn.Write([]byte(resp + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (fc *fakeController) ackEverything(cmd map[string]any) []string {
	switch cmd["command"] {
	case "set_tool_voltage":
		return []string{`{"command":"set_tool_voltage","set_state":true}`}
	case "set_modbus_mode":
		return []string{`{"command":"set_modbus_mode","set_state":true}`}
	case "write_registers":
		return []string{`{"command":"write_registers","write_state":true}`}
	case "read_holding_registers":
		return []string{`{"command":"read_holding_registers","data":[25855]}`}
	default:
		return nil
	}
}

func (fc *fakeController) recordedWrites() []recordedWrite {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]recordedWrite(nil), fc.writes...)
}

func (fc *fakeController) addr() (string, int) {
	tcp := fc.ln.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

func testClientConfig(fc *fakeController) Config {
	host, port := fc.addr()
	return Config{
		Name:           "grip",
		Host:           host,
		Port:           port,
		ConnectTimeout: time.Second,
		CommandTimeout: 500 * time.Millisecond,
		InitSettle:     time.Millisecond,
	}
}

func TestClient_ConnectRunsInitSequence(t *testing.T) {
	fc := startFakeController(t)
	c := New(testClientConfig(fc))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	writes := fc.recordedWrites()
	if len(writes) != 1 {
		t.Fatalf("init recorded %d register writes, want 1: %v", len(writes), writes)
	}
	if writes[0].Address != registerControl || writes[0].Data[1] != 0 {
		t.Errorf("init write = %+v, want disable on register %d", writes[0], registerControl)
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestClient_ConnectDialFailure(t *testing.T) {
	fc := startFakeController(t)
	cfg := testClientConfig(fc)
	fc.ln.Close()

	c := New(cfg)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Connect = %v, want ErrTransport", err)
	}
}

func TestClient_ConnectToleratesSilentInit(t *testing.T) {
	fc := startFakeController(t)
	fc.setRespond(func(map[string]any) []string { return nil })

	cfg := testClientConfig(fc)
	cfg.CommandTimeout = 100 * time.Millisecond

	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with silent controller failed: %v", err)
	}
	if got := c.Stats().Timeouts; got != 3 {
		t.Errorf("Stats().Timeouts = %d, want 3 silent init steps", got)
	}
}

func TestClient_EnableProgramsForceAndSpeed(t *testing.T) {
	fc := startFakeController(t)
	c := New(testClientConfig(fc))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	writes := fc.recordedWrites()
	// Init disable, then enable word, then force/speed.
	if len(writes) != 3 {
		t.Fatalf("recorded %d writes, want 3: %v", len(writes), writes)
	}
	if writes[1].Address != registerControl || writes[1].Data[1] != 1 {
		t.Errorf("enable write = %+v, want [0 1] on register %d", writes[1], registerControl)
	}
	if writes[2].Address != registerForce || writes[2].Data[0] != defaultForce || writes[2].Data[1] != defaultSpeed {
		t.Errorf("force write = %+v, want [%d %d] on register %d",
			writes[2], defaultForce, defaultSpeed, registerForce)
	}
}

func TestClient_SetPositionQuantisesAndTriggers(t *testing.T) {
	fc := startFakeController(t)
	c := New(testClientConfig(fc))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.SetPosition(context.Background(), 57); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}

	writes := fc.recordedWrites()
	if len(writes) != 3 {
		t.Fatalf("recorded %d writes, want 3: %v", len(writes), writes)
	}

	move := writes[1]
	if move.Address != registerPosition || move.Data[0] != 145 || move.Data[1] != defaultSpeed {
		t.Errorf("move write = %+v, want [145 %d] on register %d", move, defaultSpeed, registerPosition)
	}

	trigger := writes[2]
	if trigger.Address != registerControl || trigger.Data[1] != 9 {
		t.Errorf("trigger write = %+v, want [0 9] on register %d", trigger, registerControl)
	}
}

func TestClient_SetPositionRejected(t *testing.T) {
	fc := startFakeController(t)
	fc.setRespond(func(cmd map[string]any) []string {
		if cmd["command"] == "write_registers" {
			return []string{`{"command":"write_registers","write_state":false}`}
		}
		return fc.ackEverything(cmd)
	})

	c := New(testClientConfig(fc))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.SetPosition(context.Background(), 50); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("SetPosition = %v, want ErrCommandRejected", err)
	}
}

func TestClient_SetPositionTimeout(t *testing.T) {
	fc := startFakeController(t)
	c := New(testClientConfig(fc))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Go quiet after init: writes are swallowed.
	fc.setRespond(func(map[string]any) []string { return nil })

	err := c.SetPosition(context.Background(), 50)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("SetPosition = %v, want ErrCommandTimeout", err)
	}

	var dl *DeadlineError
	if !errors.As(err, &dl) {
		t.Fatalf("SetPosition returned %T, want *DeadlineError", err)
	}
	if dl.Command != cmdWriteRegisters {
		t.Errorf("DeadlineError.Command = %q, want %q", dl.Command, cmdWriteRegisters)
	}
	if got := c.Stats().Timeouts; got == 0 {
		t.Error("Stats().Timeouts = 0, want at least 1")
	}
}

func TestClient_GetPosition(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		respond  string
		want     int
	}{
		{
			name:     "packed position and speed",
			encoding: EncodingPacked,
			respond:  `{"command":"read_holding_registers","data":[25855]}`,
			want:     100,
		},
		{
			name:     "plain list",
			encoding: EncodingList,
			respond:  `{"command":"read_holding_registers","data":[132]}`,
			want:     132,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := startFakeController(t)
			fc.setRespond(func(cmd map[string]any) []string {
				if cmd["command"] == "read_holding_registers" {
					// Telemetry pushed ahead of the response must not
					// disturb correlation.
					return []string{
						`{"trajectory_state":{"joints":[1,2,3]}}`,
						tt.respond,
					}
				}
				return fc.ackEverything(cmd)
			})

			cfg := testClientConfig(fc)
			cfg.ReadEncoding = tt.encoding

			c := New(cfg)
			if err := c.Connect(context.Background()); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}

			got, err := c.GetPosition(context.Background())
			if err != nil {
				t.Fatalf("GetPosition failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("GetPosition() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClient_GetPositionWithoutData(t *testing.T) {
	fc := startFakeController(t)
	fc.setRespond(func(cmd map[string]any) []string {
		if cmd["command"] == "read_holding_registers" {
			return []string{`{"command":"read_holding_registers"}`}
		}
		return fc.ackEverything(cmd)
	})

	c := New(testClientConfig(fc))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := c.GetPosition(context.Background()); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("GetPosition = %v, want ErrInvalidResponse", err)
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := New(Config{Name: "grip", Host: "127.0.0.1", Port: 1})

	if err := c.Enable(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Enable = %v, want ErrNotConnected", err)
	}
	if _, err := c.GetPosition(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetPosition = %v, want ErrNotConnected", err)
	}
	if err := c.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestClient_ConnectionModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		wantConns int32
	}{
		// Ephemeral: one for connect plus one per command.
		{"ephemeral", ModeEphemeral, 3},
		// Persistent: the connect-time session serves every command.
		{"persistent", ModePersistent, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := startFakeController(t)
			cfg := testClientConfig(fc)
			cfg.Mode = tt.mode

			c := New(cfg)
			if err := c.Connect(context.Background()); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			if err := c.Enable(context.Background()); err != nil {
				t.Fatalf("Enable failed: %v", err)
			}
			if _, err := c.GetPosition(context.Background()); err != nil {
				t.Fatalf("GetPosition failed: %v", err)
			}
			if err := c.Disconnect(); err != nil {
				t.Fatalf("Disconnect failed: %v", err)
			}

			if got := fc.conns.Load(); got != tt.wantConns {
				t.Errorf("controller saw %d connections, want %d", got, tt.wantConns)
			}
		})
	}
}

func TestClient_StatsTracksActivity(t *testing.T) {
	fc := startFakeController(t)
	c := New(testClientConfig(fc))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	s := c.Stats()
	if s.CommandsTx < 5 {
		t.Errorf("Stats().CommandsTx = %d, want at least 5", s.CommandsTx)
	}
	if s.AcksRx < 5 {
		t.Errorf("Stats().AcksRx = %d, want at least 5", s.AcksRx)
	}
	if !s.Connected {
		t.Error("Stats().Connected = false")
	}
	if s.LastActivity.IsZero() {
		t.Error("Stats().LastActivity is zero")
	}
}
