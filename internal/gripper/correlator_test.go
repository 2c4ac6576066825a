package gripper

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func newPipeCorrelator(t *testing.T) (*Correlator, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return newCorrelator("grip", client, nil), server
}

func TestAwait_MatchesThroughInterference(t *testing.T) {
	corr, server := newPipeCorrelator(t)

	go func() {
		// Telemetry push, garbage, an unrelated response, then the real one.
		server.Write([]byte(`{"trajectory_state":{"joints":[0,0,0]}}` + "\r\n"))
		server.Write([]byte("###garbage###\r\n"))
		server.Write([]byte(`{"command":"read_holding_registers","data":[1]}` + "\r\n"))
		server.Write([]byte(`{"command":"write_registers","write_state":true}` + "\r\n"))
	}()

	resp, err := corr.Await(cmdWriteRegisters, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if acked, found := resp.Acknowledged(); !found || !acked {
		t.Errorf("matched response not acknowledged: %v", resp)
	}
}

func TestAwait_ReassemblesSplitResponse(t *testing.T) {
	corr, server := newPipeCorrelator(t)

	go func() {
		server.Write([]byte(`{"command":"write_reg`))
		time.Sleep(50 * time.Millisecond)
		server.Write([]byte(`isters","write_state":true}` + "\r\n"))
	}()

	resp, err := corr.Await(cmdWriteRegisters, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if resp.Command() != cmdWriteRegisters {
		t.Errorf("matched command = %q, want %q", resp.Command(), cmdWriteRegisters)
	}
}

func TestAwait_DeadlineCarriesRecentTraffic(t *testing.T) {
	corr, server := newPipeCorrelator(t)

	go func() {
		server.Write([]byte(`{"trajectory_state":{"seq":1}}` + "\r\n"))
		server.Write([]byte(`{"trajectory_state":{"seq":2}}` + "\r\n"))
	}()

	_, err := corr.Await(cmdWriteRegisters, 400*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Await = %v, want ErrCommandTimeout", err)
	}

	var dl *DeadlineError
	if !errors.As(err, &dl) {
		t.Fatalf("Await returned %T, want *DeadlineError", err)
	}
	if dl.Actuator != "grip" || dl.Command != cmdWriteRegisters {
		t.Errorf("DeadlineError identity = %q/%q, want grip/%q", dl.Actuator, dl.Command, cmdWriteRegisters)
	}
	if len(dl.Recent) != 2 {
		t.Fatalf("Recent holds %d lines, want 2: %v", len(dl.Recent), dl.Recent)
	}
	if !strings.Contains(dl.Recent[1], `"seq":2`) {
		t.Errorf("Recent[1] = %q, want the newest telemetry line last", dl.Recent[1])
	}
}

func TestAwait_BufferSurvivesAcrossCalls(t *testing.T) {
	corr, server := newPipeCorrelator(t)

	go func() {
		// First response plus the head of the second in one chunk.
		server.Write([]byte(`{"command":"write_registers","write_state":true}` + "\r\n" +
			`{"command":"read_hold`))
	}()

	if _, err := corr.Await(cmdWriteRegisters, time.Second); err != nil {
		t.Fatalf("first Await failed: %v", err)
	}

	go func() {
		server.Write([]byte(`ing_registers","data":[132]}` + "\r\n"))
	}()

	resp, err := corr.Await(cmdReadHoldingRegisters, time.Second)
	if err != nil {
		t.Fatalf("second Await failed: %v", err)
	}
	data, ok := resp.Data()
	if !ok || len(data) != 1 || data[0] != 132 {
		t.Errorf("Data() = %v, want [132]", data)
	}
}

func TestAwait_TransportFailure(t *testing.T) {
	corr, server := newPipeCorrelator(t)
	server.Close()

	_, err := corr.Await(cmdWriteRegisters, time.Second)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Await on closed conn = %v, want ErrTransport", err)
	}
}

func TestRememberBoundsHistory(t *testing.T) {
	corr := newCorrelator("grip", nil, nil)

	for i := 0; i < rawHistorySize+3; i++ {
		corr.remember(strings.Repeat("x", i+1))
	}

	if len(corr.recent) != rawHistorySize {
		t.Fatalf("history holds %d lines, want %d", len(corr.recent), rawHistorySize)
	}
	if got := corr.recent[rawHistorySize-1]; len(got) != rawHistorySize+3 {
		t.Errorf("newest retained line has length %d, want %d", len(got), rawHistorySize+3)
	}
}
