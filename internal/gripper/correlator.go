package gripper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Correlator tuning.
const (
	// correlatorPollInterval is the per-read deadline used while awaiting
	// a response, so the overall command deadline is checked regularly.
	correlatorPollInterval = 100 * time.Millisecond

	// rawHistorySize bounds how many recent raw lines are retained for
	// deadline diagnostics.
	rawHistorySize = 5

	// readChunkSize is the read buffer for inbound socket data.
	readChunkSize = 4096
)

// defaultTelemetryMarkers identify unsolicited telemetry pushes that share
// the command socket. Lines containing a marker are discarded silently,
// before any decode attempt.
var defaultTelemetryMarkers = []string{"trajectory_state"}

// Correlator matches controller responses to the command awaiting them.
//
// The inbound stream interleaves command responses, telemetry pushes and
// occasionally garbage. The correlator reads line by line, keeps any
// partial trailing line buffered for the next call, and classifies each
// complete line: telemetry is dropped silently, undecodable lines are
// logged and skipped, unrelated responses are skipped, and the first
// response whose command field matches the awaited command wins.
//
// A Correlator is bound to one connection and is not safe for concurrent
// use; the owning session serialises access.
type Correlator struct {
	actuator string
	conn     net.Conn
	logger   Logger
	markers  []string

	// pending holds bytes read but not yet terminated by a newline.
	// It survives across Await calls on the same connection.
	pending []byte

	// recent is a bounded history of raw lines, newest last.
	recent []string
}

// newCorrelator creates a correlator for one actuator connection.
func newCorrelator(actuator string, conn net.Conn, logger Logger) *Correlator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Correlator{
		actuator: actuator,
		conn:     conn,
		logger:   logger,
		markers:  defaultTelemetryMarkers,
	}
}

// Await reads the inbound stream until a response for the expected command
// arrives or the timeout elapses.
//
// Parameters:
//   - expect: The command field value the response must carry
//   - timeout: Overall deadline for the wait
//
// Returns:
//   - Response: The matched response
//   - error: *DeadlineError on timeout (carrying recent raw traffic), or
//     a wrapped ErrTransport on connection failure
func (c *Correlator) Await(expect string, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, readChunkSize)

	for {
		for {
			line, ok := c.nextLine()
			if !ok {
				break
			}
			if resp, matched := c.classify(line, expect); matched {
				return resp, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, &DeadlineError{
				Actuator: c.actuator,
				Command:  expect,
				Timeout:  timeout,
				Recent:   append([]string(nil), c.recent...),
			}
		}

		poll := time.Now().Add(correlatorPollInterval)
		if poll.After(deadline) {
			poll = deadline
		}
		if err := c.conn.SetReadDeadline(poll); err != nil {
			return nil, fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
	}
}

// nextLine pops one complete newline-terminated line from the pending
// buffer, with the trailing CR stripped.
func (c *Correlator) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(c.pending, '\n')
	if i < 0 {
		return nil, false
	}

	line := bytes.TrimRight(c.pending[:i], "\r")
	c.pending = append([]byte(nil), c.pending[i+1:]...)
	return line, true
}

// classify processes one complete line against the awaited command.
func (c *Correlator) classify(line []byte, expect string) (Response, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	c.remember(string(line))

	if c.isTelemetry(line) {
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.logger.Warn("discarding undecodable message",
			"actuator", c.actuator, "raw", string(line), "error", err)
		return nil, false
	}

	if got := resp.Command(); got != expect {
		c.logger.Debug("ignoring unrelated response",
			"actuator", c.actuator, "got", got, "want", expect)
		return nil, false
	}

	return resp, true
}

// isTelemetry reports whether the raw line carries a telemetry marker.
func (c *Correlator) isTelemetry(line []byte) bool {
	for _, marker := range c.markers {
		if bytes.Contains(line, []byte(marker)) {
			return true
		}
	}
	return false
}

// remember appends a raw line to the bounded history.
func (c *Correlator) remember(line string) {
	c.recent = append(c.recent, line)
	if len(c.recent) > rawHistorySize {
		c.recent = c.recent[len(c.recent)-rawHistorySize:]
	}
}
