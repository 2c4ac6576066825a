package gripper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wooshrobot/armlink/internal/infrastructure/metrics"
)

// Modbus-side protocol constants for the gripper controller.
const (
	// registerControl takes enable/disable/trigger control words.
	registerControl = 1000

	// registerPosition takes [position, speed] on write and returns the
	// current position on read.
	registerPosition = 1001

	// registerForce takes [force, speed].
	registerForce = 1002

	// toolVoltage is the tool power rail selector sent on connect.
	toolVoltage = 3

	// modbusPort, modbusBaudrate and modbusTimeoutSec configure the
	// controller's RS-485 pass-through on connect.
	modbusPort       = 1
	modbusBaudrate   = 115200
	modbusTimeoutSec = 2
)

// Control words written to registerControl.
var (
	controlDisable = []int{0, 0}
	controlEnable  = []int{0, 1}
	controlTrigger = []int{0, 9}
)

// Connection modes.
const (
	// ModeEphemeral opens a fresh connection for every command. This is
	// the default; it isolates commands from stale buffered traffic.
	ModeEphemeral = "ephemeral"

	// ModePersistent keeps one connection open across commands and lets
	// the correlator buffer carry partial lines between them.
	ModePersistent = "persistent"
)

// Position read encodings.
const (
	// EncodingPacked reads position from the high byte of a packed
	// position/speed register value.
	EncodingPacked = "packed"

	// EncodingList reads position directly from the data list.
	EncodingList = "list"
)

// Defaults applied by New.
const (
	defaultDeviceID       = 9
	defaultForce          = 60
	defaultSpeed          = 255
	defaultConnectTimeout = 3 * time.Second
	defaultCommandTimeout = 2 * time.Second
	defaultInitSettle     = 1 * time.Second
)

// Config holds the settings for one actuator client.
type Config struct {
	// Name identifies the actuator in logs, metrics and errors.
	Name string

	// Host and Port locate the controller's TCP command endpoint.
	Host string
	Port int

	// DeviceID is the Modbus slave address behind the controller.
	// Default: 9.
	DeviceID int

	// Force and Speed are the device-unit grip parameters written on
	// enable and used for position moves. Defaults: 60 and 255.
	Force int
	Speed int

	// Mode selects ModeEphemeral (default) or ModePersistent.
	Mode string

	// ReadEncoding selects EncodingPacked (default) or EncodingList for
	// position reads.
	ReadEncoding string

	// ConnectTimeout bounds TCP dial. Default: 3s.
	ConnectTimeout time.Duration

	// CommandTimeout bounds one command round trip. Default: 2s.
	CommandTimeout time.Duration

	// SettleTime is the blocking wait after a triggered move.
	SettleTime time.Duration

	// InitSettle is the wait after powering the tool rail on connect.
	// Default: 1s.
	InitSettle time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds operational statistics.
type Stats struct {
	CommandsTx   uint64
	AcksRx       uint64
	Timeouts     uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Client drives one gripper actuator over its TCP command endpoint.
//
// Commands never panic on device misbehaviour: a missed response becomes
// a *DeadlineError, a negative acknowledgement becomes ErrCommandRejected,
// and transport loss becomes a wrapped ErrTransport.
//
// Thread Safety:
//   - All methods are safe for concurrent use; commands to the same
//     actuator are serialised.
type Client struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	sess      *session // persistent mode only

	logger  Logger
	metrics metrics.Sink

	commandsTx   atomic.Uint64
	acksRx       atomic.Uint64
	timeouts     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// New creates a client for the given actuator configuration.
//
// The client is not connected; call Connect.
func New(cfg Config) *Client {
	if cfg.DeviceID == 0 {
		cfg.DeviceID = defaultDeviceID
	}
	if cfg.Force == 0 {
		cfg.Force = defaultForce
	}
	if cfg.Speed == 0 {
		cfg.Speed = defaultSpeed
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEphemeral
	}
	if cfg.ReadEncoding == "" {
		cfg.ReadEncoding = EncodingPacked
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.InitSettle == 0 {
		cfg.InitSettle = defaultInitSettle
	}

	return &Client{
		cfg:     cfg,
		logger:  noopLogger{},
		metrics: metrics.Noop{},
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics sets the metrics sink for this client.
func (c *Client) SetMetrics(sink metrics.Sink) {
	c.metrics = sink
}

// Connect establishes the actuator connection and runs the controller
// initialisation sequence: tool power, Modbus pass-through mode, then an
// explicit disable so the device starts from a known state.
//
// Missed acknowledgements during initialisation are logged and tolerated;
// some firmwares stay silent on configuration commands. Only a failed
// dial fails Connect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, c.cfg.Name)
	}

	sess, err := dialSession(c.cfg.Name, c.cfg.Host, c.cfg.Port, c.cfg.ConnectTimeout, c.logger)
	if err != nil {
		c.errorsTotal.Add(1)
		return err
	}

	c.initSequence(ctx, sess)

	if c.cfg.Mode == ModePersistent {
		c.sess = sess
	} else {
		sess.Close()
	}

	c.connected = true
	c.lastActivity.Store(time.Now().Unix())
	c.logger.Info("actuator connected",
		"actuator", c.cfg.Name,
		"mode", c.cfg.Mode,
		"session", sess.id,
	)
	return nil
}

// initSequence runs the power-on commands. Each step is best-effort.
func (c *Client) initSequence(ctx context.Context, sess *session) {
	steps := []struct {
		name   string
		encode func() ([]byte, error)
		expect string
		settle time.Duration
	}{
		{
			name:   "tool voltage",
			encode: func() ([]byte, error) { return encodeSetToolVoltage(toolVoltage) },
			expect: cmdSetToolVoltage,
			settle: c.cfg.InitSettle,
		},
		{
			name: "modbus mode",
			encode: func() ([]byte, error) {
				return encodeSetModbusMode(modbusPort, modbusBaudrate, modbusTimeoutSec)
			},
			expect: cmdSetModbusMode,
		},
		{
			name: "initial disable",
			encode: func() ([]byte, error) {
				return encodeWriteRegisters(modbusPort, registerControl, c.cfg.DeviceID, controlDisable)
			},
			expect: cmdWriteRegisters,
		},
	}

	for _, step := range steps {
		cmd, err := step.encode()
		if err != nil {
			c.logger.Error("encoding init command", "actuator", c.cfg.Name, "step", step.name, "error", err)
			continue
		}

		c.commandsTx.Add(1)
		resp, err := sess.roundTrip(cmd, step.expect, c.cfg.CommandTimeout)
		if err != nil {
			c.timeouts.Add(1)
			c.logger.Warn("init step unacknowledged, proceeding",
				"actuator", c.cfg.Name, "step", step.name, "error", err)
		} else if acked, found := resp.Acknowledged(); found && !acked {
			c.logger.Warn("init step rejected, proceeding",
				"actuator", c.cfg.Name, "step", step.name)
		} else {
			c.acksRx.Add(1)
		}

		sleepCtx(ctx, step.settle)
	}
}

// Disconnect disables the actuator best-effort and releases the
// connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.cfg.Name)
	}

	if c.cfg.Mode == ModePersistent && c.sess != nil {
		if err := c.writeRegister(c.sess, registerControl, controlDisable); err != nil {
			c.logger.Warn("disable on disconnect failed", "actuator", c.cfg.Name, "error", err)
		}
		c.sess.Close()
		c.sess = nil
	}

	c.connected = false
	c.logger.Info("actuator disconnected", "actuator", c.cfg.Name)
	return nil
}

// Enable energises the gripper and programs its force and speed.
func (c *Client) Enable(ctx context.Context) error {
	start := time.Now()
	err := c.withSession(ctx, func(sess *session) error {
		if err := c.writeRegister(sess, registerControl, controlEnable); err != nil {
			return err
		}
		return c.writeRegister(sess, registerForce, []int{c.cfg.Force, c.cfg.Speed})
	})
	c.metrics.ObserveCommand(c.cfg.Name, "enable", time.Since(start), err == nil)
	return err
}

// Disable de-energises the gripper.
func (c *Client) Disable(ctx context.Context) error {
	start := time.Now()
	err := c.withSession(ctx, func(sess *session) error {
		return c.writeRegister(sess, registerControl, controlDisable)
	})
	c.metrics.ObserveCommand(c.cfg.Name, "disable", time.Since(start), err == nil)
	return err
}

// SetPosition commands a move to the given engineering-unit position.
//
// The value is clamped to [0, 100] and quantised to device units. The
// move is two correlated writes (position+speed, then trigger) followed
// by the configured settle wait.
//
// Parameters:
//   - ctx: Bounds the settle wait
//   - value: Target position in engineering units
//
// Returns:
//   - error: ErrNotConnected, *DeadlineError, ErrCommandRejected, or a
//     wrapped ErrTransport
func (c *Client) SetPosition(ctx context.Context, value float64) error {
	dev := engToDev(value)

	start := time.Now()
	err := c.withSession(ctx, func(sess *session) error {
		if err := c.writeRegister(sess, registerPosition, []int{dev, c.cfg.Speed}); err != nil {
			return err
		}
		if err := c.writeRegister(sess, registerControl, controlTrigger); err != nil {
			return err
		}
		sleepCtx(ctx, c.cfg.SettleTime)
		return nil
	})
	c.metrics.ObserveCommand(c.cfg.Name, "set_position", time.Since(start), err == nil)

	if err != nil {
		return err
	}

	c.metrics.RecordPosition(c.cfg.Name, dev)
	c.logger.Debug("position commanded", "actuator", c.cfg.Name, "eng", value, "device_units", dev)
	return nil
}

// GetPosition reads the current position in device units.
//
// The register interpretation follows the configured ReadEncoding:
// EncodingPacked extracts the high byte of a packed position/speed value,
// EncodingList takes the first data element as-is.
func (c *Client) GetPosition(ctx context.Context) (int, error) {
	var pos int

	start := time.Now()
	err := c.withSession(ctx, func(sess *session) error {
		cmd, err := encodeReadHoldingRegisters(modbusPort, registerPosition, 1, c.cfg.DeviceID)
		if err != nil {
			return err
		}

		resp, err := c.roundTrip(sess, cmd, cmdReadHoldingRegisters)
		if err != nil {
			return err
		}

		data, ok := resp.Data()
		if !ok || len(data) == 0 {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: position read without data", ErrInvalidResponse)
		}

		switch c.cfg.ReadEncoding {
		case EncodingList:
			pos = data[0]
		default:
			pos = unpackPosition(data[0])
		}
		return nil
	})
	c.metrics.ObserveCommand(c.cfg.Name, "get_position", time.Since(start), err == nil)

	if err != nil {
		return 0, err
	}

	c.metrics.RecordPosition(c.cfg.Name, pos)
	return pos, nil
}

// withSession runs fn with a command session, serialising against other
// commands. Ephemeral mode dials per call; persistent mode reuses the
// connect-time session.
func (c *Client) withSession(ctx context.Context, fn func(*session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.cfg.Name)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandTimeout, err)
	}

	sess := c.sess
	if c.cfg.Mode != ModePersistent {
		var err error
		sess, err = dialSession(c.cfg.Name, c.cfg.Host, c.cfg.Port, c.cfg.ConnectTimeout, c.logger)
		if err != nil {
			c.errorsTotal.Add(1)
			return err
		}
		defer sess.Close()
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.cfg.Name)
	}

	err := fn(sess)
	if err == nil {
		c.lastActivity.Store(time.Now().Unix())
	}
	return err
}

// writeRegister performs one acknowledged register write.
func (c *Client) writeRegister(sess *session, address int, data []int) error {
	cmd, err := encodeWriteRegisters(modbusPort, address, c.cfg.DeviceID, data)
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(sess, cmd, cmdWriteRegisters)
	if err != nil {
		return err
	}

	acked, found := resp.Acknowledged()
	if !found {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: register %d write without acknowledgement field", ErrInvalidResponse, address)
	}
	if !acked {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: register %d", ErrCommandRejected, address)
	}

	c.acksRx.Add(1)
	return nil
}

// roundTrip sends one command and tracks stats on the outcome.
func (c *Client) roundTrip(sess *session, cmd []byte, expect string) (Response, error) {
	c.commandsTx.Add(1)

	resp, err := sess.roundTrip(cmd, expect, c.cfg.CommandTimeout)
	if err != nil {
		var dl *DeadlineError
		if errors.As(err, &dl) {
			c.timeouts.Add(1)
		} else {
			c.errorsTotal.Add(1)
		}
		return nil, err
	}
	return resp, nil
}

// IsConnected returns true once Connect has succeeded.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		CommandsTx:   c.commandsTx.Load(),
		AcksRx:       c.acksRx.Load(),
		Timeouts:     c.timeouts.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
