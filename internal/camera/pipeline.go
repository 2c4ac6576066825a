package camera

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wooshrobot/armlink/internal/infrastructure/metrics"
)

// Pipeline lifecycle constants.
const (
	// defaultWarmupBudget is the fixed wall-clock budget for the warmup
	// phase that discards early frames after connect.
	defaultWarmupBudget = 1 * time.Second

	// loopJoinTimeout bounds how long Disconnect waits for the read loop.
	loopJoinTimeout = 2 * time.Second

	// warmupRetryDelay paces warmup reads after a failed read so a
	// still-starting decoder is not polled in a tight loop.
	warmupRetryDelay = 50 * time.Millisecond
)

// Config holds the settings for one frame-acquisition pipeline.
type Config struct {
	// Name identifies the camera in logs, metrics and errors.
	Name string

	// Device is the capture input (e.g., "/dev/video0").
	Device string

	// Width and Height are the requested frame dimensions in pixels.
	Width  int
	Height int

	// FPS is the requested capture frame rate.
	FPS int

	// PixelFormat is the raw output pixel format. Default: "rgb24".
	PixelFormat string

	// InputFormat is the decoder input format. Default: "v4l2".
	InputFormat string

	// Warmup enables the warmup discard phase on connect.
	Warmup bool

	// WarmupBudget overrides the warmup wall-clock budget. Default: 1s.
	WarmupBudget time.Duration
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

// loopAction is the read loop's decision for one iteration.
type loopAction int

const (
	// actionPublish: the read succeeded; publish the frame and continue.
	actionPublish loopAction = iota

	// actionContinue: the read failed but the session lives; log and retry.
	actionContinue

	// actionStop: the session is dead; exit the loop (no self-heal).
	actionStop
)

// classifyReadResult maps one read outcome onto the loop decision table:
//
//	err == nil             → publish
//	err != nil, dead       → stop (recovery is the caller's responsibility)
//	err != nil, alive      → continue (short read or transient error)
func classifyReadResult(err error, alive bool) loopAction {
	switch {
	case err == nil:
		return actionPublish
	case !alive:
		return actionStop
	default:
		return actionContinue
	}
}

// Pipeline owns one capture session and its background read loop.
//
// The loop is started lazily by the first AsyncRead and publishes every
// successfully read frame into the pipeline's Mailbox.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent AsyncRead callers share one mailbox; see Mailbox for the
//     single-notification-per-generation caveat.
type Pipeline struct {
	cfg Config

	// start launches the capture session; replaced in tests.
	start StartSessionFunc

	mu        sync.Mutex
	session   Session
	frameSize int
	channels  int
	stopCh    chan struct{}
	loopDone  chan struct{}

	loopRunning atomic.Bool

	mailbox  *Mailbox
	lastSeen atomic.Uint64

	logger  Logger
	metrics metrics.Sink
}

// New creates a pipeline for the given camera configuration.
//
// Defaults applied: PixelFormat "rgb24", InputFormat "v4l2",
// WarmupBudget 1s. The pipeline is not connected; call Connect.
func New(cfg Config) *Pipeline {
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "rgb24"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.WarmupBudget == 0 {
		cfg.WarmupBudget = defaultWarmupBudget
	}

	return &Pipeline{
		cfg:     cfg,
		start:   startFFmpegSession,
		mailbox: NewMailbox(),
		logger:  noopLogger{},
		metrics: metrics.Noop{},
	}
}

// SetLogger sets the logger for this pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets the metrics sink for this pipeline.
func (p *Pipeline) SetMetrics(sink metrics.Sink) {
	p.metrics = sink
}

// Mailbox returns the pipeline's frame mailbox, for callers that poll the
// generation counter instead of (or in addition to) calling AsyncRead.
func (p *Pipeline) Mailbox() *Mailbox {
	return p.mailbox
}

// Connect starts the external capture session.
//
// It computes the fixed frame byte size (width × height × bytes-per-pixel)
// and, when configured, runs a warmup phase for a fixed wall-clock budget,
// discarding early frames so the capture pipeline can stabilise.
//
// Parameters:
//   - ctx: Bounds the warmup phase
//
// Returns:
//   - error: ErrAlreadyConnected, or a wrapped ErrConnectionFailed if the
//     session cannot be started
func (p *Pipeline) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, p.cfg.Name)
	}

	channels, err := bytesPerPixel(p.cfg.PixelFormat)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	sess, err := p.start(p.cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, p.cfg.Name, err)
	}

	p.session = sess
	p.channels = channels
	p.frameSize = p.cfg.Width * p.cfg.Height * channels
	p.stopCh = make(chan struct{})

	if p.cfg.Warmup {
		p.warmup(ctx, sess)
	}

	p.logger.Info("capture session started",
		"camera", p.cfg.Name,
		"session", sess.ID(),
		"frame_size", p.frameSize,
		"fps", p.cfg.FPS,
	)
	return nil
}

// warmup reads and discards frames for the configured budget.
// Read errors are ignored; a dead session ends the phase early.
func (p *Pipeline) warmup(ctx context.Context, sess Session) {
	deadline := time.Now().Add(p.cfg.WarmupBudget)
	discarded := 0
	buf := make([]byte, p.frameSize)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(sess.Output(), buf); err != nil {
			if !sess.Alive() {
				return
			}
			time.Sleep(warmupRetryDelay)
			continue
		}
		discarded++
	}

	p.logger.Debug("warmup complete", "camera", p.cfg.Name, "frames_discarded", discarded)
}

// ReadOnce performs one blocking read of exactly one frame from the
// capture session's output stream.
//
// Returns:
//   - *Frame: A fully read frame (generation unset until published)
//   - error: ErrNotConnected, or wrapped ErrIncompleteFrame on a short read
func (p *Pipeline) ReadOnce() (*Frame, error) {
	p.mu.Lock()
	sess, size, channels := p.session, p.frameSize, p.channels
	p.mu.Unlock()

	if sess == nil {
		return nil, ErrNotConnected
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(sess.Output(), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: got %d of %d bytes: %w",
			ErrIncompleteFrame, p.cfg.Name, n, size, err)
	}

	return &Frame{
		Data:        buf,
		Width:       p.cfg.Width,
		Height:      p.cfg.Height,
		Channels:    channels,
		PixelFormat: p.cfg.PixelFormat,
		Timestamp:   time.Now(),
	}, nil
}

// readLoop continuously reads frames and publishes them to the mailbox.
// It applies the classifyReadResult decision table each iteration and
// exits when the session dies or stop is signalled. It never reconnects.
func (p *Pipeline) readLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer p.loopRunning.Store(false)

	p.logger.Debug("read loop started", "camera", p.cfg.Name)

	for {
		select {
		case <-stopCh:
			p.logger.Debug("read loop stopped", "camera", p.cfg.Name)
			return
		default:
		}

		start := time.Now()
		frame, err := p.ReadOnce()

		switch classifyReadResult(err, p.sessionAlive()) {
		case actionPublish:
			p.mailbox.Publish(frame)
			p.metrics.ObserveFrameRead(p.cfg.Name, time.Since(start), true)

		case actionContinue:
			p.metrics.ObserveFrameRead(p.cfg.Name, time.Since(start), false)
			p.logger.Warn("frame read failed", "camera", p.cfg.Name, "error", err)

		case actionStop:
			p.metrics.ObserveFrameRead(p.cfg.Name, time.Since(start), false)
			p.logger.Error("capture session dead, read loop exiting",
				"camera", p.cfg.Name, "error", err)
			return
		}
	}
}

// sessionAlive reports whether the current session exists and is running.
func (p *Pipeline) sessionAlive() bool {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	return sess != nil && sess.Alive()
}

// AsyncRead returns the freshest frame, waiting up to timeout for one
// newer than the last frame this pipeline handed out.
//
// The background read loop is started lazily on the first call (and
// restarted if it previously exited while the session still exists).
//
// Parameters:
//   - timeout: Bounded wait for a fresh frame
//
// Returns:
//   - *Frame: The freshest frame
//   - error: ErrNotConnected, or *TimeoutError whose LoopRunning field
//     distinguishes "capture slow" from "capture dead"
func (p *Pipeline) AsyncRead(timeout time.Duration) (*Frame, error) {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	if !p.loopRunning.Load() {
		p.loopRunning.Store(true)
		p.loopDone = make(chan struct{})
		go p.readLoop(p.stopCh, p.loopDone)
	}
	p.mu.Unlock()

	frame, gen, err := p.mailbox.WaitLatest(p.lastSeen.Load(), timeout)
	if err != nil {
		return nil, &TimeoutError{
			Camera:      p.cfg.Name,
			Timeout:     timeout,
			LoopRunning: p.loopRunning.Load(),
		}
	}

	p.lastSeen.Store(gen)
	return frame, nil
}

// Disconnect stops the read loop and terminates the capture session.
//
// The loop is signalled first and joined with a bounded wait; the session
// is then terminated regardless (which also unblocks a loop stuck in a
// pipe read). Calling Disconnect when never connected, or twice, is an
// error.
func (p *Pipeline) Disconnect() error {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, p.cfg.Name)
	}
	sess := p.session
	stopCh, done := p.stopCh, p.loopDone
	p.session = nil
	p.stopCh = nil
	p.loopDone = nil
	p.mu.Unlock()

	close(stopCh)
	if done != nil {
		select {
		case <-done:
		case <-time.After(loopJoinTimeout):
			p.logger.Warn("read loop did not stop within join timeout", "camera", p.cfg.Name)
		}
	}

	if err := sess.Terminate(); err != nil {
		p.logger.Warn("terminating capture session", "camera", p.cfg.Name, "error", err)
	}

	p.logger.Info("disconnected", "camera", p.cfg.Name, "session", sess.ID())
	return nil
}

// FrameSize returns the fixed per-frame byte count, or zero when not
// connected.
func (p *Pipeline) FrameSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameSize
}

// LoopRunning reports whether the background read loop is currently alive.
func (p *Pipeline) LoopRunning() bool {
	return p.loopRunning.Load()
}
