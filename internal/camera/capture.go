package camera

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// gracefulStopTimeout is how long Terminate waits after SIGTERM before SIGKILL.
const gracefulStopTimeout = 2 * time.Second

// Session is a handle on an external capture process.
//
// The process is expected to emit a continuous raw pixel byte stream on its
// output; the pipeline reads exactly one frame's worth of bytes at a time.
type Session interface {
	// ID returns the unique session identifier used in logs and the journal.
	ID() string

	// Output is the raw frame byte stream.
	Output() io.Reader

	// Alive reports whether the capture process is still running.
	Alive() bool

	// Terminate stops the capture process: graceful signal first, then a
	// hard kill after a bounded wait. Safe to call on a dead session.
	Terminate() error
}

// StartSessionFunc starts a capture session for the given pipeline config.
// The default implementation launches ffmpeg; tests substitute their own.
type StartSessionFunc func(cfg Config) (Session, error)

// buildDecoderArgs assembles the ffmpeg argument list for a raw video pipe.
//
// The resulting command reads from the configured device and writes raw
// frames of cfg.PixelFormat to stdout:
//
//	ffmpeg -f v4l2 -framerate 30 -video_size 640x480 -i /dev/video0 \
//	       -pix_fmt rgb24 -f rawvideo -
func buildDecoderArgs(cfg Config) []string {
	return []string{
		"-f", cfg.InputFormat,
		"-framerate", strconv.Itoa(cfg.FPS),
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", cfg.Device,
		"-pix_fmt", cfg.PixelFormat,
		"-f", "rawvideo",
		"-",
	}
}

// ffmpegSession runs ffmpeg as a child process and exposes its stdout as
// the frame byte stream. stderr is discarded; decoder chatter at frame
// cadence would swamp the log.
type ffmpegSession struct {
	id     string
	cmd    *exec.Cmd
	stdout io.ReadCloser

	// exited is closed by the wait goroutine once the process is reaped.
	exited chan struct{}
}

// startFFmpegSession launches the ffmpeg decoder for cfg.
//
// The child gets its own process group so Terminate can signal the whole
// tree (ffmpeg may spawn helpers for some input formats).
func startFFmpegSession(cfg Config) (Session, error) {
	cmd := exec.Command("ffmpeg", buildDecoderArgs(cfg)...) //nolint:gosec // args come from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	s := &ffmpegSession{
		id:     uuid.NewString(),
		cmd:    cmd,
		stdout: stdout,
		exited: make(chan struct{}),
	}

	// Reap the process as soon as it exits so Alive stays accurate.
	go func() {
		_ = cmd.Wait()
		close(s.exited)
	}()

	return s, nil
}

func (s *ffmpegSession) ID() string {
	return s.id
}

func (s *ffmpegSession) Output() io.Reader {
	return s.stdout
}

func (s *ffmpegSession) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM to the process group, waits up to
// gracefulStopTimeout, then escalates to SIGKILL.
func (s *ffmpegSession) Terminate() error {
	if !s.Alive() {
		return nil
	}

	pid := s.cmd.Process.Pid

	// Negative PID signals the whole process group (created via Setpgid).
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("signalling capture process group: %w", err)
		}
	}

	select {
	case <-s.exited:
		return nil
	case <-time.After(gracefulStopTimeout):
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing capture process group: %w", err)
		}
	}

	<-s.exited
	return nil
}
