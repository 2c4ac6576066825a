package camera

import (
	"fmt"
	"time"
)

// Frame is one decoded image buffer.
//
// A Frame is owned by whichever mailbox slot currently holds it; it is
// replaced atomically on publish and never mutated in place. Data must not
// be modified after the frame has been published.
type Frame struct {
	// Data holds Width*Height*Channels raw pixel bytes.
	Data []byte

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Channels is the number of bytes per pixel.
	Channels int

	// PixelFormat is the raw format tag ("rgb24", "bgr24", "gray").
	PixelFormat string

	// Generation is a monotonically increasing counter assigned by the
	// mailbox at publish time. Zero means never published.
	Generation uint64

	// Timestamp is the wall-clock time the frame read completed.
	Timestamp time.Time
}

// bytesPerPixel maps a pixel format tag to its per-pixel byte count.
func bytesPerPixel(format string) (int, error) {
	switch format {
	case "rgb24", "bgr24":
		return 3, nil
	case "gray":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
