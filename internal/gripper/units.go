package gripper

import "math"

// Engineering values are percentages in [0, 100]; the wire carries device
// units in [0, 255].
const (
	engMin = 0.0
	engMax = 100.0
	devMin = 0
	devMax = 255
)

// engToDev converts an engineering-unit value to device units.
//
// The value is clamped to the engineering range first, scaled, floored,
// and clamped again so rounding can never push it outside [0, 255].
func engToDev(v float64) int {
	if v < engMin {
		v = engMin
	}
	if v > engMax {
		v = engMax
	}

	dev := int(math.Floor(v / engMax * float64(devMax)))
	if dev < devMin {
		dev = devMin
	}
	if dev > devMax {
		dev = devMax
	}
	return dev
}

// devToEng converts a device-unit value back to engineering units.
func devToEng(d int) float64 {
	if d < devMin {
		d = devMin
	}
	if d > devMax {
		d = devMax
	}
	return float64(d) / float64(devMax) * engMax
}

// unpackPosition extracts the position byte from a packed position/speed
// register value (position in the high byte, speed in the low byte).
func unpackPosition(reg int) int {
	return (reg >> 8) & 0xFF
}
