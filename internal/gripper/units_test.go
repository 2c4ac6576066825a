package gripper

import (
	"math"
	"testing"
)

func TestEngToDev(t *testing.T) {
	tests := []struct {
		name string
		eng  float64
		want int
	}{
		{"zero", 0, 0},
		{"full scale", 100, 255},
		{"mid scale floors", 50, 127},
		{"typical grip", 57, 145},
		{"below range clamps", -5, 0},
		{"above range clamps", 150, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engToDev(tt.eng); got != tt.want {
				t.Errorf("engToDev(%v) = %d, want %d", tt.eng, got, tt.want)
			}
		})
	}
}

func TestDevToEng(t *testing.T) {
	tests := []struct {
		name string
		dev  int
		want float64
	}{
		{"zero", 0, 0},
		{"full scale", 255, 100},
		{"typical grip", 145, 56.8627},
		{"above range clamps", 300, 100},
		{"below range clamps", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := devToEng(tt.dev)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("devToEng(%d) = %v, want %v", tt.dev, got, tt.want)
			}
		})
	}
}

func TestUnpackPosition(t *testing.T) {
	tests := []struct {
		name string
		reg  int
		want int
	}{
		{"position 100 speed 255", 0x64FF, 100},
		{"position 0 speed 255", 0x00FF, 0},
		{"position 255 speed 0", 0xFF00, 255},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unpackPosition(tt.reg); got != tt.want {
				t.Errorf("unpackPosition(%#x) = %d, want %d", tt.reg, got, tt.want)
			}
		})
	}
}
