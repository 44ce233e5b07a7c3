package popup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlace(t *testing.T) {
	work := Rect{X: 0, Y: 0, W: 1920, H: 1080}

	tests := []struct {
		name   string
		px, py int
		wantX  int
		wantY  int
	}{
		{"below pointer", 100, 100, 100, 120},
		{"flips above at bottom", 100, 1050, 100, 1050 - 20 - 180},
		{"clamped right", 1900, 100, 1920 - 420, 120},
		{"clamped left", -50, 100, 0, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := Place(work, tt.px, tt.py, 420, 180, 20)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestPlaceSecondaryMonitorOffset(t *testing.T) {
	// рабочая область может начинаться не в нуле
	work := Rect{X: -1920, Y: 0, W: 1920, H: 1080}
	x, y := Place(work, -1910, 100, 420, 180, 20)
	assert.Equal(t, -1910, x)
	assert.Equal(t, 120, y)

	x, _ = Place(work, -10, 100, 420, 180, 20)
	assert.Equal(t, -420, x)
}

func TestPlaceFlipClampsToTop(t *testing.T) {
	work := Rect{X: 0, Y: 0, W: 800, H: 150}
	_, y := Place(work, 10, 140, 420, 180, 20)
	assert.Equal(t, 0, y)
}
