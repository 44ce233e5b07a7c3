package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 16*1024, cfg.BufferCap)
	assert.Equal(t, 700*time.Millisecond, cfg.LiveIdle)
	assert.Equal(t, 2*time.Second, cfg.ExtendWindow)
	assert.Equal(t, 60*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 2*time.Second, cfg.RestartBackoffBase)
	assert.Equal(t, 30*time.Second, cfg.RestartBackoffCap)
	assert.Equal(t, 5, cfg.RestartMax)
	assert.Equal(t, 10*time.Minute, cfg.RestartWindow)
	assert.NotEmpty(t, cfg.PrivateApps)
	assert.NotEmpty(t, cfg.PrivateTitles)
}

func TestIsSet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"real value", "sk-abc123", true},
		{"empty", "", false},
		{"spaces", "   ", false},
		{"placeholder", "your-api-key-here", false},
		{"placeholder inside", "x your-api-key-here x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSet(tt.in))
		})
	}
}

func TestParseListFlag(t *testing.T) {
	def := []string{"a", "b"}
	assert.Equal(t, def, parseListFlag("", def))
	assert.Equal(t, []string{"x", "y"}, parseListFlag("x; y ;", def))
	assert.Equal(t, def, parseListFlag(" ; ; ", def))
}
