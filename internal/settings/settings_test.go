package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	s.Update(func(st *Settings) {
		st.AutoInject = true
		st.Tone = "formal"
	})

	// новый Store читает сохранённое
	s2, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	got := s2.Get()
	assert.True(t, got.AutoInject)
	assert.Equal(t, "formal", got.Tone)
}

func TestLastGeneratedNotPersistedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	s.Update(func(st *Settings) { st.LastGeneratedText = "secret" })

	s2, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Empty(t, s2.Get().LastGeneratedText)
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{broken"), 0o644))

	s, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.True(t, s.Get().MasterEnabled)
}

func TestSubscribeLatestWins(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	ch := s.Subscribe()
	s.Update(func(st *Settings) { st.Tone = "one" })
	s.Update(func(st *Settings) { st.Tone = "two" })

	var last Settings
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	assert.Equal(t, "two", last.Tone)
}

func TestPersistedFileIsValidJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	s.Update(func(st *Settings) { st.CodingMode = true })

	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.True(t, onDisk.CodingMode)
}
