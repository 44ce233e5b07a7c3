package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop().Sugar())

	require.NoError(t, s.Save(map[string]string{"OPENAI_API_KEY": "sk-test-123"}))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", got["OPENAI_API_KEY"])
}

func TestPlaintextFallbackOutsideWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("DPAPI доступен, фолбэк не задействуется")
	}
	dir := t.TempDir()
	s := New(dir, zap.NewNop().Sugar())
	require.NoError(t, s.Save(map[string]string{"K": "v"}))

	data, err := os.ReadFile(filepath.Join(dir, "keys.enc.json"))
	require.NoError(t, err)
	var raw map[string]entry
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "v", raw["K"].Plaintext)
	assert.Empty(t, raw["K"].Data)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop().Sugar())
	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPlaceholderTreatedAsUnset(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop().Sugar())
	require.NoError(t, s.Save(map[string]string{
		"REAL":  "value",
		"EMPTY": "",
		"FAKE":  "your-api-key-here",
	}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REAL": "value"}, got)
}

func TestApplyDoesNotOverrideEnv(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop().Sugar())
	t.Setenv("KS_TEST_VAR", "from-env")
	s.Apply(map[string]string{"KS_TEST_VAR": "from-store", "KS_TEST_NEW": "new"})
	assert.Equal(t, "from-env", os.Getenv("KS_TEST_VAR"))
	assert.Equal(t, "new", os.Getenv("KS_TEST_NEW"))
	_ = os.Unsetenv("KS_TEST_NEW")
}
