// Package keystore хранит API-ключи провайдеров в keys.enc.json:
// имя переменной окружения → шифртекст base64. Шифрование — системное
// хранилище учётных данных (DPAPI); без него запись деградирует до
// {"plaintext": "..."} с предупреждением при старте.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

const fileName = "keys.enc.json"

// ErrNoFacility — системное шифрование недоступно на этой платформе.
var ErrNoFacility = errors.New("keystore: credential facility unavailable")

type entry struct {
	Data      string `json:"data,omitempty"`      // base64 шифртекста
	Plaintext string `json:"plaintext,omitempty"` // фолбэк без шифрования
}

// Store читает и пишет ключи в файле внутри configDir.
type Store struct {
	path   string
	logger *zap.SugaredLogger
}

func New(configDir string, logger *zap.SugaredLogger) *Store {
	return &Store{path: filepath.Join(configDir, fileName), logger: logger}
}

// Load возвращает расшифрованные ключи. Пустые значения и заглушки
// отбрасываются как незаданные.
func (s *Store) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(raw))
	for name, e := range raw {
		var value string
		switch {
		case e.Data != "":
			blob, derr := base64.StdEncoding.DecodeString(e.Data)
			if derr != nil {
				s.logger.Warnw("Key entry is not valid base64", "name", name)
				continue
			}
			plain, derr := unprotect(blob)
			if derr != nil {
				s.logger.Warnw("Failed to decrypt key entry", "name", name, "error", derr)
				continue
			}
			value = string(plain)
		case e.Plaintext != "":
			s.logger.Warnw("Key stored in plaintext, credential facility was unavailable", "name", name)
			value = e.Plaintext
		}
		if config.IsSet(value) {
			out[name] = value
		}
	}
	return out, nil
}

// Save шифрует и записывает ключи. Без системного шифрования пишет
// plaintext-фолбэк и предупреждает.
func (s *Store) Save(keys map[string]string) error {
	raw := make(map[string]entry, len(keys))
	for name, value := range keys {
		blob, err := protect([]byte(value))
		if err != nil {
			if !errors.Is(err, ErrNoFacility) {
				return err
			}
			s.logger.Warnw("Storing key in plaintext, credential facility unavailable", "name", name)
			raw[name] = entry{Plaintext: value}
			continue
		}
		raw[name] = entry{Data: base64.StdEncoding.EncodeToString(blob)}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Apply выставляет ключи в окружение процесса, чтобы дочерний воркер
// унаследовал их при запуске.
func (s *Store) Apply(keys map[string]string) {
	for name, value := range keys {
		if os.Getenv(name) == "" {
			_ = os.Setenv(name, value)
		}
	}
}
