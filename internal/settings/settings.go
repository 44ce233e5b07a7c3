package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Settings — профиль пользователя. Меняется только через Store.Update,
// читатели получают копии-снапшоты.
type Settings struct {
	MasterEnabled  bool   `json:"master_enabled"`
	AutoInject     bool   `json:"auto_inject"`
	HumanizeTyping bool   `json:"humanize_typing"`
	LiveMode       bool   `json:"live_mode"`
	CodingMode     bool   `json:"coding_mode"`
	UltraHuman     bool   `json:"ultra_human"`
	Tone           string `json:"tone"`
	SelectedAgent  string `json:"selected_agent"`

	// Последний результат генерации; потребляется вставкой или отменой
	LastGeneratedText        string `json:"last_generated_text"`
	LastGeneratedExplanation string `json:"last_generated_explanation"`
}

func defaults() Settings {
	return Settings{
		MasterEnabled: true,
		AutoInject:    false,
		LiveMode:      false,
		Tone:          "neutral",
		SelectedAgent: "default",
	}
}

// Store — JSON-файл настроек с атомарной перезаписью и подпиской на снапшоты.
type Store struct {
	mu      sync.Mutex
	path    string
	current Settings
	logger  *zap.SugaredLogger
	subs    []chan Settings
}

func NewStore(configDir string, logger *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		path:    filepath.Join(configDir, "settings.json"),
		current: defaults(),
		logger:  logger,
	}
	if data, err := os.ReadFile(s.path); err == nil {
		if jerr := json.Unmarshal(data, &s.current); jerr != nil {
			logger.Warnw("Settings file is corrupt, using defaults", "path", s.path, "error", jerr)
			s.current = defaults()
		}
	}
	// результат прошлой жизни процесса не переживает рестарт
	s.current.LastGeneratedText = ""
	s.current.LastGeneratedExplanation = ""
	return s, nil
}

// Get возвращает копию текущих настроек.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update атомарно меняет настройки, сохраняет их на диск и раздаёт
// новый снапшот подписчикам.
func (s *Store) Update(fn func(*Settings)) Settings {
	s.mu.Lock()
	fn(&s.current)
	snap := s.current
	subs := s.subs
	s.mu.Unlock()

	if err := s.persist(snap); err != nil {
		s.logger.Errorw("Failed to persist settings", "error", err)
	}
	for _, ch := range subs {
		// последний снапшот важнее промежуточных
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}

// Subscribe возвращает канал снапшотов (ёмкость 1, старое вытесняется новым).
func (s *Store) Subscribe() <-chan Settings {
	ch := make(chan Settings, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) persist(snap Settings) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
