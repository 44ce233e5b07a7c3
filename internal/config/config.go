package config

import (
	"flag"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// PlaceholderValue — подстрока-заглушка в значениях ключей; такие значения считаются незаданными.
const PlaceholderValue = "your-api-key-here"

type Config struct {
	DebugMode bool   `env:"DEBUG_MODE"` // Режим дебага
	ConfigDir string `env:"CONFIG_DIR"` // Папка с settings.json, keys.enc.json и логами
	LogFile   string `env:"LOG_FILE"`   // Файл лога демона (ротация через lumberjack); пусто — только консоль

	// Наблюдатель клавиатуры и буфер
	BufferCap       int `env:"BUFFER_CAP"`        // Ёмкость текстового буфера в символах
	QueueCap        int `env:"QUEUE_CAP"`         // Ёмкость очереди событий хука
	WindowPollEvery int `env:"WINDOW_POLL_EVERY"` // Проверять активное окно каждые N нажатий

	// Приватность: подстроки имён процессов и заголовков окон, где триггеры запрещены
	PrivateApps   []string `env:"PRIVATE_APPS" envSeparator:";"`
	PrivateTitles []string `env:"PRIVATE_TITLES" envSeparator:";"`

	// Распознавание триггеров
	LiveIdle     time.Duration `env:"LIVE_IDLE"`      // Пауза набора для live-триггера
	LiveMinChars int           `env:"LIVE_MIN_CHARS"` // Минимум символов в буфере для live-триггера
	ExtendWindow time.Duration `env:"EXTEND_WINDOW"`  // Окно повторного триггера для режима extend

	// AI-воркер
	WorkerCommand     string        `env:"WORKER_COMMAND"`     // Команда запуска AI-воркера
	WorkerModel       string        `env:"WORKER_MODEL"`       // Модель по умолчанию
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT"` // Таймаут одной генерации

	// Инжектор
	InjectorCommand string `env:"INJECTOR_COMMAND"` // Команда запуска инжектора
	TabAsSpaces     int    `env:"TAB_AS_SPACES"`    // Таб как N пробелов; 0 — настоящий Tab

	// Попап
	PopupBridgeAddr string `env:"POPUP_BRIDGE_ADDR"` // Адрес websocket-моста оверлея
	PopupOffsetY    int    `env:"POPUP_OFFSET_Y"`    // Смещение попапа вниз от указателя

	// Супервизор дочерних процессов
	RestartBackoffBase time.Duration `env:"RESTART_BACKOFF_BASE"` // Стартовый backoff перезапуска
	RestartBackoffCap  time.Duration `env:"RESTART_BACKOFF_CAP"`  // Потолок backoff
	RestartMax         int           `env:"RESTART_MAX"`          // Перезапусков подряд до отказа
	RestartWindow      time.Duration `env:"RESTART_WINDOW"`       // Окно подсчёта перезапусков

	// Журнал набора (отладочный)
	KeylogEnabled bool          `env:"KEYLOG_ENABLED"` // Писать ли журнал набранного текста
	KeylogPath    string        `env:"KEYLOG_PATH"`    // Путь к keylog.json
	KeylogPause   time.Duration `env:"KEYLOG_PAUSE"`   // Пауза набора, после которой запись фиксируется

	// Глобальные хоткеи (формат "mod+mod+key", перекрываются настройками)
	HotkeyGenerate   string `env:"HOTKEY_GENERATE"`
	HotkeyClipboard  string `env:"HOTKEY_CLIPBOARD"`
	HotkeyScreenshot string `env:"HOTKEY_SCREENSHOT"`
	HotkeyVoice      string `env:"HOTKEY_VOICE"`
	HotkeyToggle     string `env:"HOTKEY_TOGGLE"`
	HotkeyPaste      string `env:"HOTKEY_PASTE"`
	HotkeyCancel     string `env:"HOTKEY_CANCEL"`
	HotkeyPause      string `env:"HOTKEY_PAUSE"`
	HotkeySettings   string `env:"HOTKEY_SETTINGS"`

	// Вспомогательный процесс голосового ввода (hold-to-talk); пусто — выключен
	VoiceCommand string `env:"VOICE_COMMAND"`
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		ConfigDir: "copilot-data",
		LogFile:   "",

		BufferCap:       16 * 1024,
		QueueCap:        1024,
		WindowPollEvery: 100,

		PrivateApps: []string{
			"google pay", "gpay", "phonepe", "paytm", "paypal",
			"bank", "banking", "netbanking",
			"lastpass", "1password", "bitwarden", "keepass", "dashlane",
			"password", "credential", "vault", "authenticator",
		},
		PrivateTitles: []string{
			"password", "sign in", "login", "credential", "payment",
			"banking", "bank account", "credit card", "debit card",
			"cvv", "pin", "otp", "verification code", "incognito", "inprivate",
		},

		LiveIdle:     700 * time.Millisecond,
		LiveMinChars: 3,
		ExtendWindow: 2 * time.Second,

		WorkerCommand:     "aiworker",
		WorkerModel:       "gpt-4o",
		GenerationTimeout: 60 * time.Second,

		InjectorCommand: "injector",
		TabAsSpaces:     0,

		PopupBridgeAddr: "127.0.0.1:48610",
		PopupOffsetY:    20,

		RestartBackoffBase: 2 * time.Second,
		RestartBackoffCap:  30 * time.Second,
		RestartMax:         5,
		RestartWindow:      10 * time.Minute,

		KeylogEnabled: false,
		KeylogPath:    "keylog.json",
		KeylogPause:   time.Second,

		HotkeyGenerate:   "ctrl+alt+enter",
		HotkeyClipboard:  "ctrl+alt+c",
		HotkeyScreenshot: "ctrl+alt+s",
		HotkeyVoice:      "ctrl+alt+v",
		HotkeyToggle:     "ctrl+alt+o",
		HotkeyPaste:      "ctrl+alt+p",
		HotkeyCancel:     "ctrl+alt+x",
		HotkeyPause:      "ctrl+alt+period",
		HotkeySettings:   "ctrl+alt+comma",

		VoiceCommand: "",
	}
}

// NewConfig загружает конфигурацию приложения.
func NewConfig() *Config {
	_ = godotenv.Load()

	// Стартуем с дефолтов, затем перекрываем .env/окружением и флагами
	cfg := Defaults()
	_ = env.Parse(cfg)

	flag.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	flag.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "папка данных приложения")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "файл лога демона (пусто — только консоль)")
	flag.IntVar(&cfg.BufferCap, "buffer-cap", cfg.BufferCap, "ёмкость текстового буфера в символах")
	flag.DurationVar(&cfg.LiveIdle, "live-idle", cfg.LiveIdle, "пауза набора для live-триггера, напр. 700ms")
	flag.IntVar(&cfg.LiveMinChars, "live-min-chars", cfg.LiveMinChars, "минимум символов для live-триггера")
	flag.DurationVar(&cfg.ExtendWindow, "extend-window", cfg.ExtendWindow, "окно повторного триггера extend, напр. 2s")
	flag.StringVar(&cfg.WorkerCommand, "worker-command", cfg.WorkerCommand, "команда запуска AI-воркера")
	flag.StringVar(&cfg.WorkerModel, "worker-model", cfg.WorkerModel, "модель генерации по умолчанию")
	flag.DurationVar(&cfg.GenerationTimeout, "generation-timeout", cfg.GenerationTimeout, "таймаут одной генерации")
	flag.StringVar(&cfg.InjectorCommand, "injector-command", cfg.InjectorCommand, "команда запуска инжектора")
	flag.IntVar(&cfg.TabAsSpaces, "tab-as-spaces", cfg.TabAsSpaces, "печатать таб как N пробелов (0 — Tab)")
	flag.StringVar(&cfg.PopupBridgeAddr, "popup-bridge-addr", cfg.PopupBridgeAddr, "адрес websocket-моста оверлея")
	flag.DurationVar(&cfg.RestartBackoffBase, "restart-backoff-base", cfg.RestartBackoffBase, "стартовый backoff перезапуска детей")
	flag.DurationVar(&cfg.RestartBackoffCap, "restart-backoff-cap", cfg.RestartBackoffCap, "потолок backoff перезапуска детей")
	flag.IntVar(&cfg.RestartMax, "restart-max", cfg.RestartMax, "максимум перезапусков подряд")
	flag.BoolVar(&cfg.KeylogEnabled, "keylog-enabled", cfg.KeylogEnabled, "вести отладочный журнал набора")
	flag.StringVar(&cfg.KeylogPath, "keylog-path", cfg.KeylogPath, "путь к файлу журнала набора")
	flag.StringVar(&cfg.VoiceCommand, "voice-command", cfg.VoiceCommand, "команда голосового помощника (пусто — выключен)")

	// Списки приватности принимаем одной строкой, разделённой ';'
	var privateAppsFlag, privateTitlesFlag string
	privateAppsFlag = strings.Join(cfg.PrivateApps, ";")
	privateTitlesFlag = strings.Join(cfg.PrivateTitles, ";")
	flag.StringVar(&privateAppsFlag, "private-apps", privateAppsFlag, "подстроки процессов приватных окон, разделённые ';'")
	flag.StringVar(&privateTitlesFlag, "private-titles", privateTitlesFlag, "подстроки заголовков приватных окон, разделённые ';'")
	flag.Parse()

	cfg.PrivateApps = parseListFlag(privateAppsFlag, Defaults().PrivateApps)
	cfg.PrivateTitles = parseListFlag(privateTitlesFlag, Defaults().PrivateTitles)

	return cfg
}

// IsSet сообщает, задано ли значение ключа: пустые значения и заглушки считаются незаданными.
func IsSet(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.Contains(v, PlaceholderValue)
}

// parseListFlag разбирает значение флага со списком, разделённым ';'
func parseListFlag(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ";")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
