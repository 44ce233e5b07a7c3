package observer

import "time"

// KeyKind — логический класс нажатия после нормализации сырого события.
type KeyKind int

const (
	KeyPrintable KeyKind = iota + 1 // обычный символ (включая пробел)
	KeyBackspace
	KeyEnter
	KeyTab
	KeyBacktick // сентинель ` обрабатывается отдельно от печатных
	KeyEscape
	KeyCaretMove // стрелки, Home/End, PgUp/PgDn, Delete, Insert — каретка ушла
	KeyModifier  // Shift/Ctrl/Alt/Win
	KeyOther
)

// RawKeyEvent — нормализованное событие клавиатуры от системного хука.
type RawKeyEvent struct {
	VK       uint32
	Kind     KeyKind
	Char     string // заполнен для KeyPrintable после трансляции раскладки
	Down     bool
	Injected bool // системный флаг синтетического ввода (LLKHF_INJECTED)
	At       time.Time
}

// ActiveContext — активное окно и его классификация приватности.
type ActiveContext struct {
	Title     string
	Process   string
	Sensitive bool
}

// EventType описывает типы событий, публикуемых наблюдателем.
type EventType int

const (
	EventKey EventType = iota + 1
	EventFocusChange
)

// Event — универсальное событие наблюдателя.
type Event struct {
	Type    EventType
	Key     RawKeyEvent
	Context ActiveContext
}
