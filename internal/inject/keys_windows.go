//go:build windows

package inject

import (
	"time"
	"unsafe"

	"github.com/lxn/win"
	"github.com/micmonay/keybd_event"
)

// pasteKeystroke синтезирует Ctrl+V для фолбэка через буфер обмена.
func pasteKeystroke() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	kb.HasCTRL(true)
	return kb.Launching()
}

// Typer печатает текст синтетическими событиями SendInput.
// Все backspace уходят до первого символа замены.
type Typer struct {
	tabSpaces int
	human     *Humanizer
}

func NewTyper(tabSpaces int, human *Humanizer) *Typer {
	return &Typer{tabSpaces: tabSpaces, human: human}
}

// Backspaces стирает n символов виртуальными Backspace.
func (t *Typer) Backspaces(n int) error {
	for i := 0; i < n; i++ {
		sendVirtualKey(win.VK_BACK)
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

// TypeText печатает текст; humanize включает паузы и опечатки.
func (t *Typer) TypeText(text string, humanize bool) error {
	if !humanize {
		for _, r := range text {
			t.typeRune(r)
			time.Sleep(time.Millisecond)
		}
		return nil
	}
	for _, step := range t.human.Plan(text) {
		time.Sleep(step.Delay)
		if step.Kind == StepTypo {
			t.typeRune(step.Typo)
			time.Sleep(80 * time.Millisecond)
			sendVirtualKey(win.VK_BACK)
			time.Sleep(40 * time.Millisecond)
		}
		t.typeRune(step.Char)
	}
	return nil
}

func (t *Typer) typeRune(r rune) {
	switch r {
	case '\n':
		sendVirtualKey(win.VK_RETURN)
	case '\r':
		// нормализованный текст \r не содержит; на всякий случай молчим
	case '\t':
		if t.tabSpaces > 0 {
			for i := 0; i < t.tabSpaces; i++ {
				sendUnicode(' ')
			}
			return
		}
		sendVirtualKey(win.VK_TAB)
	default:
		sendUnicode(r)
	}
}

// sendVirtualKey жмёт и отпускает виртуальную клавишу.
func sendVirtualKey(vk uint16) {
	inputs := []win.KEYBD_INPUT{
		{Type: win.INPUT_KEYBOARD, Ki: win.KEYBDINPUT{WVk: vk}},
		{Type: win.INPUT_KEYBOARD, Ki: win.KEYBDINPUT{WVk: vk, DwFlags: win.KEYEVENTF_KEYUP}},
	}
	win.SendInput(uint32(len(inputs)), unsafe.Pointer(&inputs[0]), int32(unsafe.Sizeof(inputs[0])))
}

// sendUnicode печатает произвольный символ через KEYEVENTF_UNICODE,
// с суррогатной парой для символов вне BMP.
func sendUnicode(r rune) {
	var units []uint16
	if r > 0xFFFF {
		v := uint32(r) - 0x10000
		units = []uint16{uint16(0xD800 + (v >> 10)), uint16(0xDC00 + (v & 0x3FF))}
	} else {
		units = []uint16{uint16(r)}
	}
	for _, u := range units {
		inputs := []win.KEYBD_INPUT{
			{Type: win.INPUT_KEYBOARD, Ki: win.KEYBDINPUT{WScan: u, DwFlags: win.KEYEVENTF_UNICODE}},
			{Type: win.INPUT_KEYBOARD, Ki: win.KEYBDINPUT{WScan: u, DwFlags: win.KEYEVENTF_UNICODE | win.KEYEVENTF_KEYUP}},
		}
		win.SendInput(uint32(len(inputs)), unsafe.Pointer(&inputs[0]), int32(unsafe.Sizeof(inputs[0])))
	}
}
