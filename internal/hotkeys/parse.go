package hotkeys

import (
	"fmt"
	"strings"
)

// Модификаторы в формате RegisterHotKey
const (
	ModAlt   = 0x0001
	ModCtrl  = 0x0002
	ModShift = 0x0004
	ModWin   = 0x0008
)

// Виртуальные клавиши, встречающиеся в привязках
var namedKeys = map[string]uint32{
	"enter":  0x0D,
	"space":  0x20,
	"esc":    0x1B,
	"escape": 0x1B,
	"tab":    0x09,
	"comma":  0xBC,
	"period": 0xBE,
	"f1":     0x70, "f2": 0x71, "f3": 0x72, "f4": 0x73,
	"f5": 0x74, "f6": 0x75, "f7": 0x76, "f8": 0x77,
	"f9": 0x78, "f10": 0x79, "f11": 0x7A, "f12": 0x7B,
}

// Binding — разобранная привязка хоткея.
type Binding struct {
	Mods uint32
	VK   uint32
}

// Parse разбирает строку вида "ctrl+alt+enter" в модификаторы и клавишу.
func Parse(spec string) (Binding, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(spec)), "+")
	if len(parts) == 0 {
		return Binding{}, fmt.Errorf("hotkeys: empty binding")
	}

	var b Binding
	for i, part := range parts {
		part = strings.TrimSpace(part)
		last := i == len(parts)-1
		switch part {
		case "ctrl", "control":
			b.Mods |= ModCtrl
		case "alt":
			b.Mods |= ModAlt
		case "shift":
			b.Mods |= ModShift
		case "win", "super":
			b.Mods |= ModWin
		default:
			if !last {
				return Binding{}, fmt.Errorf("hotkeys: unknown modifier %q in %q", part, spec)
			}
			vk, err := parseKey(part)
			if err != nil {
				return Binding{}, err
			}
			b.VK = vk
		}
	}
	if b.VK == 0 {
		return Binding{}, fmt.Errorf("hotkeys: binding %q has no key", spec)
	}
	return b, nil
}

func parseKey(name string) (uint32, error) {
	if vk, ok := namedKeys[name]; ok {
		return vk, nil
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint32(c - 'a' + 'A'), nil
		case c >= '0' && c <= '9':
			return uint32(c), nil
		}
	}
	return 0, fmt.Errorf("hotkeys: unknown key %q", name)
}
