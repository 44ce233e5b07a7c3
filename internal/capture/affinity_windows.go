//go:build windows

package capture

import "syscall"

// Обёртка для функции, которой нет в lxn/win
var (
	user32                       = syscall.NewLazyDLL("user32.dll")
	procSetWindowDisplayAffinity = user32.NewProc("SetWindowDisplayAffinity")
)

const wdaExcludeFromCapture = 0x11 // WDA_EXCLUDEFROMCAPTURE, Windows 10 2004+

// ExemptWindow помечает окно как исключённое из захвата экрана.
// Возвращает false на старых системах — окно всё равно создаётся,
// но остаётся видимым для записи; это попадает в ConfigSnapshot.
func ExemptWindow(hwnd uintptr) bool {
	if procSetWindowDisplayAffinity.Find() != nil {
		return false
	}
	r, _, _ := procSetWindowDisplayAffinity.Call(hwnd, wdaExcludeFromCapture)
	return r != 0
}
