//go:build windows

package observer

import (
	"context"
	"errors"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
)

// Обёртки для функций, которых нет в lxn/win
var (
	user32                   = syscall.NewLazyDLL("user32.dll")
	kernel32                 = syscall.NewLazyDLL("kernel32.dll")
	procSetWindowsHookExW    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx       = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx  = user32.NewProc("UnhookWindowsHookEx")
	procPostThreadMessageW   = user32.NewProc("PostThreadMessageW")
	procToUnicode            = user32.NewProc("ToUnicode")
	procGetKeyboardState     = user32.NewProc("GetKeyboardState")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procQueryFullProcessName = kernel32.NewProc("QueryFullProcessImageNameW")
	procOpenProcess          = kernel32.NewProc("OpenProcess")
)

const (
	whKeyboardLL     = 13
	llkhfInjected    = 0x10
	wmKeydown        = 0x0100
	wmKeyup          = 0x0101
	wmSyskeydown     = 0x0104
	wmSyskeyup       = 0x0105
	processQueryInfo = 0x1000 // PROCESS_QUERY_LIMITED_INFORMATION
)

// kbdllhookstruct — структура события низкоуровневого хука (KBDLLHOOKSTRUCT).
type kbdllhookstruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type winHook struct{}

func newKeyHook() (keyHook, error) { return &winHook{}, nil }

// run устанавливает WH_KEYBOARD_LL и крутит цикл сообщений до отмены контекста.
func (h *winHook) run(ctx context.Context, ready chan<- struct{}, out chan<- RawKeyEvent) error {
	// Хук должен жить в закреплённом системном потоке
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	callback := syscall.NewCallback(func(nCode int32, wParam uintptr, lParam uintptr) uintptr {
		if nCode >= 0 {
			kb := (*kbdllhookstruct)(unsafe.Pointer(lParam))
			down := wParam == wmKeydown || wParam == wmSyskeydown
			up := wParam == wmKeyup || wParam == wmSyskeyup
			if down || up {
				ev := RawKeyEvent{
					VK:       kb.VkCode,
					Down:     down,
					Injected: kb.Flags&llkhfInjected != 0,
					At:       time.Now(),
				}
				ev.Kind, ev.Char = translateKey(kb.VkCode, kb.ScanCode)
				select {
				case out <- ev:
				default:
					// очередь хука переполнена — дропаем, блокировать нельзя
				}
			}
		}
		r, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
		return r
	})

	hhook, _, _ := procSetWindowsHookExW.Call(whKeyboardLL, callback, 0, 0)
	if hhook == 0 {
		return errors.New("SetWindowsHookExW failed")
	}
	defer procUnhookWindowsHookEx.Call(hhook)

	close(ready)

	// Параллельно следим за ctx и выбиваем цикл сообщений
	tid := win.GetCurrentThreadId()
	go func() {
		<-ctx.Done()
		procPostThreadMessageW.Call(uintptr(tid), win.WM_QUIT, 0, 0)
	}()

	msg := new(win.MSG)
	for {
		r := win.GetMessage(msg, 0, 0, 0)
		if r == 0 || r == -1 { // WM_QUIT или ошибка
			return nil
		}
		win.TranslateMessage(msg)
		win.DispatchMessage(msg)
	}
}

// translateKey переводит виртуальную клавишу в логический класс и символ
// текущей раскладки.
func translateKey(vk, scan uint32) (KeyKind, string) {
	switch vk {
	case win.VK_BACK:
		return KeyBackspace, ""
	case win.VK_RETURN:
		return KeyEnter, ""
	case win.VK_TAB:
		return KeyTab, ""
	case win.VK_ESCAPE:
		return KeyEscape, ""
	case win.VK_LEFT, win.VK_RIGHT, win.VK_UP, win.VK_DOWN,
		win.VK_HOME, win.VK_END, win.VK_PRIOR, win.VK_NEXT,
		win.VK_DELETE, win.VK_INSERT:
		return KeyCaretMove, ""
	case win.VK_SHIFT, win.VK_CONTROL, win.VK_MENU,
		win.VK_LSHIFT, win.VK_RSHIFT, win.VK_LCONTROL, win.VK_RCONTROL,
		win.VK_LMENU, win.VK_RMENU, win.VK_LWIN, win.VK_RWIN:
		return KeyModifier, ""
	}

	// Ctrl-сочетания не дают печатного символа
	if uint16(win.GetKeyState(win.VK_CONTROL))&0x8000 != 0 {
		return KeyOther, ""
	}

	var state [256]byte
	if r, _, _ := procGetKeyboardState.Call(uintptr(unsafe.Pointer(&state[0]))); r == 0 {
		return KeyOther, ""
	}
	var buf [8]uint16
	n, _, _ := procToUnicode.Call(
		uintptr(vk), uintptr(scan),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		0,
	)
	// n<0 — dead key, композиция завершится на следующем нажатии
	if int(n) <= 0 {
		return KeyOther, ""
	}
	s := syscall.UTF16ToString(buf[:n])
	if s == "`" {
		return KeyBacktick, s
	}
	if s == "" {
		return KeyOther, ""
	}
	return KeyPrintable, s
}

// foregroundContext возвращает заголовок и образ процесса активного окна.
func foregroundContext() (title string, process string) {
	hwnd := win.GetForegroundWindow()
	if hwnd == 0 {
		return "", ""
	}

	var tbuf [512]uint16
	if n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&tbuf[0])), uintptr(len(tbuf))); n > 0 {
		title = syscall.UTF16ToString(tbuf[:n])
	}

	var pid uint32
	win.GetWindowThreadProcessId(hwnd, &pid)
	if pid == 0 {
		return title, ""
	}
	hproc, _, _ := procOpenProcess.Call(processQueryInfo, 0, uintptr(pid))
	if hproc == 0 {
		return title, ""
	}
	defer win.CloseHandle(win.HANDLE(hproc))

	var pbuf [1024]uint16
	size := uint32(len(pbuf))
	if r, _, _ := procQueryFullProcessName.Call(hproc, 0, uintptr(unsafe.Pointer(&pbuf[0])), uintptr(unsafe.Pointer(&size))); r != 0 {
		process = syscall.UTF16ToString(pbuf[:size])
	}
	return title, process
}
