//go:build windows

package hotkeys

import (
	"context"
	"errors"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
)

// Обёртки для функций, которых нет в lxn/win
var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procRegisterHotKey   = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey = user32.NewProc("UnregisterHotKey")
)

// listen создаёт скрытое окно, регистрирует все привязки и крутит цикл
// сообщений до отмены контекста.
func (r *Registry) listen(ctx context.Context) error {
	// WinAPI должен жить в закреплённом системном потоке
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	className := syscall.StringToUTF16Ptr("CopilotHotkeyWindowClass")

	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.LpfnWndProc = syscall.NewCallback(func(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
		switch msg {
		case win.WM_HOTKEY:
			r.dispatch(int32(wParam))
			return 0
		case win.WM_DESTROY:
			win.PostQuitMessage(0)
			return 0
		}
		return win.DefWindowProc(hwnd, msg, wParam, lParam)
	})
	wc.HInstance = win.GetModuleHandle(nil)
	wc.LpszClassName = className
	if win.RegisterClassEx(&wc) == 0 {
		// возможно, уже зарегистрирован — пробуем продолжить
	}

	hwnd := win.CreateWindowEx(
		0, className,
		syscall.StringToUTF16Ptr("CopilotHotkeyWindow"),
		0, 0, 0, 0, 0, 0, 0, wc.HInstance, nil,
	)
	if hwnd == 0 {
		return errors.New("hotkeys: hidden window creation failed")
	}

	registered := make([]int32, 0, len(r.bindings))
	for id, bound := range r.bindings {
		ok, _, _ := procRegisterHotKey.Call(uintptr(hwnd), uintptr(id), uintptr(bound.bind.Mods), uintptr(bound.bind.VK))
		if ok == 0 {
			r.logger.Warnw("Hotkey registration failed, binding busy", "id", id)
			continue
		}
		registered = append(registered, id)
	}

	done := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		win.PostMessage(hwnd, win.WM_CLOSE, 0, 0)
		done <- struct{}{}
	}()

	msg := new(win.MSG)
	for {
		ret := win.GetMessage(msg, 0, 0, 0)
		if ret == 0 || ret == -1 { // WM_QUIT или ошибка
			break
		}
		win.TranslateMessage(msg)
		win.DispatchMessage(msg)
		select {
		case <-done:
			break
		default:
		}
	}

	for _, id := range registered {
		procUnregisterHotKey.Call(uintptr(hwnd), uintptr(id))
	}
	win.DestroyWindow(hwnd)
	return context.Cause(ctx)
}
