//go:build windows

package popup

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/lxn/win"

	"TypingCopilot/internal/capture"
)

const (
	wmAppShow    = win.WM_APP + 1
	wmAppSetText = win.WM_APP + 2
	wmAppHide    = win.WM_APP + 3

	spiGetWorkArea = 0x0030
)

var surfaceSeq atomic.Int32

// winSurface — собственное окно оверлея: поверх всех, без фокуса,
// исключено из захвата экрана. Все операции постятся в поток окна.
type winSurface struct {
	mu   sync.Mutex
	text string

	hwnd      win.HWND
	exempt    bool
	showX     int32
	showY     int32
	showW     int32
	showH     int32
	focusable bool
}

func newSurface(bool) (surface, error) {
	s := &winSurface{}
	ready := make(chan error, 1)
	go s.run(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *winSurface) run(ready chan<- error) {
	// Окно и его очередь сообщений живут в закреплённом системном потоке
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	className := syscall.StringToUTF16Ptr(fmt.Sprintf("CopilotOverlayClass%d", surfaceSeq.Add(1)))

	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.LpfnWndProc = syscall.NewCallback(s.wndProc)
	wc.HInstance = win.GetModuleHandle(nil)
	wc.HCursor = win.LoadCursor(0, (*uint16)(unsafe.Pointer(uintptr(win.IDC_ARROW))))
	wc.HbrBackground = win.GetSysColorBrush(win.COLOR_INFOBK)
	wc.LpszClassName = className
	if win.RegisterClassEx(&wc) == 0 {
		ready <- errors.New("popup: RegisterClassEx failed")
		return
	}

	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_NOACTIVATE|win.WS_EX_TOOLWINDOW|win.WS_EX_LAYERED,
		className,
		syscall.StringToUTF16Ptr("CopilotOverlay"),
		win.WS_POPUP,
		0, 0, 0, 0,
		0, 0, wc.HInstance, nil,
	)
	if hwnd == 0 {
		ready <- errors.New("popup: CreateWindowEx failed")
		return
	}
	s.hwnd = hwnd
	win.SetLayeredWindowAttributes(hwnd, 0, 240, win.LWA_ALPHA)
	// Исключаем окно из захвата экрана; на старых системах остаёмся видимыми
	s.exempt = capture.ExemptWindow(uintptr(hwnd))

	ready <- nil

	msg := new(win.MSG)
	for {
		r := win.GetMessage(msg, 0, 0, 0)
		if r == 0 || r == -1 {
			return
		}
		win.TranslateMessage(msg)
		win.DispatchMessage(msg)
	}
}

func (s *winSurface) wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case wmAppShow:
		s.mu.Lock()
		x, y, w, h := s.showX, s.showY, s.showW, s.showH
		focusable := s.focusable
		s.mu.Unlock()

		style := win.GetWindowLong(hwnd, win.GWL_EXSTYLE)
		if focusable {
			style &^= win.WS_EX_NOACTIVATE
		} else {
			style |= win.WS_EX_NOACTIVATE
		}
		win.SetWindowLong(hwnd, win.GWL_EXSTYLE, style)

		flags := uint32(win.SWP_SHOWWINDOW)
		if !focusable {
			flags |= win.SWP_NOACTIVATE
		}
		win.SetWindowPos(hwnd, win.HWND_TOPMOST, x, y, w, h, flags)
		return 0
	case wmAppSetText:
		win.InvalidateRect(hwnd, nil, true)
		return 0
	case wmAppHide:
		win.ShowWindow(hwnd, win.SW_HIDE)
		return 0
	case win.WM_PAINT:
		var ps win.PAINTSTRUCT
		hdc := win.BeginPaint(hwnd, &ps)
		s.mu.Lock()
		text := s.text
		s.mu.Unlock()
		var rc win.RECT
		win.GetClientRect(hwnd, &rc)
		rc.Left += 8
		rc.Top += 8
		rc.Right -= 8
		rc.Bottom -= 8
		if text != "" {
			u16, _ := syscall.UTF16FromString(text)
			win.DrawTextEx(hdc, &u16[0], int32(len(u16)-1), &rc,
				win.DT_LEFT|win.DT_WORDBREAK|win.DT_NOPREFIX, nil)
		}
		win.EndPaint(hwnd, &ps)
		return 0
	case win.WM_KEYDOWN:
		if wParam == win.VK_ESCAPE {
			win.ShowWindow(hwnd, win.SW_HIDE)
		}
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

func (s *winSurface) show(x, y, w, h int, focusable bool) {
	s.mu.Lock()
	s.showX, s.showY, s.showW, s.showH = int32(x), int32(y), int32(w), int32(h)
	s.focusable = focusable
	s.mu.Unlock()
	win.PostMessage(s.hwnd, wmAppShow, 0, 0)
}

func (s *winSurface) setText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	win.PostMessage(s.hwnd, wmAppSetText, 0, 0)
}

func (s *winSurface) hide() {
	win.PostMessage(s.hwnd, wmAppHide, 0, 0)
}

// pointerPos — позиция указателя как якорь попапа (прокси позиции каретки).
func pointerPos() (int, int) {
	var pt win.POINT
	win.GetCursorPos(&pt)
	return int(pt.X), int(pt.Y)
}

// workArea — рабочая область основного монитора.
func workArea() Rect {
	var rc win.RECT
	if !win.SystemParametersInfo(spiGetWorkArea, 0, unsafe.Pointer(&rc), 0) {
		return Rect{X: 0, Y: 0, W: 1920, H: 1080}
	}
	return Rect{X: int(rc.Left), Y: int(rc.Top), W: int(rc.Right - rc.Left), H: int(rc.Bottom - rc.Top)}
}
