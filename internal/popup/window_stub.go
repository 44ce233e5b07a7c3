//go:build !windows

package popup

import "errors"

func newSurface(bool) (surface, error) {
	return nil, errors.New("popup: overlay surface unavailable on this platform")
}

func pointerPos() (int, int) { return 0, 0 }

func workArea() Rect { return Rect{W: 1920, H: 1080} }
