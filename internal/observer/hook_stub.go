//go:build !windows

package observer

import "errors"

func newKeyHook() (keyHook, error) {
	return nil, errors.New("observer: keyboard hook unavailable on this platform")
}

func foregroundContext() (string, string) { return "", "" }
