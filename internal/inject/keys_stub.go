//go:build !windows

package inject

import "errors"

var errNoPlatform = errors.New("inject: key synthesis unavailable on this platform")

func pasteKeystroke() error { return errNoPlatform }

type Typer struct{}

func NewTyper(int, *Humanizer) *Typer { return &Typer{} }

func (t *Typer) Backspaces(int) error { return errNoPlatform }

func (t *Typer) TypeText(string, bool) error { return errNoPlatform }
