//go:build !windows

package hotkeys

import (
	"context"
	"errors"
)

func (r *Registry) listen(context.Context) error {
	return errors.New("hotkeys: global hotkeys unavailable on this platform")
}
