package notify

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Toaster показывает системные уведомления, когда попап недоступен
// (инжекция провалилась, супервизор сдался, ключ не задан).
type Toaster struct {
	logger  *zap.SugaredLogger
	enabled bool
}

func NewToaster(logger *zap.SugaredLogger, enabled bool) *Toaster {
	return &Toaster{logger: logger, enabled: enabled}
}

// Alert показывает уведомление; ошибки только логируются — уведомление
// не должно ронять основной поток.
func (t *Toaster) Alert(title, message string) {
	if !t.enabled {
		return
	}
	if len(message) > 400 {
		message = message[:400] + "..."
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		t.logger.Warnw("Desktop notification failed", "error", err)
	}
}
