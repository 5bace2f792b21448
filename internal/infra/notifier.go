package infra

import (
	"os/exec"

	"go.uber.org/zap"

	"lmout/internal/domain"
)

// DesktopNotifier implements domain.Notifier via notify-send.
type DesktopNotifier struct {
	appName string
	logger  *zap.Logger
}

// NewDesktopNotifier creates a notify-send backed notifier.
func NewDesktopNotifier(appName string, logger *zap.Logger) domain.Notifier {
	return &DesktopNotifier{appName: appName, logger: logger}
}

// Send delivers a desktop notification. Best effort: delivery failures
// are logged and swallowed.
func (n *DesktopNotifier) Send(summary, body string) {
	n.logger.Info("sending notification",
		zap.String("summary", summary),
		zap.String("body", body))

	cmd := exec.Command("notify-send", summary, body, "-a", n.appName)
	if err := cmd.Run(); err != nil {
		n.logger.Warn("failed to send notification", zap.Error(err))
	}
}

var _ domain.Notifier = (*DesktopNotifier)(nil)
