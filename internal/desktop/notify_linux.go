//go:build linux

package desktop

import (
	"os/exec"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

func showNotificationOS(app string, msg Message) bool {
	args := []string{"-a", appName(app)}
	if msg.Urgency != "" {
		args = append(args, "-u", msg.Urgency)
	}
	args = append(args, msg.Title, msg.Body)

	cmd := exec.Command("notify-send", args...)
	if err := cmd.Run(); err != nil {
		log.Warn("notification failed", logging.KeyError, err)
		return false
	}
	return true
}
