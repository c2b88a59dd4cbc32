//go:build darwin

package desktop

import (
	"os/exec"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

func showNotificationOS(app string, msg Message) bool {
	script := `display notification "` + escapeAppleScript(msg.Body) +
		`" with title "` + escapeAppleScript(msg.Title) +
		`" subtitle "` + escapeAppleScript(appName(app)) + `"`
	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		log.Warn("notification failed", logging.KeyError, err)
		return false
	}
	return true
}
