//go:build windows

package desktop

import (
	"os/exec"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

func showNotificationOS(app string, msg Message) bool {
	toastXML := `<toast><visual><binding template="ToastText02">` +
		`<text id="1">` + xmlEscape(msg.Title) + `</text>` +
		`<text id="2">` + xmlEscape(msg.Body) + `</text>` +
		`</binding></visual></toast>`

	// XML and app id travel as parameters, never interpolated into the script.
	script := `param([string]$xml, [string]$app)
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
$doc.LoadXml($xml)
$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier($app).Show($toast)`

	cmd := exec.Command("powershell", "-NoProfile", "-Command", script, "-xml", toastXML, "-app", appName(app))
	if err := cmd.Run(); err != nil {
		log.Warn("notification failed", logging.KeyError, err)
		return false
	}
	return true
}
