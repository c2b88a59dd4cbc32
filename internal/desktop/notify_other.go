//go:build !linux && !darwin && !windows

package desktop

func showNotificationOS(string, Message) bool {
	return false
}
