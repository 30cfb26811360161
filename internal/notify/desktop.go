package notify

import "github.com/gen2brain/beeep"

// DesktopSink shows notifications through the OS notification center.
type DesktopSink struct {
	appName string
}

// NewDesktopSink creates a desktop sink labeled with appName.
func NewDesktopSink(appName string) *DesktopSink {
	beeep.AppName = appName
	return &DesktopSink{appName: appName}
}

// Show displays the notification.
func (d *DesktopSink) Show(n Notification) error {
	return beeep.Notify(n.Title, n.Body, n.Icon)
}
