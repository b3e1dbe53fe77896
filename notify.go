package transitboards

import "log"

// Notification kinds raised by the coordinator.
const (
	NotifyRealtimeDown = "realtime_unavailable"
	NotifyNoValidFeed  = "no_valid_feed"
)

// Notifier receives degradation signals. Notify fires when a condition
// starts, Dismiss when it recovers. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(kind, message string)
	Dismiss(kind string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(kind, message string) { log.Printf("notify [%s]: %s", kind, message) }
func (LogNotifier) Dismiss(kind string)         { log.Printf("notify [%s]: cleared", kind) }
