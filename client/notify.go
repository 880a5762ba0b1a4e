package client

// NotificationKind identifies a user-visible session event
type NotificationKind string

const (
	// NotifyAuthInProgress reports a sign-in rejected because another is pending
	NotifyAuthInProgress NotificationKind = "auth_in_progress"

	// NotifyRateLimited reports an attempt rejected by a rate limiter
	NotifyRateLimited NotificationKind = "rate_limited"

	// NotifySessionExpired reports a forced sign-out after a failed refresh.
	// It is delivered before the transition to Unauthenticated.
	NotifySessionExpired NotificationKind = "session_expired"

	// NotifyStateChanged reports every state transition
	NotifyStateChanged NotificationKind = "state_changed"
)

// Notification is a non-blocking signal to the UI layer
type Notification struct {
	Kind    NotificationKind
	Message string

	// From and To are set for NotifyStateChanged
	From State
	To   State
}

// Notifier receives session notifications. Notify is never called with the
// manager's lock held, so implementations may call back into the Manager.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(n Notification)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}
