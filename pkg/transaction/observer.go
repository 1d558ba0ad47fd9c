package transaction

import "github.com/entrhq/forge-patch/pkg/types"

// Observer receives transaction events. Notify is called synchronously on
// the committing goroutine and must not block for long.
type Observer interface {
	Notify(event types.PatchEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(event types.PatchEvent)

// Notify calls f(event).
func (f ObserverFunc) Notify(event types.PatchEvent) {
	f(event)
}
