// Package bridge forwards run events to an embedding host as
// (topic, JSON payload) pairs.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/dyike/CortexConsensus/internal/events"
)

type NotifyFunc func(topic string, payload string)

var (
	mu   sync.RWMutex
	impl NotifyFunc
)

// SetNotifyImpl installs the process-wide host callback.
func SetNotifyImpl(f NotifyFunc) {
	mu.Lock()
	impl = f
	mu.Unlock()
}

// Notify sends one payload to the installed callback, if any.
func Notify(topic string, payload string) {
	mu.RLock()
	f := impl
	mu.RUnlock()
	if f != nil {
		f(topic, payload)
	}
}

// Notifier is an events.Emitter that serialises each event and hands it to
// fn, or to the process-wide callback when fn is nil.
type Notifier struct {
	fn NotifyFunc
}

func NewNotifier(fn NotifyFunc) *Notifier {
	return &Notifier{fn: fn}
}

func (n *Notifier) Emit(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"topic": e.Topic, "error": err.Error()})
	}
	if n != nil && n.fn != nil {
		n.fn(e.Topic, string(payload))
		return
	}
	Notify(e.Topic, string(payload))
}
