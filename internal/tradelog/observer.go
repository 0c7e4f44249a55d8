package tradelog

import "time"

// Observer receives transport events, typically to update metrics.
type Observer interface {
	Reconnect(role string)
	Stopped(role string)
	Sent(latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) Reconnect(string)   {}
func (nopObserver) Stopped(string)     {}
func (nopObserver) Sent(time.Duration) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
