package manager

// WakeChannel interrupts a blocked EventLoop so it rebuilds its watch set.
//
// The channel holds at most one pending signal; any number of Signal calls
// made while one is pending collapse into a single wakeup.
type WakeChannel struct {
	ch chan struct{}
}

func NewWakeChannel() *WakeChannel {
	return &WakeChannel{ch: make(chan struct{}, 1)}
}

// Signal never blocks and is safe from any goroutine.
func (w *WakeChannel) Signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Drain discards a pending signal, if any.
func (w *WakeChannel) Drain() {
	select {
	case <-w.ch:
	default:
	}
}

// C is the receive side watched by the loop.
func (w *WakeChannel) C() <-chan struct{} { return w.ch }
