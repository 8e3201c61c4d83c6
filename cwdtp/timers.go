package cwdtp

import "time"

// oneShotTimer is a cancellable one-shot timer used for the handshake, ping,
// and close timeouts (§3, §9: "timers are first class and cancellable").
type oneShotTimer struct {
	t *time.Timer
}

func newOneShotTimer(d time.Duration) *oneShotTimer {
	if d <= 0 {
		d = time.Hour
	}
	return &oneShotTimer{t: time.NewTimer(d)}
}

// C returns the timer's fire channel, or nil if the timer itself is nil so it
// can be used directly in a select without a guard.
func (o *oneShotTimer) C() <-chan time.Time {
	if o == nil {
		return nil
	}
	return o.t.C
}

func (o *oneShotTimer) Stop() {
	if o == nil {
		return
	}
	if !o.t.Stop() {
		select {
		case <-o.t.C:
		default:
		}
	}
}

func (o *oneShotTimer) Reset(d time.Duration) {
	o.Stop()
	o.t.Reset(d)
}
