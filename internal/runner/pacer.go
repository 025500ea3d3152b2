package runner

import "time"

// pacer fires on a fixed grid start, start+period, start+2×period, ...
//
// Ticks that were missed because the receiver fell behind are skipped rather than
// delivered in a burst: after a late receive the next tick is realigned to the first
// grid point that is not in the past.
type pacer struct {
	next   time.Time
	period time.Duration
	timer  *time.Timer
}

func newPacer(start time.Time, period time.Duration) *pacer {
	return &pacer{
		next:   start,
		period: period,
		timer:  time.NewTimer(time.Until(start)),
	}
}

func (p *pacer) C() <-chan time.Time {
	return p.timer.C
}

// advance schedules the tick following the one just received.
func (p *pacer) advance(now time.Time) {
	p.next = p.next.Add(p.period)
	if behind := now.Sub(p.next); behind > 0 {
		missed := (behind + p.period - 1) / p.period
		p.next = p.next.Add(missed * p.period)
	}
	p.timer.Reset(time.Until(p.next))
}

func (p *pacer) stop() {
	p.timer.Stop()
}
